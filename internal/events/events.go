package events

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Bus broadcasts lifecycle events to interested collaborators
// (dashboards, alerting pipelines)
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(pattern string, handler Handler) error

	// Replay returns buffered events within a time window
	Replay(from, to time.Time) ([]Event, error)
}

// Event represents one lifecycle change in the DR engine
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	PlanID    string            `json:"plan_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// EventType categorizes events
type EventType string

const (
	PlanCreated       EventType = "plan.created"
	PlanUpdated       EventType = "plan.updated"
	PlanDeleted       EventType = "plan.deleted"
	PlanTested        EventType = "plan.tested"
	PlanStale         EventType = "plan.stale"
	BackupCompleted   EventType = "backup.completed"
	BackupFailed      EventType = "backup.failed"
	FailoverCompleted EventType = "failover.completed"
	FailoverFailed    EventType = "failover.failed"
	RecoveryCompleted EventType = "recovery.completed"
	RecoveryFailed    EventType = "recovery.failed"
)

// Handler processes events
type Handler func(ctx context.Context, event Event) error

// SimpleBus is a basic in-memory implementation with a bounded
// replay buffer
type SimpleBus struct {
	mu        sync.RWMutex
	handlers  map[string][]Handler
	events    []Event
	maxEvents int
}

// NewSimpleBus creates a basic event bus
func NewSimpleBus() *SimpleBus {
	return &SimpleBus{
		handlers:  make(map[string][]Handler),
		events:    make([]Event, 0, 1000),
		maxEvents: 1000,
	}
}

// Publish sends an event to all matching subscribers
func (b *SimpleBus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		b.events = b.events[1:]
	}

	for pattern, handlers := range b.handlers {
		if matchesPattern(string(event.Type), pattern) {
			for _, handler := range handlers {
				go handler(ctx, event) // Async processing
			}
		}
	}

	return nil
}

// Subscribe registers a handler for an event pattern.
// "failover.*" matches all failover events, "*" matches everything.
func (b *SimpleBus) Subscribe(pattern string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[pattern] = append(b.handlers[pattern], handler)
	return nil
}

// Replay returns buffered events within a time window
func (b *SimpleBus) Replay(from, to time.Time) ([]Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, event := range b.events {
		if event.Timestamp.After(from) && event.Timestamp.Before(to) {
			result = append(result, event)
		}
	}

	return result, nil
}

func matchesPattern(eventType, pattern string) bool {
	if pattern == "*" || eventType == pattern {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(eventType, prefix+".")
	}
	return false
}
