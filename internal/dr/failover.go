package dr

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HarborGuard/continuity/internal/events"
)

// defaultStepEstimate is assumed for steps without an explicit
// estimated duration when projecting completion time
const defaultStepEstimate = 60 * time.Second

// FailoverOrchestrator runs all phases of a plan's procedures in the
// fixed phase order for a failover event.
type FailoverOrchestrator struct {
	registry *PlanRegistry
	phases   *PhaseExecutor
	locks    *planLocks
	clock    Clock
	logger   *zap.Logger
	bus      events.Bus
	metrics  *Metrics

	history []*FailoverEvent
	mu      sync.RWMutex
}

// NewFailoverOrchestrator creates a failover orchestrator. locks may be
// shared with the recovery orchestrator so a plan never runs a failover
// and a recovery concurrently.
func NewFailoverOrchestrator(registry *PlanRegistry, phases *PhaseExecutor, locks *planLocks, clock Clock, bus events.Bus, metrics *Metrics, logger *zap.Logger) *FailoverOrchestrator {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if locks == nil {
		locks = newPlanLocks()
	}
	return &FailoverOrchestrator{
		registry: registry,
		phases:   phases,
		locks:    locks,
		clock:    clock,
		logger:   logger,
		bus:      bus,
		metrics:  metrics,
		history:  make([]*FailoverEvent, 0, maxHistory),
	}
}

// Initiate runs a full failover for the plan. Plan resolution failures
// and concurrent-execution conflicts surface as errors; step and phase
// failures are captured in the returned event so the audit record is
// always complete.
func (fo *FailoverOrchestrator) Initiate(ctx context.Context, planID, reason string) (*FailoverEvent, error) {
	plan, err := fo.registry.Get(planID)
	if err != nil {
		return nil, err
	}

	if !fo.locks.tryAcquire(planID) {
		return nil, ConflictError{PlanID: planID}
	}
	defer fo.locks.release(planID)

	now := fo.clock.Now()
	event := &FailoverEvent{
		ID:                  uuid.NewString(),
		PlanID:              planID,
		Reason:              reason,
		Status:              EventInitiated,
		StartedAt:           now,
		EstimatedCompletion: now.Add(estimateTotal(plan)),
	}

	fo.logger.Info("failover initiated",
		zap.String("plan_id", planID),
		zap.String("event_id", event.ID),
		zap.String("reason", reason))

	fo.runPhases(ctx, event, plan)

	done := fo.clock.Now()
	event.CompletedAt = &done

	fo.record(event)
	fo.emit(ctx, event)
	if fo.metrics != nil {
		fo.metrics.RecordFailover(string(event.Status), done.Sub(event.StartedAt))
	}
	return event, nil
}

func (fo *FailoverOrchestrator) runPhases(ctx context.Context, event *FailoverEvent, plan *RecoveryPlan) {
	allCompleted := true

	for _, phase := range PhaseOrder {
		steps, defined := plan.Procedures[phase]
		if !defined {
			continue
		}

		result := fo.phases.Run(ctx, phase, steps, plan)
		event.Phases = append(event.Phases, result)

		if result.Status != EventCompleted {
			allCompleted = false
			// Detection gates everything: if the failure cannot even be
			// confirmed, running failover steps would do damage
			if phase == PhaseDetection {
				fo.logger.Warn("detection phase failed, halting failover",
					zap.String("plan_id", plan.ID),
					zap.String("event_id", event.ID))
				event.Status = EventFailed
				return
			}
		}
	}

	if allCompleted {
		event.Status = EventCompleted
	} else {
		event.Status = EventFailed
	}
}

// History returns the bounded failover history, newest first
func (fo *FailoverOrchestrator) History() []*FailoverEvent {
	fo.mu.RLock()
	defer fo.mu.RUnlock()

	out := make([]*FailoverEvent, len(fo.history))
	copy(out, fo.history)
	return out
}

func (fo *FailoverOrchestrator) record(event *FailoverEvent) {
	fo.mu.Lock()
	defer fo.mu.Unlock()

	fo.history = append([]*FailoverEvent{event}, fo.history...)
	if len(fo.history) > maxHistory {
		fo.history = fo.history[:maxHistory]
	}
}

func (fo *FailoverOrchestrator) emit(ctx context.Context, event *FailoverEvent) {
	if fo.bus == nil {
		return
	}
	kind := events.FailoverCompleted
	if event.Status == EventFailed {
		kind = events.FailoverFailed
	}
	_ = fo.bus.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      kind,
		PlanID:    event.PlanID,
		Timestamp: fo.clock.Now(),
		Message:   event.Reason,
		Metadata:  map[string]string{"event_id": event.ID},
	})
}

// estimateTotal sums step estimates across all defined phases,
// assuming a default per step where unspecified
func estimateTotal(plan *RecoveryPlan) time.Duration {
	var total time.Duration
	for _, steps := range plan.Procedures {
		for _, step := range steps {
			if step.EstimatedDuration > 0 {
				total += step.EstimatedDuration
			} else {
				total += defaultStepEstimate
			}
		}
	}
	return total
}
