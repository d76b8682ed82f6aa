package dr

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HarborGuard/continuity/internal/events"
)

// RecoveryOrchestrator drives restore-from-backup events. It mirrors
// the failover orchestrator but is parameterized by a specific backup
// and keeps its own bounded history.
type RecoveryOrchestrator struct {
	registry  *PlanRegistry
	backups   *BackupExecutor
	phases    *PhaseExecutor
	locks     *planLocks
	estimator Estimator
	clock     Clock
	logger    *zap.Logger
	bus       events.Bus
	metrics   *Metrics

	history []*RecoveryEvent
	active  map[string]int // backup id -> in-flight recovery count
	mu      sync.RWMutex
}

// NewRecoveryOrchestrator creates a recovery orchestrator
func NewRecoveryOrchestrator(registry *PlanRegistry, backups *BackupExecutor, phases *PhaseExecutor, locks *planLocks, estimator Estimator, clock Clock, bus events.Bus, metrics *Metrics, logger *zap.Logger) *RecoveryOrchestrator {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if locks == nil {
		locks = newPlanLocks()
	}
	if estimator == nil {
		estimator = FixedEstimator{}
	}
	return &RecoveryOrchestrator{
		registry:  registry,
		backups:   backups,
		phases:    phases,
		locks:     locks,
		estimator: estimator,
		clock:     clock,
		logger:    logger,
		bus:       bus,
		metrics:   metrics,
		history:   make([]*RecoveryEvent, 0, maxHistory),
		active:    make(map[string]int),
	}
}

// Execute restores from the given backup using the plan's procedures
func (ro *RecoveryOrchestrator) Execute(ctx context.Context, planID, backupID, targetEnvironment string) (*RecoveryEvent, error) {
	plan, err := ro.registry.Get(planID)
	if err != nil {
		return nil, err
	}

	backup, err := ro.backups.Get(backupID)
	if err != nil {
		return nil, err
	}
	if backup.Status != BackupCompleted {
		return nil, ErrValidation("backup_id", "backup is not completed")
	}

	if !ro.locks.tryAcquire(planID) {
		return nil, ConflictError{PlanID: planID}
	}
	defer ro.locks.release(planID)

	// Pin the backup so retention cleanup cannot remove it mid-restore
	ro.mu.Lock()
	ro.active[backupID]++
	ro.mu.Unlock()
	defer func() {
		ro.mu.Lock()
		if ro.active[backupID]--; ro.active[backupID] <= 0 {
			delete(ro.active, backupID)
		}
		ro.mu.Unlock()
	}()

	now := ro.clock.Now()
	event := &RecoveryEvent{
		ID:                  uuid.NewString(),
		PlanID:              planID,
		BackupID:            backupID,
		TargetEnvironment:   targetEnvironment,
		Status:              EventInitiated,
		StartedAt:           now,
		EstimatedCompletion: now.Add(ro.estimator.EstimateRecovery(backup)),
	}

	ro.logger.Info("recovery initiated",
		zap.String("plan_id", planID),
		zap.String("backup_id", backupID),
		zap.String("target", targetEnvironment))

	allCompleted := true
	for _, phase := range PhaseOrder {
		steps, defined := plan.Procedures[phase]
		if !defined {
			continue
		}

		result := ro.phases.Run(ctx, phase, steps, plan)
		event.Phases = append(event.Phases, result)

		if result.Status != EventCompleted {
			allCompleted = false
			if phase == PhaseDetection {
				event.Status = EventFailed
				break
			}
		}
	}

	if event.Status == EventInitiated {
		if allCompleted {
			event.Status = EventCompleted
		} else {
			event.Status = EventFailed
		}
	}

	done := ro.clock.Now()
	event.CompletedAt = &done

	ro.record(event)
	ro.emit(ctx, event)
	if ro.metrics != nil {
		ro.metrics.RecordRecovery(string(event.Status), done.Sub(event.StartedAt))
	}
	return event, nil
}

// History returns the bounded recovery history, newest first
func (ro *RecoveryOrchestrator) History() []*RecoveryEvent {
	ro.mu.RLock()
	defer ro.mu.RUnlock()

	out := make([]*RecoveryEvent, len(ro.history))
	copy(out, ro.history)
	return out
}

// InFlightBackups returns the ids of backups referenced by recoveries
// that have not reached a terminal status. Cleanup must not remove
// these.
func (ro *RecoveryOrchestrator) InFlightBackups() map[string]bool {
	ro.mu.RLock()
	defer ro.mu.RUnlock()

	inFlight := make(map[string]bool, len(ro.active))
	for id := range ro.active {
		inFlight[id] = true
	}
	return inFlight
}

func (ro *RecoveryOrchestrator) record(event *RecoveryEvent) {
	ro.mu.Lock()
	defer ro.mu.Unlock()

	ro.history = append([]*RecoveryEvent{event}, ro.history...)
	if len(ro.history) > maxHistory {
		ro.history = ro.history[:maxHistory]
	}
}

func (ro *RecoveryOrchestrator) emit(ctx context.Context, event *RecoveryEvent) {
	if ro.bus == nil {
		return
	}
	kind := events.RecoveryCompleted
	if event.Status == EventFailed {
		kind = events.RecoveryFailed
	}
	_ = ro.bus.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      kind,
		PlanID:    event.PlanID,
		Timestamp: ro.clock.Now(),
		Metadata: map[string]string{
			"event_id":  event.ID,
			"backup_id": event.BackupID,
			"target":    event.TargetEnvironment,
		},
	})
}
