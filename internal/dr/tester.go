package dr

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HarborGuard/continuity/internal/events"
)

// PlanTester runs a plan's procedures in non-destructive dry-run mode.
// A critical step failing during a dry run aborts the remaining steps
// of its phase and short-circuits remaining phases: a test exists to
// catch misconfiguration early, so it is stricter than live execution.
type PlanTester struct {
	registry *PlanRegistry
	phases   *PhaseExecutor
	clock    Clock
	logger   *zap.Logger
	bus      events.Bus
	metrics  *Metrics
}

// NewPlanTester creates a plan tester
func NewPlanTester(registry *PlanRegistry, phases *PhaseExecutor, clock Clock, bus events.Bus, metrics *Metrics, logger *zap.Logger) *PlanTester {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlanTester{
		registry: registry,
		phases:   phases,
		clock:    clock,
		logger:   logger,
		bus:      bus,
		metrics:  metrics,
	}
}

// Test dry-runs the plan's procedures, records the result on the plan,
// and updates its last-tested marker
func (pt *PlanTester) Test(ctx context.Context, planID string) (*TestEvent, error) {
	plan, err := pt.registry.Get(planID)
	if err != nil {
		return nil, err
	}

	now := pt.clock.Now()
	event := &TestEvent{
		ID:        uuid.NewString(),
		PlanID:    planID,
		Status:    EventInitiated,
		StartedAt: now,
		Passed:    true,
	}

	for _, phase := range PhaseOrder {
		steps, defined := plan.Procedures[phase]
		if !defined {
			continue
		}

		result := pt.phases.RunDryRun(ctx, phase, steps, plan)
		event.Phases = append(event.Phases, result)

		if result.Status != EventCompleted {
			event.Passed = false
		}
		if result.Aborted {
			// Critical misconfiguration: no point testing further phases
			pt.logger.Warn("dry run aborted on critical step failure",
				zap.String("plan_id", planID),
				zap.String("phase", string(phase)))
			break
		}
	}

	done := pt.clock.Now()
	event.CompletedAt = &done
	if event.Passed {
		event.Status = EventCompleted
	} else {
		event.Status = EventFailed
	}

	if err := pt.registry.RecordTest(ctx, planID, event); err != nil {
		pt.logger.Error("record test result", zap.String("plan_id", planID), zap.Error(err))
	}

	if pt.bus != nil {
		_ = pt.bus.Publish(ctx, events.Event{
			ID:        uuid.NewString(),
			Type:      events.PlanTested,
			PlanID:    planID,
			Timestamp: done,
			Metadata: map[string]string{
				"event_id": event.ID,
				"passed":   boolString(event.Passed),
			},
		})
	}
	if pt.metrics != nil {
		pt.metrics.RecordPlanTest(event.Passed)
	}

	return event, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
