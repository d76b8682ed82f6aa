package dr

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// PhaseExecutor runs an ordered list of steps for one phase. Execution
// is strictly sequential: later steps may depend on side effects of
// earlier ones, and ordering guarantees are part of the contract.
//
// Critical policy: a failed critical step aborts the remaining steps of
// its own phase, in both live and dry-run modes. Remaining steps are
// recorded as skipped. The phase status is failed whenever any executed
// step failed.
type PhaseExecutor struct {
	runner *StepRunner
	clock  Clock
	logger *zap.Logger
}

// NewPhaseExecutor creates a phase executor
func NewPhaseExecutor(runner *StepRunner, clock Clock, logger *zap.Logger) *PhaseExecutor {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PhaseExecutor{runner: runner, clock: clock, logger: logger}
}

// Run executes the phase's steps live
func (pe *PhaseExecutor) Run(ctx context.Context, phase Phase, steps []Step, plan *RecoveryPlan) *PhaseResult {
	return pe.run(ctx, phase, steps, plan, false)
}

// RunDryRun executes the phase's steps against dry-run collaborators
func (pe *PhaseExecutor) RunDryRun(ctx context.Context, phase Phase, steps []Step, plan *RecoveryPlan) *PhaseResult {
	return pe.run(ctx, phase, steps, plan, true)
}

func (pe *PhaseExecutor) run(ctx context.Context, phase Phase, steps []Step, plan *RecoveryPlan, dry bool) *PhaseResult {
	result := &PhaseResult{
		Name:      phase,
		StartedAt: pe.clock.Now(),
		Status:    EventCompleted,
		Steps:     make([]*StepResult, 0, len(steps)),
	}

	completed := make(map[string]bool, len(steps))

	for _, step := range steps {
		if result.Aborted {
			result.Steps = append(result.Steps, skippedResult(step, "phase aborted by earlier critical failure", pe.clock))
			continue
		}

		if dep, ok := unmetDependency(step, completed); ok {
			result.Steps = append(result.Steps, skippedResult(step, fmt.Sprintf("dependency %q did not complete", dep), pe.clock))
			continue
		}

		var sr *StepResult
		if dry {
			sr = pe.runner.RunDryRun(ctx, step, plan)
		} else {
			sr = pe.runner.Run(ctx, step, plan)
		}
		result.Steps = append(result.Steps, sr)

		if sr.Success {
			completed[step.Name] = true
			continue
		}

		result.Status = EventFailed
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", step.Name, sr.Error))
		if step.Critical {
			result.Aborted = true
			pe.logger.Warn("critical step failed, aborting phase",
				zap.String("phase", string(phase)),
				zap.String("step", step.Name))
		}
	}

	result.CompletedAt = pe.clock.Now()
	return result
}

// unmetDependency returns the first named dependency that has not
// completed, if any. Skipped steps do not fail the phase by themselves.
func unmetDependency(step Step, completed map[string]bool) (string, bool) {
	for _, dep := range step.DependsOn {
		if !completed[dep] {
			return dep, true
		}
	}
	return "", false
}

func skippedResult(step Step, reason string, clock Clock) *StepResult {
	return &StepResult{
		Name:      step.Name,
		Type:      step.Type,
		Skipped:   true,
		Detail:    reason,
		Timestamp: clock.Now(),
	}
}
