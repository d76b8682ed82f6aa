package dr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// defaultStepTimeout bounds a single step dispatch; a step that does
// not complete in time is a failure, never left pending
const defaultStepTimeout = 60 * time.Second

// StepRunner executes one workflow step by dispatching to the matching
// collaborator handler, timing it, and capturing success or failure.
// Run never returns an error for handler failures; they become failed
// StepResults so the event record stays complete for audit.
type StepRunner struct {
	infra    InfrastructureController
	notifier NotificationSender
	clock    Clock
	logger   *zap.Logger
	timeout  time.Duration
}

// NewStepRunner creates a step runner backed by real collaborators
func NewStepRunner(infra InfrastructureController, notifier NotificationSender, clock Clock, logger *zap.Logger) *StepRunner {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StepRunner{
		infra:    infra,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
		timeout:  defaultStepTimeout,
	}
}

// SetTimeout overrides the per-step timeout
func (sr *StepRunner) SetTimeout(d time.Duration) {
	if d > 0 {
		sr.timeout = d
	}
}

// Run executes a single live step against the real collaborators
func (sr *StepRunner) Run(ctx context.Context, step Step, plan *RecoveryPlan) *StepResult {
	return sr.run(ctx, step, plan, sr.infra, sr.notifier, false)
}

// RunDryRun executes the same dispatch against stub collaborators that
// check configuration sanity but perform no external effect
func (sr *StepRunner) RunDryRun(ctx context.Context, step Step, plan *RecoveryPlan) *StepResult {
	result := sr.run(ctx, step, plan, dryRunController{}, dryRunNotifier{}, true)
	result.Tested = true
	return result
}

func (sr *StepRunner) run(ctx context.Context, step Step, plan *RecoveryPlan, infra InfrastructureController, notifier NotificationSender, dry bool) (result *StepResult) {
	started := sr.clock.Now()
	result = &StepResult{
		Name:      step.Name,
		Type:      step.Type,
		Timestamp: started,
	}

	// Handler panics become failed results, not crashes
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("step handler panic: %v", r)
			result.Duration = sr.clock.Now().Sub(started)
			sr.logger.Error("step handler panicked",
				zap.String("step", step.Name),
				zap.Any("panic", r))
		}
	}()

	timeout := sr.timeout
	if step.EstimatedDuration > timeout {
		timeout = step.EstimatedDuration
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	detail, err := sr.dispatch(ctx, step, plan, infra, notifier)
	result.Duration = sr.clock.Now().Sub(started)

	switch {
	case err != nil:
		result.Success = false
		result.Error = err.Error()
		if !dry {
			sr.logger.Warn("step failed",
				zap.String("step", step.Name),
				zap.String("type", string(step.Type)),
				zap.Error(err))
		}
	default:
		result.Success = true
		result.Detail = detail
	}
	return result
}

func (sr *StepRunner) dispatch(ctx context.Context, step Step, plan *RecoveryPlan, infra InfrastructureController, notifier NotificationSender) (string, error) {
	target := stepTarget(step, plan)

	switch step.Type {
	case StepNotification:
		if notifier == nil {
			return "", CollaboratorError{Collaborator: "notifier", Err: fmt.Errorf("not configured")}
		}
		msg := fmt.Sprintf("[%s] %s", plan.Name, step.Name)
		if err := notifier.Send(ctx, msg, plan.Services); err != nil {
			return "", CollaboratorError{Collaborator: "notifier", Err: err}
		}
		return "notification sent", nil

	case StepServiceFailover:
		return sr.control(ctx, "infrastructure", func() (*ControlResult, error) {
			return infra.FailoverService(ctx, target)
		})

	case StepInfrastructureFailover:
		return sr.control(ctx, "infrastructure", func() (*ControlResult, error) {
			return infra.FailoverInfrastructure(ctx, target)
		})

	case StepDataMigration:
		return sr.control(ctx, "infrastructure", func() (*ControlResult, error) {
			return infra.MigrateData(ctx, target)
		})

	case StepValidation:
		return sr.control(ctx, "infrastructure", func() (*ControlResult, error) {
			return infra.Validate(ctx, target)
		})

	default:
		// Programmer/config error: fail fast, never silently succeed
		return "", UnknownStepTypeError{Step: step.Name, Type: step.Type}
	}
}

func (sr *StepRunner) control(ctx context.Context, name string, op func() (*ControlResult, error)) (string, error) {
	done := make(chan struct{})
	var res *ControlResult
	var err error
	go func() {
		defer close(done)
		res, err = op()
	}()

	select {
	case <-ctx.Done():
		return "", CollaboratorError{Collaborator: name, Err: ctx.Err()}
	case <-done:
	}

	if err != nil {
		return "", CollaboratorError{Collaborator: name, Err: err}
	}
	if res == nil || !res.Success {
		detail := ""
		if res != nil {
			detail = res.Detail
		}
		return "", CollaboratorError{Collaborator: name, Err: fmt.Errorf("operation unsuccessful: %s", detail)}
	}
	return res.Detail, nil
}

// stepTarget resolves what a step operates on: its explicit target,
// else the plan's first service, else the step name
func stepTarget(step Step, plan *RecoveryPlan) string {
	if step.Target != "" {
		return step.Target
	}
	if step.Type == StepServiceFailover && len(plan.Services) > 0 {
		return plan.Services[0]
	}
	return step.Name
}

// dryRunController asserts configuration sanity without touching
// real infrastructure
type dryRunController struct{}

func (dryRunController) FailoverService(_ context.Context, service string) (*ControlResult, error) {
	return dryCheck("service", service)
}

func (dryRunController) FailoverInfrastructure(_ context.Context, component string) (*ControlResult, error) {
	return dryCheck("component", component)
}

func (dryRunController) MigrateData(_ context.Context, dataset string) (*ControlResult, error) {
	return dryCheck("dataset", dataset)
}

func (dryRunController) Validate(_ context.Context, check string) (*ControlResult, error) {
	return dryCheck("check", check)
}

func dryCheck(kind, target string) (*ControlResult, error) {
	if strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("%s target empty", kind)
	}
	return &ControlResult{Success: true, Detail: fmt.Sprintf("dry run: %s %q ok", kind, target)}, nil
}

type dryRunNotifier struct{}

func (dryRunNotifier) Send(_ context.Context, message string, _ []string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("notification message empty")
	}
	return nil
}
