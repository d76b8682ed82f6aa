package dr

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/HarborGuard/continuity/internal/events"
)

// planDocumentSchema validates raw JSON plan payloads before they are
// decoded. Semantic checks (required phases, step types) run afterwards
// in validatePlan.
const planDocumentSchema = `{
	"type": "object",
	"required": ["name", "procedures"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"type": {"enum": ["disaster-recovery", "maintenance", "testing"]},
		"priority": {"enum": ["critical", "high", "medium", "low"]},
		"services": {"type": "array", "items": {"type": "string"}},
		"procedures": {
			"type": "object",
			"additionalProperties": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["name", "type"],
					"properties": {
						"name": {"type": "string", "minLength": 1},
						"type": {"type": "string"},
						"critical": {"type": "boolean"}
					}
				}
			}
		}
	}
}`

// PlanRegistry owns the set of recovery plan definitions. All mutation
// goes through Create/Update/Delete so validation and persistence stay
// in lockstep; other components only read by id.
type PlanRegistry struct {
	store  PlanStore
	clock  Clock
	logger *zap.Logger
	bus    events.Bus

	plans  map[string]*RecoveryPlan
	schema *gojsonschema.Schema
	mu     sync.RWMutex
}

// NewPlanRegistry creates a registry backed by the given store
func NewPlanRegistry(store PlanStore, clock Clock, bus events.Bus, logger *zap.Logger) (*PlanRegistry, error) {
	if store == nil {
		return nil, fmt.Errorf("store required")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(planDocumentSchema))
	if err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}

	return &PlanRegistry{
		store:  store,
		clock:  clock,
		logger: logger,
		bus:    bus,
		plans:  make(map[string]*RecoveryPlan),
		schema: schema,
	}, nil
}

// Load populates the registry from the plan store
func (r *PlanRegistry) Load(ctx context.Context) error {
	plans, err := r.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load plans: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range plans {
		r.plans[p.ID] = p
	}
	r.logger.Info("recovery plans loaded", zap.Int("count", len(plans)))
	return nil
}

// ValidateDocument checks a raw JSON plan payload against the plan schema
func (r *PlanRegistry) ValidateDocument(raw []byte) error {
	result, err := r.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return ErrValidation("", fmt.Sprintf("invalid JSON document: %v", err))
	}
	if !result.Valid() {
		first := result.Errors()[0]
		return ErrValidation(first.Field(), first.Description())
	}
	return nil
}

// Create validates and stores a new plan. Validation failure leaves
// prior state untouched.
func (r *PlanRegistry) Create(ctx context.Context, plan *RecoveryPlan) (*RecoveryPlan, error) {
	if plan == nil {
		return nil, ErrValidation("", "plan required")
	}
	if err := validatePlan(plan); err != nil {
		return nil, err
	}

	now := r.clock.Now()
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.Type == "" {
		plan.Type = PlanDisasterRecovery
	}
	if plan.Priority == "" {
		plan.Priority = PriorityMedium
	}
	plan.CreatedAt = now
	plan.UpdatedAt = now

	if err := r.store.Save(ctx, plan); err != nil {
		return nil, fmt.Errorf("persist plan %s: %w", plan.ID, err)
	}

	r.mu.Lock()
	r.plans[plan.ID] = plan
	r.mu.Unlock()

	r.publish(ctx, events.PlanCreated, plan.ID)
	r.logger.Info("recovery plan created",
		zap.String("plan_id", plan.ID),
		zap.String("name", plan.Name))
	return plan, nil
}

// Update re-validates and replaces an existing plan, bumping UpdatedAt.
// LastTested and TestResults are carried over from the stored plan.
func (r *PlanRegistry) Update(ctx context.Context, plan *RecoveryPlan) (*RecoveryPlan, error) {
	if plan == nil || plan.ID == "" {
		return nil, ErrValidation("id", "plan id required")
	}

	r.mu.RLock()
	existing, ok := r.plans[plan.ID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrPlanNotFound(plan.ID)
	}

	if err := validatePlan(plan); err != nil {
		return nil, err
	}

	plan.CreatedAt = existing.CreatedAt
	plan.LastTested = existing.LastTested
	plan.TestResults = existing.TestResults
	plan.UpdatedAt = r.clock.Now()

	if err := r.store.Save(ctx, plan); err != nil {
		return nil, fmt.Errorf("persist plan %s: %w", plan.ID, err)
	}

	r.mu.Lock()
	r.plans[plan.ID] = plan
	r.mu.Unlock()

	r.publish(ctx, events.PlanUpdated, plan.ID)
	return plan, nil
}

// Delete removes a plan. Hard removal: event histories keep the plan id
// string so audit records survive.
func (r *PlanRegistry) Delete(ctx context.Context, id string) error {
	r.mu.RLock()
	_, ok := r.plans[id]
	r.mu.RUnlock()
	if !ok {
		return ErrPlanNotFound(id)
	}

	// Store first, so a failed delete leaves memory and store agreeing
	if err := r.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete plan %s: %w", id, err)
	}

	r.mu.Lock()
	delete(r.plans, id)
	r.mu.Unlock()

	r.publish(ctx, events.PlanDeleted, id)
	r.logger.Info("recovery plan deleted", zap.String("plan_id", id))
	return nil
}

// Get returns a plan by id
func (r *PlanRegistry) Get(id string) (*RecoveryPlan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plan, ok := r.plans[id]
	if !ok {
		return nil, ErrPlanNotFound(id)
	}
	return plan, nil
}

// List returns all plans sorted by name
func (r *PlanRegistry) List() []*RecoveryPlan {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plans := make([]*RecoveryPlan, 0, len(r.plans))
	for _, p := range r.plans {
		plans = append(plans, p)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].Name < plans[j].Name })
	return plans
}

// Count returns the number of registered plans
func (r *PlanRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plans)
}

// RecordTest appends a test event to the plan's history and updates
// the last-tested marker. History is bounded, newest first.
func (r *PlanRegistry) RecordTest(ctx context.Context, planID string, event *TestEvent) error {
	r.mu.Lock()
	existing, ok := r.plans[planID]
	if !ok {
		r.mu.Unlock()
		return ErrPlanNotFound(planID)
	}

	// Replace the stored record instead of mutating it; pointers
	// already handed to readers keep seeing a stable snapshot.
	plan := *existing
	tested := event.StartedAt
	plan.LastTested = &tested
	plan.TestResults = append([]*TestEvent{event}, existing.TestResults...)
	if len(plan.TestResults) > maxHistory {
		plan.TestResults = plan.TestResults[:maxHistory]
	}
	r.plans[planID] = &plan
	r.mu.Unlock()

	if err := r.store.Save(ctx, &plan); err != nil {
		return fmt.Errorf("persist test result for plan %s: %w", planID, err)
	}
	return nil
}

func (r *PlanRegistry) publish(ctx context.Context, kind events.EventType, planID string) {
	if r.bus == nil {
		return
	}
	_ = r.bus.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      kind,
		PlanID:    planID,
		Timestamp: r.clock.Now(),
	})
}

// validatePlan enforces the structural invariants: a name, required
// non-empty phases, known step types, and in-phase dependency references.
func validatePlan(plan *RecoveryPlan) error {
	if plan.Name == "" {
		return ErrValidation("name", "required")
	}
	if plan.Procedures == nil {
		return ErrValidation("procedures", "required")
	}

	for _, phase := range RequiredPhases {
		steps, ok := plan.Procedures[phase]
		if !ok {
			return ErrValidation(fmt.Sprintf("procedures.%s", phase), "phase missing")
		}
		if len(steps) == 0 {
			return ErrValidation(fmt.Sprintf("procedures.%s", phase), "phase has no steps")
		}
	}

	for phase, steps := range plan.Procedures {
		if !knownPhase(phase) {
			return ErrValidation("procedures", fmt.Sprintf("unknown phase %q", phase))
		}
		seen := make(map[string]bool, len(steps))
		for i, step := range steps {
			if step.Name == "" {
				return ErrValidation(fmt.Sprintf("procedures.%s[%d].name", phase, i), "required")
			}
			if !knownStepType(step.Type) {
				return ErrValidation(
					fmt.Sprintf("procedures.%s[%d].type", phase, i),
					fmt.Sprintf("unknown step type %q", step.Type))
			}
			for _, dep := range step.DependsOn {
				if !seen[dep] {
					return ErrValidation(
						fmt.Sprintf("procedures.%s[%d].depends_on", phase, i),
						fmt.Sprintf("dependency %q must name an earlier step in the same phase", dep))
				}
			}
			seen[step.Name] = true
		}
	}
	return nil
}

func knownPhase(p Phase) bool {
	for _, known := range PhaseOrder {
		if p == known {
			return true
		}
	}
	return false
}

func knownStepType(t StepType) bool {
	switch t {
	case StepNotification, StepServiceFailover, StepInfrastructureFailover,
		StepDataMigration, StepValidation:
		return true
	}
	return false
}
