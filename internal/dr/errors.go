package dr

import "fmt"

// ValidationError indicates a malformed plan or job definition,
// rejected before any mutation
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func ErrValidation(field, message string) error {
	return ValidationError{Field: field, Message: message}
}

// NotFoundError indicates an unknown plan, job or backup id
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func ErrPlanNotFound(id string) error   { return NotFoundError{Kind: "plan", ID: id} }
func ErrJobNotFound(id string) error    { return NotFoundError{Kind: "job", ID: id} }
func ErrBackupNotFound(id string) error { return NotFoundError{Kind: "backup", ID: id} }

// UnknownStepTypeError is a configuration error: a step names a type
// the runner has no handler for
type UnknownStepTypeError struct {
	Step string
	Type StepType
}

func (e UnknownStepTypeError) Error() string {
	return fmt.Sprintf("unknown step type %q for step %q", e.Type, e.Step)
}

// CollaboratorError wraps a failure from an external collaborator
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Collaborator, e.Err)
}

func (e CollaboratorError) Unwrap() error { return e.Err }

// ConflictError indicates an execution is already in flight for a plan
type ConflictError struct {
	PlanID string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("execution already in progress for plan %s", e.PlanID)
}
