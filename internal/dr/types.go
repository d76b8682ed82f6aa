package dr

import (
	"context"
	"io"
	"time"
)

// maxHistory bounds every event history list (newest first)
const maxHistory = 50

// PlanType categorizes recovery plans
type PlanType string

const (
	PlanDisasterRecovery PlanType = "disaster-recovery"
	PlanMaintenance      PlanType = "maintenance"
	PlanTesting          PlanType = "testing"
)

// Priority represents plan criticality
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Phase is one named stage of a plan's procedures
type Phase string

const (
	PhaseDetection    Phase = "detection"
	PhaseNotification Phase = "notification"
	PhaseFailover     Phase = "failover"
	PhaseRecovery     Phase = "recovery"
	PhaseValidation   Phase = "validation"
	PhaseRollback     Phase = "rollback"
)

// PhaseOrder is the fixed execution order for plan procedures.
// Only phases actually defined by a plan are run.
var PhaseOrder = []Phase{
	PhaseDetection,
	PhaseNotification,
	PhaseFailover,
	PhaseRecovery,
	PhaseValidation,
	PhaseRollback,
}

// RequiredPhases must be present and non-empty for a plan to validate
var RequiredPhases = []Phase{PhaseDetection, PhaseFailover, PhaseRecovery}

// StepType identifies the kind of action a step performs
type StepType string

const (
	StepNotification           StepType = "notification"
	StepServiceFailover        StepType = "service-failover"
	StepInfrastructureFailover StepType = "infrastructure-failover"
	StepDataMigration          StepType = "data-migration"
	StepValidation             StepType = "validation"
)

// Step is one atomic action within a phase. Steps are immutable once
// embedded in a plan and never shared across plans.
type Step struct {
	Name              string        `json:"name"`
	Type              StepType      `json:"type"`
	Critical          bool          `json:"critical"`
	Target            string        `json:"target,omitempty"`
	EstimatedDuration time.Duration `json:"estimated_duration,omitempty"`
	DependsOn         []string      `json:"depends_on,omitempty"`
}

// Infrastructure describes the regions a plan covers
type Infrastructure struct {
	PrimaryRegion string   `json:"primary_region"`
	BackupRegion  string   `json:"backup_region"`
	BackupZones   []string `json:"backup_zones,omitempty"`
}

// RecoveryPlan is the unit of disaster-recovery policy
type RecoveryPlan struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	Description       string           `json:"description,omitempty"`
	Type              PlanType         `json:"type"`
	Priority          Priority         `json:"priority"`
	Services          []string         `json:"services"`
	Infrastructure    Infrastructure   `json:"infrastructure"`
	Procedures        map[Phase][]Step `json:"procedures"`
	Dependencies      []string         `json:"dependencies,omitempty"`
	EstimatedDowntime time.Duration    `json:"estimated_downtime,omitempty"`
	LastTested        *time.Time       `json:"last_tested,omitempty"`
	TestResults       []*TestEvent     `json:"test_results,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// BackupType defines the type of backup
type BackupType string

const (
	BackupFull         BackupType = "full"
	BackupIncremental  BackupType = "incremental"
	BackupDifferential BackupType = "differential"
)

// BackupStatus represents backup state
type BackupStatus string

const (
	BackupPending    BackupStatus = "pending"
	BackupInProgress BackupStatus = "in-progress"
	BackupCompleted  BackupStatus = "completed"
	BackupFailed     BackupStatus = "failed"
)

// Frequency is a recurring schedule cadence
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// JobSpec defines a recurring backup job
type JobSpec struct {
	Name      string        `json:"name"`
	Type      BackupType    `json:"type"`
	Scope     string        `json:"scope"`
	Frequency Frequency     `json:"frequency"`
	Time      string        `json:"time"` // HH:MM
	DayOfWeek *time.Weekday `json:"day_of_week,omitempty"`
	Retention time.Duration `json:"retention"`
	Enabled   bool          `json:"enabled"`
}

// BackupJob is a stored recurring schedule. NextRun is derived and
// recomputed after every run.
type BackupJob struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Type      BackupType    `json:"type"`
	Scope     string        `json:"scope"`
	Frequency Frequency     `json:"frequency"`
	Time      string        `json:"time"`
	DayOfWeek *time.Weekday `json:"day_of_week,omitempty"`
	Retention time.Duration `json:"retention"`
	Enabled   bool          `json:"enabled"`
	LastRun   *time.Time    `json:"last_run,omitempty"`
	NextRun   time.Time     `json:"next_run"`
	History   []string      `json:"history,omitempty"` // backup IDs, newest first
	CreatedAt time.Time     `json:"created_at"`
}

// Backup is one point-in-time snapshot, immutable once completed
type Backup struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Type        BackupType        `json:"type"`
	Scope       string            `json:"scope"`
	Target      string            `json:"target,omitempty"`
	Status      BackupStatus      `json:"status"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	SizeBytes   int64             `json:"size_bytes"`
	Checksum    string            `json:"checksum,omitempty"`
	Location    string            `json:"location,omitempty"`
	Retention   time.Duration     `json:"retention"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// EventStatus represents workflow event state
type EventStatus string

const (
	EventInitiated EventStatus = "initiated"
	EventCompleted EventStatus = "completed"
	EventFailed    EventStatus = "failed"
)

// StepResult records the outcome of one step execution
type StepResult struct {
	Name      string        `json:"name"`
	Type      StepType      `json:"type"`
	Success   bool          `json:"success"`
	Skipped   bool          `json:"skipped,omitempty"`
	Tested    bool          `json:"tested,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// PhaseResult aggregates step outcomes for one phase
type PhaseResult struct {
	Name        Phase         `json:"name"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Status      EventStatus   `json:"status"`
	Aborted     bool          `json:"aborted,omitempty"` // critical step failed, remainder skipped
	Steps       []*StepResult `json:"steps"`
	Errors      []string      `json:"errors,omitempty"`
}

// FailoverEvent is the audit record of one failover execution.
// Append-only; never mutated once terminal.
type FailoverEvent struct {
	ID                  string         `json:"id"`
	PlanID              string         `json:"plan_id"`
	Reason              string         `json:"reason"`
	Status              EventStatus    `json:"status"`
	StartedAt           time.Time      `json:"started_at"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
	EstimatedCompletion time.Time      `json:"estimated_completion"`
	Phases              []*PhaseResult `json:"phases"`
}

// RecoveryEvent is the audit record of one restore-from-backup execution
type RecoveryEvent struct {
	ID                  string         `json:"id"`
	PlanID              string         `json:"plan_id"`
	BackupID            string         `json:"backup_id"`
	TargetEnvironment   string         `json:"target_environment"`
	Status              EventStatus    `json:"status"`
	StartedAt           time.Time      `json:"started_at"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
	EstimatedCompletion time.Time      `json:"estimated_completion"`
	Phases              []*PhaseResult `json:"phases"`
}

// TestEvent records one non-destructive dry run of a plan
type TestEvent struct {
	ID          string         `json:"id"`
	PlanID      string         `json:"plan_id"`
	Passed      bool           `json:"passed"`
	Status      EventStatus    `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Phases      []*PhaseResult `json:"phases"`
}

// WriteResult is returned by BackupStorage after a successful write
type WriteResult struct {
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
	Location  string `json:"location"`
}

// BackupStorage durably persists and retrieves backup blobs
type BackupStorage interface {
	Write(ctx context.Context, path string, data io.Reader) (*WriteResult, error)
	Read(ctx context.Context, location string) (io.ReadCloser, error)
	Delete(ctx context.Context, location string) error
}

// IncrementalStorage is implemented by storages that can deduplicate
// incremental and differential backups against prior chunks
type IncrementalStorage interface {
	WriteIncremental(ctx context.Context, scope, path string, data io.Reader) (*WriteResult, error)
}

// DataSource opens the data stream for a backup scope
type DataSource interface {
	Open(ctx context.Context, scope string) (io.ReadCloser, error)
}

// ControlResult is returned by infrastructure operations
type ControlResult struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

// InfrastructureController performs real failover mechanics
type InfrastructureController interface {
	FailoverService(ctx context.Context, service string) (*ControlResult, error)
	FailoverInfrastructure(ctx context.Context, component string) (*ControlResult, error)
	MigrateData(ctx context.Context, dataset string) (*ControlResult, error)
	Validate(ctx context.Context, check string) (*ControlResult, error)
}

// NotificationSender delivers notifications to external channels
type NotificationSender interface {
	Send(ctx context.Context, message string, channels []string) error
}

// PlanStore durably persists recovery plans
type PlanStore interface {
	Save(ctx context.Context, plan *RecoveryPlan) error
	LoadAll(ctx context.Context) ([]*RecoveryPlan, error)
	Delete(ctx context.Context, id string) error
}

// Clock is an injectable time source
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock implementation
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Estimator computes an expected recovery duration for a backup
type Estimator interface {
	EstimateRecovery(backup *Backup) time.Duration
}

// FixedEstimator always returns a constant estimate
type FixedEstimator struct {
	Duration time.Duration
}

func (e FixedEstimator) EstimateRecovery(*Backup) time.Duration {
	if e.Duration <= 0 {
		return 30 * time.Minute
	}
	return e.Duration
}
