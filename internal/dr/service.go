package dr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HarborGuard/continuity/internal/events"
)

// ServiceConfig holds tunables for the DR service
type ServiceConfig struct {
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
	StalenessThreshold  time.Duration `yaml:"staleness_threshold"`
	StepTimeout         time.Duration `yaml:"step_timeout"`
}

// DefaultServiceConfig returns sensible defaults
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		MaintenanceInterval: time.Hour,
		StalenessThreshold:  90 * 24 * time.Hour,
		StepTimeout:         defaultStepTimeout,
	}
}

// Service is the top-level disaster recovery façade. It wires the
// registry, scheduler and orchestrators, runs the periodic maintenance
// loop, and is the single entry point hosts should use.
type Service struct {
	config    *ServiceConfig
	registry  *PlanRegistry
	scheduler *BackupScheduler
	executor  *BackupExecutor
	failover  *FailoverOrchestrator
	recovery  *RecoveryOrchestrator
	tester    *PlanTester
	metrics   *Metrics
	clock     Clock
	logger    *zap.Logger
	bus       events.Bus

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// Dependencies are the external collaborators the engine drives
type Dependencies struct {
	Storage  BackupStorage
	Source   DataSource
	Infra    InfrastructureController
	Notifier NotificationSender
	Store    PlanStore
	Clock    Clock
	Bus      events.Bus

	// Optional
	Estimator Estimator
	Metrics   *Metrics
	Logger    *zap.Logger
}

// NewService wires a complete DR engine from its collaborators
func NewService(config *ServiceConfig, deps Dependencies) (*Service, error) {
	if config == nil {
		config = DefaultServiceConfig()
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("plan store required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := deps.Bus
	if bus == nil {
		bus = events.NewSimpleBus()
	}
	metrics := deps.Metrics

	registry, err := NewPlanRegistry(deps.Store, clock, bus, logger)
	if err != nil {
		return nil, err
	}

	executor := NewBackupExecutor(deps.Storage, deps.Source, clock, bus, logger)
	scheduler := NewBackupScheduler(executor, clock, logger)

	runner := NewStepRunner(deps.Infra, deps.Notifier, clock, logger)
	if config.StepTimeout > 0 {
		runner.SetTimeout(config.StepTimeout)
	}
	phases := NewPhaseExecutor(runner, clock, logger)

	locks := newPlanLocks()
	failover := NewFailoverOrchestrator(registry, phases, locks, clock, bus, metrics, logger)
	recovery := NewRecoveryOrchestrator(registry, executor, phases, locks, deps.Estimator, clock, bus, metrics, logger)
	tester := NewPlanTester(registry, phases, clock, bus, metrics, logger)

	return &Service{
		config:    config,
		registry:  registry,
		scheduler: scheduler,
		executor:  executor,
		failover:  failover,
		recovery:  recovery,
		tester:    tester,
		metrics:   metrics,
		clock:     clock,
		logger:    logger,
		bus:       bus,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start loads persisted plans and begins the maintenance loop
func (s *Service) Start(ctx context.Context) error {
	if err := s.registry.Load(ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	s.logger.Info("disaster recovery service started",
		zap.Duration("maintenance_interval", s.config.MaintenanceInterval))
	return nil
}

// Stop halts the maintenance loop and waits for it to drain
func (s *Service) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := s.config.MaintenanceInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.MaintenanceTick(ctx)
		}
	}
}

// MaintenanceTick runs one maintenance cycle: due-backup check, backup
// retention cleanup, plan staleness audit and orphaned-chunk sweep. A
// failure in one sub-step must not abort the others.
func (s *Service) MaintenanceTick(ctx context.Context) {
	now := s.clock.Now()

	s.runProtected("backup tick", func() {
		s.scheduler.Tick(ctx, now)
	})

	s.runProtected("backup cleanup", func() {
		inFlight := s.recovery.InFlightBackups()
		s.scheduler.Cleanup(ctx, now, func(id string) bool { return inFlight[id] })
	})

	s.runProtected("staleness audit", func() {
		s.auditStaleness(ctx, now)
	})

	s.runProtected("chunk sweep", func() {
		s.executor.SweepChunks(ctx)
	})

	if s.metrics != nil {
		s.metrics.SetGauges(s.registry.Count(), len(s.scheduler.List()))
	}
}

func (s *Service) runProtected(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("maintenance sub-step panicked",
				zap.String("step", name),
				zap.Any("panic", r))
		}
	}()
	fn()
}

// auditStaleness raises a warning signal for plans untested beyond the
// staleness threshold. A warning, not an error.
func (s *Service) auditStaleness(ctx context.Context, now time.Time) {
	threshold := s.config.StalenessThreshold
	if threshold <= 0 {
		threshold = 90 * 24 * time.Hour
	}

	for _, plan := range s.registry.List() {
		age := now.Sub(plan.CreatedAt)
		if plan.LastTested != nil {
			age = now.Sub(*plan.LastTested)
		}
		if age <= threshold {
			continue
		}

		s.logger.Warn("recovery plan untested beyond threshold",
			zap.String("plan_id", plan.ID),
			zap.String("name", plan.Name),
			zap.Duration("age", age))
		_ = s.bus.Publish(ctx, events.Event{
			ID:        uuid.NewString(),
			Type:      events.PlanStale,
			PlanID:    plan.ID,
			Timestamp: now,
			Message:   fmt.Sprintf("plan %q untested for %s", plan.Name, age.Round(time.Hour)),
		})
	}
}

// --- Plan CRUD ---

func (s *Service) CreatePlan(ctx context.Context, plan *RecoveryPlan) (*RecoveryPlan, error) {
	created, err := s.registry.Create(ctx, plan)
	if err == nil && s.metrics != nil {
		s.metrics.SetGauges(s.registry.Count(), len(s.scheduler.List()))
	}
	return created, err
}

func (s *Service) UpdatePlan(ctx context.Context, plan *RecoveryPlan) (*RecoveryPlan, error) {
	return s.registry.Update(ctx, plan)
}

func (s *Service) DeletePlan(ctx context.Context, id string) error {
	err := s.registry.Delete(ctx, id)
	if err == nil && s.metrics != nil {
		s.metrics.SetGauges(s.registry.Count(), len(s.scheduler.List()))
	}
	return err
}

func (s *Service) GetPlan(id string) (*RecoveryPlan, error) { return s.registry.Get(id) }
func (s *Service) ListPlans() []*RecoveryPlan               { return s.registry.List() }

// ValidatePlanDocument checks a raw JSON plan payload against the
// plan schema before decoding
func (s *Service) ValidatePlanDocument(raw []byte) error {
	return s.registry.ValidateDocument(raw)
}

// --- Backups ---

// CreateBackup runs an ad-hoc backup immediately
func (s *Service) CreateBackup(ctx context.Context, req BackupRequest) *Backup {
	backup := s.executor.Execute(ctx, req)
	if s.metrics != nil {
		s.metrics.RecordBackup(string(backup.Status))
	}
	return backup
}

func (s *Service) GetBackup(id string) (*Backup, error) { return s.executor.Get(id) }
func (s *Service) ListBackups() []*Backup               { return s.executor.List() }

func (s *Service) VerifyBackup(ctx context.Context, id string) (bool, error) {
	return s.executor.Verify(ctx, id)
}

func (s *Service) ScheduleBackupJob(spec JobSpec) (*BackupJob, error) {
	job, err := s.scheduler.Schedule(spec)
	if err == nil && s.metrics != nil {
		s.metrics.SetGauges(s.registry.Count(), len(s.scheduler.List()))
	}
	return job, err
}

func (s *Service) UnscheduleBackupJob(id string) error { return s.scheduler.Unschedule(id) }
func (s *Service) ListBackupJobs() []*BackupJob        { return s.scheduler.List() }

// --- Workflows ---

func (s *Service) InitiateFailover(ctx context.Context, planID, reason string) (*FailoverEvent, error) {
	return s.failover.Initiate(ctx, planID, reason)
}

func (s *Service) ExecuteRecovery(ctx context.Context, planID, backupID, targetEnvironment string) (*RecoveryEvent, error) {
	return s.recovery.Execute(ctx, planID, backupID, targetEnvironment)
}

func (s *Service) TestPlan(ctx context.Context, planID string) (*TestEvent, error) {
	return s.tester.Test(ctx, planID)
}

// Subscribe registers an observer for engine lifecycle events
func (s *Service) Subscribe(pattern string, handler events.Handler) error {
	return s.bus.Subscribe(pattern, handler)
}

// --- Read-only views ---

// State is a point-in-time snapshot of the engine
type State struct {
	Plans          []*RecoveryPlan  `json:"plans"`
	BackupJobs     []*BackupJob     `json:"backup_jobs"`
	Backups        []*Backup        `json:"backups"`
	FailoverEvents []*FailoverEvent `json:"failover_events"`
	RecoveryEvents []*RecoveryEvent `json:"recovery_events"`
}

// GetState returns the full engine state with bounded histories
func (s *Service) GetState() *State {
	return &State{
		Plans:          s.registry.List(),
		BackupJobs:     s.scheduler.List(),
		Backups:        s.executor.List(),
		FailoverEvents: s.failover.History(),
		RecoveryEvents: s.recovery.History(),
	}
}

// Stats aggregates engine counters
type Stats struct {
	TotalRecoveryPlans      int        `json:"total_recovery_plans"`
	ActiveBackupJobs        int        `json:"active_backup_jobs"`
	TotalBackups            int        `json:"total_backups"`
	CompletedBackups        int        `json:"completed_backups"`
	FailedBackups           int        `json:"failed_backups"`
	TotalFailovers          int        `json:"total_failovers"`
	FailedFailovers         int        `json:"failed_failovers"`
	TotalRecoveries         int        `json:"total_recoveries"`
	TotalTests              int        `json:"total_tests"`
	LastBackupTime          *time.Time `json:"last_backup_time,omitempty"`
	AvailableRecoveryPoints int        `json:"available_recovery_points"`
}

// GetMetrics returns aggregate counters for dashboards
func (s *Service) GetMetrics() *Stats {
	stats := &Stats{
		TotalRecoveryPlans: s.registry.Count(),
	}

	for _, job := range s.scheduler.List() {
		if job.Enabled {
			stats.ActiveBackupJobs++
		}
	}

	for _, b := range s.executor.List() {
		stats.TotalBackups++
		switch b.Status {
		case BackupCompleted:
			stats.CompletedBackups++
			stats.AvailableRecoveryPoints++
			if stats.LastBackupTime == nil || b.CompletedAt.After(*stats.LastBackupTime) {
				stats.LastBackupTime = b.CompletedAt
			}
		case BackupFailed:
			stats.FailedBackups++
		}
	}

	for _, e := range s.failover.History() {
		stats.TotalFailovers++
		if e.Status == EventFailed {
			stats.FailedFailovers++
		}
	}
	stats.TotalRecoveries = len(s.recovery.History())

	for _, p := range s.registry.List() {
		stats.TotalTests += len(p.TestResults)
	}

	return stats
}
