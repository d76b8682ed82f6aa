package dr

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxJobHistory bounds the backup-id history kept per job
const maxJobHistory = 20

// BackupScheduler owns the set of recurring backup job definitions.
// On each tick it runs every enabled job that has come due and
// recomputes the job's next run.
type BackupScheduler struct {
	executor *BackupExecutor
	clock    Clock
	logger   *zap.Logger

	jobs map[string]*BackupJob
	mu   sync.RWMutex
}

// NewBackupScheduler creates a backup scheduler
func NewBackupScheduler(executor *BackupExecutor, clock Clock, logger *zap.Logger) *BackupScheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackupScheduler{
		executor: executor,
		clock:    clock,
		logger:   logger,
		jobs:     make(map[string]*BackupJob),
	}
}

// Schedule validates a job spec, computes its initial next run, and
// stores the job
func (bs *BackupScheduler) Schedule(spec JobSpec) (*BackupJob, error) {
	if spec.Name == "" {
		return nil, ErrValidation("name", "required")
	}
	switch spec.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
	case "":
		return nil, ErrValidation("frequency", "required")
	default:
		return nil, ErrValidation("frequency", "must be daily, weekly or monthly")
	}
	if spec.Time == "" {
		return nil, ErrValidation("time", "required")
	}
	if _, _, err := ParseClock(spec.Time); err != nil {
		return nil, ErrValidation("time", err.Error())
	}

	now := bs.clock.Now()
	job := &BackupJob{
		ID:        uuid.NewString(),
		Name:      spec.Name,
		Type:      spec.Type,
		Scope:     spec.Scope,
		Frequency: spec.Frequency,
		Time:      spec.Time,
		DayOfWeek: spec.DayOfWeek,
		Retention: spec.Retention,
		Enabled:   spec.Enabled,
		CreatedAt: now,
		NextRun: NextRun(Schedule{
			Frequency: spec.Frequency,
			Time:      spec.Time,
			DayOfWeek: spec.DayOfWeek,
		}, now),
	}
	if job.Type == "" {
		job.Type = BackupFull
	}
	if job.Retention <= 0 {
		job.Retention = 30 * 24 * time.Hour
	}

	bs.mu.Lock()
	bs.jobs[job.ID] = job
	bs.mu.Unlock()

	bs.logger.Info("backup job scheduled",
		zap.String("job_id", job.ID),
		zap.String("name", job.Name),
		zap.Time("next_run", job.NextRun))
	return job, nil
}

// Unschedule removes a job
func (bs *BackupScheduler) Unschedule(id string) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if _, ok := bs.jobs[id]; !ok {
		return ErrJobNotFound(id)
	}
	delete(bs.jobs, id)
	return nil
}

// Get returns a job by id
func (bs *BackupScheduler) Get(id string) (*BackupJob, error) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	job, ok := bs.jobs[id]
	if !ok {
		return nil, ErrJobNotFound(id)
	}
	return job, nil
}

// List returns all jobs sorted by name
func (bs *BackupScheduler) List() []*BackupJob {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	jobs := make([]*BackupJob, 0, len(bs.jobs))
	for _, j := range bs.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

// Tick runs every enabled job whose next run is due. Jobs are
// processed independently: one job's failure never blocks the others.
func (bs *BackupScheduler) Tick(ctx context.Context, now time.Time) {
	bs.mu.RLock()
	var due []*BackupJob
	for _, job := range bs.jobs {
		if job.Enabled && !job.NextRun.After(now) {
			due = append(due, job)
		}
	}
	bs.mu.RUnlock()

	for _, job := range due {
		bs.runJob(ctx, job, now)
	}
}

func (bs *BackupScheduler) runJob(ctx context.Context, job *BackupJob, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			bs.logger.Error("backup job panicked",
				zap.String("job_id", job.ID),
				zap.Any("panic", r))
		}
	}()

	backup := bs.executor.Execute(ctx, BackupRequest{
		Name:      job.Name,
		Type:      job.Type,
		Scope:     job.Scope,
		Retention: job.Retention,
		Metadata:  map[string]string{"job_id": job.ID},
	})

	bs.mu.Lock()
	ran := now
	job.LastRun = &ran
	job.NextRun = NextRun(Schedule{
		Frequency: job.Frequency,
		Time:      job.Time,
		DayOfWeek: job.DayOfWeek,
	}, now)
	job.History = append([]string{backup.ID}, job.History...)
	if len(job.History) > maxJobHistory {
		job.History = job.History[:maxJobHistory]
	}
	bs.mu.Unlock()

	if backup.Status == BackupFailed {
		bs.logger.Warn("scheduled backup failed",
			zap.String("job_id", job.ID),
			zap.String("backup_id", backup.ID),
			zap.String("error", backup.Error))
	}
}

// Cleanup removes backups past their individual retention windows.
// keep marks backups that must survive (e.g. referenced by an
// in-flight recovery).
func (bs *BackupScheduler) Cleanup(ctx context.Context, now time.Time, keep func(id string) bool) int {
	return bs.executor.RemoveExpired(ctx, now, keep)
}
