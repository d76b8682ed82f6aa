package dr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HarborGuard/continuity/internal/events"
)

func newTestService(t *testing.T) (*Service, *fakeClock, *recordingController) {
	t.Helper()

	clock := newFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	controller := newRecordingController()

	svc, err := NewService(
		&ServiceConfig{
			MaintenanceInterval: time.Hour,
			StalenessThreshold:  90 * 24 * time.Hour,
			StepTimeout:         10 * time.Second,
		},
		Dependencies{
			Storage:  newMemStorage(),
			Source:   &stubSource{payload: "backup-data"},
			Infra:    controller,
			Notifier: &recordingNotifier{},
			Store:    newMemPlanStore(),
			Clock:    clock,
			Bus:      events.NewSimpleBus(),
			Logger:   zap.NewNop(),
		})
	require.NoError(t, err)
	return svc, clock, controller
}

func TestService_EndToEndFailover(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	plan, err := svc.CreatePlan(ctx, testPlan())
	require.NoError(t, err)

	event, err := svc.InitiateFailover(ctx, plan.ID, "primary unreachable")
	require.NoError(t, err)
	assert.Equal(t, EventCompleted, event.Status)
	assert.Len(t, event.Phases, 3)

	stats := svc.GetMetrics()
	assert.Equal(t, 1, stats.TotalRecoveryPlans)
	assert.Equal(t, 1, stats.TotalFailovers)
	assert.Zero(t, stats.FailedFailovers)
}

func TestService_EndToEndRecovery(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	plan, err := svc.CreatePlan(ctx, testPlan())
	require.NoError(t, err)

	backup := svc.CreateBackup(ctx, BackupRequest{Name: "nightly", Scope: "db"})
	require.Equal(t, BackupCompleted, backup.Status)

	ok, err := svc.VerifyBackup(ctx, backup.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	event, err := svc.ExecuteRecovery(ctx, plan.ID, backup.ID, "staging")
	require.NoError(t, err)
	assert.Equal(t, EventCompleted, event.Status)

	stats := svc.GetMetrics()
	assert.Equal(t, 1, stats.TotalRecoveries)
	assert.Equal(t, 1, stats.AvailableRecoveryPoints)
	require.NotNil(t, stats.LastBackupTime)
}

func TestService_RequiresStore(t *testing.T) {
	_, err := NewService(nil, Dependencies{})
	assert.Error(t, err)
}

func TestService_MaintenanceTick(t *testing.T) {
	ctx := context.Background()
	svc, clock, _ := newTestService(t)

	t.Run("runs due jobs and cleans expired backups", func(t *testing.T) {
		_, err := svc.ScheduleBackupJob(JobSpec{
			Name: "nightly", Scope: "db", Frequency: FrequencyDaily, Time: "02:00",
			Retention: time.Hour, Enabled: true,
		})
		require.NoError(t, err)

		clock.Advance(24 * time.Hour)
		svc.MaintenanceTick(ctx)
		require.Len(t, svc.ListBackups(), 1)

		// Past retention on the next cycle
		clock.Advance(25 * time.Hour)
		svc.MaintenanceTick(ctx)

		for _, b := range svc.ListBackups() {
			assert.True(t, clock.Now().Sub(*b.CompletedAt) <= b.Retention,
				"expired backup should have been removed")
		}
	})
}

func TestService_StalenessAudit(t *testing.T) {
	ctx := context.Background()
	svc, clock, _ := newTestService(t)

	_, err := svc.CreatePlan(ctx, testPlan())
	require.NoError(t, err)

	var mu sync.Mutex
	var stale []string
	require.NoError(t, svc.Subscribe(string(events.PlanStale), func(_ context.Context, e events.Event) error {
		mu.Lock()
		stale = append(stale, e.PlanID)
		mu.Unlock()
		return nil
	}))

	// Under the threshold, no signal
	clock.Advance(30 * 24 * time.Hour)
	svc.MaintenanceTick(ctx)

	// Well past the 90 day threshold
	clock.Advance(90 * 24 * time.Hour)
	svc.MaintenanceTick(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(stale) >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestService_GetState(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	plan, err := svc.CreatePlan(ctx, testPlan())
	require.NoError(t, err)
	svc.CreateBackup(ctx, BackupRequest{Name: "b", Scope: "db"})
	_, err = svc.InitiateFailover(ctx, plan.ID, "drill")
	require.NoError(t, err)

	state := svc.GetState()
	assert.Len(t, state.Plans, 1)
	assert.Len(t, state.Backups, 1)
	assert.Len(t, state.FailoverEvents, 1)
	assert.Empty(t, state.RecoveryEvents)
}

func TestService_StartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, _, _ := newTestService(t)
	require.NoError(t, svc.Start(ctx))
	svc.Stop()
	// Stop is idempotent
	svc.Stop()
}

func TestService_TestPlanCountsInStats(t *testing.T) {
	ctx := context.Background()
	svc, _, controller := newTestService(t)

	plan, err := svc.CreatePlan(ctx, testPlan())
	require.NoError(t, err)

	event, err := svc.TestPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.True(t, event.Passed)
	assert.Zero(t, controller.callCount())

	assert.Equal(t, 1, svc.GetMetrics().TotalTests)
}
