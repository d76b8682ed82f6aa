package dr

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HarborGuard/continuity/internal/events"
)

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memStorage keeps backup blobs in a map
type memStorage struct {
	mu       sync.Mutex
	objects  map[string][]byte
	writeErr error
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (s *memStorage) Write(_ context.Context, path string, data io.Reader) (*WriteResult, error) {
	if s.writeErr != nil {
		return nil, s.writeErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.objects[path] = raw
	s.mu.Unlock()

	sum := sha256.Sum256(raw)
	return &WriteResult{
		SizeBytes: int64(len(raw)),
		Checksum:  hex.EncodeToString(sum[:]),
		Location:  path,
	}, nil
}

func (s *memStorage) Read(_ context.Context, location string) (io.ReadCloser, error) {
	s.mu.Lock()
	raw, ok := s.objects[location]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("object not found: %s", location)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (s *memStorage) Delete(_ context.Context, location string) error {
	s.mu.Lock()
	delete(s.objects, location)
	s.mu.Unlock()
	return nil
}

// stubSource serves a fixed payload for every scope
type stubSource struct {
	payload string
	openErr error
}

func (s *stubSource) Open(_ context.Context, _ string) (io.ReadCloser, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return io.NopCloser(strings.NewReader(s.payload)), nil
}

// recordingController records every operation and can be told to fail
// specific targets
type recordingController struct {
	mu     sync.Mutex
	calls  []string
	failOn map[string]error
}

func newRecordingController() *recordingController {
	return &recordingController{failOn: make(map[string]error)}
}

func (c *recordingController) record(op, target string) (*ControlResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, op+":"+target)
	c.mu.Unlock()
	if err, ok := c.failOn[target]; ok {
		return nil, err
	}
	return &ControlResult{Success: true, Detail: "ok"}, nil
}

func (c *recordingController) FailoverService(_ context.Context, service string) (*ControlResult, error) {
	return c.record("failover-service", service)
}

func (c *recordingController) FailoverInfrastructure(_ context.Context, component string) (*ControlResult, error) {
	return c.record("failover-infrastructure", component)
}

func (c *recordingController) MigrateData(_ context.Context, dataset string) (*ControlResult, error) {
	return c.record("migrate-data", dataset)
}

func (c *recordingController) Validate(_ context.Context, check string) (*ControlResult, error) {
	return c.record("validate", check)
}

func (c *recordingController) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// recordingNotifier captures sent messages
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	sendErr  error
}

func (n *recordingNotifier) Send(_ context.Context, message string, _ []string) error {
	n.mu.Lock()
	n.messages = append(n.messages, message)
	n.mu.Unlock()
	return n.sendErr
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

// testPlan returns a valid three-phase database failover plan
func testPlan() *RecoveryPlan {
	return &RecoveryPlan{
		Name:     "database-failover",
		Type:     PlanDisasterRecovery,
		Priority: PriorityCritical,
		Services: []string{"postgres-primary"},
		Infrastructure: Infrastructure{
			PrimaryRegion: "us-east-1",
			BackupRegion:  "us-west-2",
		},
		Procedures: map[Phase][]Step{
			PhaseDetection: {
				{Name: "check-primary", Type: StepValidation, Critical: true, Target: "postgres-primary"},
			},
			PhaseFailover: {
				{Name: "promote-replica", Type: StepServiceFailover, Critical: true, Target: "postgres-replica"},
			},
			PhaseRecovery: {
				{Name: "restore-data", Type: StepDataMigration, Target: "postgres-replica"},
			},
		},
	}
}

// testEngine bundles a fully wired set of engine components with
// fake collaborators
type testEngine struct {
	clock      *fakeClock
	storage    *memStorage
	controller *recordingController
	notifier   *recordingNotifier
	bus        *events.SimpleBus
	registry   *PlanRegistry
	executor   *BackupExecutor
	phases     *PhaseExecutor
	locks      *planLocks
	failover   *FailoverOrchestrator
	recovery   *RecoveryOrchestrator
	tester     *PlanTester
}

func newTestEngine() *testEngine {
	clock := newFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	stor := newMemStorage()
	controller := newRecordingController()
	notifier := &recordingNotifier{}
	bus := events.NewSimpleBus()
	logger := zap.NewNop()

	registry, err := NewPlanRegistry(newMemPlanStore(), clock, bus, logger)
	if err != nil {
		panic(err)
	}

	executor := NewBackupExecutor(stor, &stubSource{payload: "backup-data"}, clock, bus, logger)
	runner := NewStepRunner(controller, notifier, clock, logger)
	phases := NewPhaseExecutor(runner, clock, logger)
	locks := newPlanLocks()

	return &testEngine{
		clock:      clock,
		storage:    stor,
		controller: controller,
		notifier:   notifier,
		bus:        bus,
		registry:   registry,
		executor:   executor,
		phases:     phases,
		locks:      locks,
		failover:   NewFailoverOrchestrator(registry, phases, locks, clock, bus, nil, logger),
		recovery:   NewRecoveryOrchestrator(registry, executor, phases, locks, FixedEstimator{Duration: 30 * time.Minute}, clock, bus, nil, logger),
		tester:     NewPlanTester(registry, phases, clock, bus, nil, logger),
	}
}

// memPlanStore is an in-package PlanStore fake
type memPlanStore struct {
	mu        sync.Mutex
	plans     map[string]*RecoveryPlan
	deleteErr error
}

func newMemPlanStore() *memPlanStore {
	return &memPlanStore{plans: make(map[string]*RecoveryPlan)}
}

func (s *memPlanStore) Save(_ context.Context, plan *RecoveryPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[plan.ID] = plan
	return nil
}

func (s *memPlanStore) LoadAll(_ context.Context) ([]*RecoveryPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*RecoveryPlan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p)
	}
	return out, nil
}

func (s *memPlanStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.plans, id)
	return nil
}
