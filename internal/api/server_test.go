package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HarborGuard/continuity/internal/config"
	"github.com/HarborGuard/continuity/internal/dr"
	"github.com/HarborGuard/continuity/internal/events"
	"github.com/HarborGuard/continuity/internal/infra"
	"github.com/HarborGuard/continuity/internal/store"
)

type stubStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *stubStorage) Write(_ context.Context, path string, data io.Reader) (*dr.WriteResult, error) {
	raw, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.objects[path] = raw
	s.mu.Unlock()
	return &dr.WriteResult{SizeBytes: int64(len(raw)), Checksum: "stub", Location: path}, nil
}

func (s *stubStorage) Read(_ context.Context, location string) (io.ReadCloser, error) {
	s.mu.Lock()
	raw, ok := s.objects[location]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("not found: %s", location)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (s *stubStorage) Delete(_ context.Context, location string) error {
	s.mu.Lock()
	delete(s.objects, location)
	s.mu.Unlock()
	return nil
}

type stubSource struct{}

func (stubSource) Open(_ context.Context, _ string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("data")), nil
}

type stubNotifier struct{}

func (stubNotifier) Send(_ context.Context, _ string, _ []string) error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()

	logger := zap.NewNop()
	metrics := dr.NewMetrics()
	service, err := dr.NewService(nil, dr.Dependencies{
		Storage:  &stubStorage{objects: make(map[string][]byte)},
		Source:   stubSource{},
		Infra:    infra.NewSimulatedController(logger),
		Notifier: stubNotifier{},
		Store:    store.NewMemoryStore(),
		Bus:      events.NewSimpleBus(),
		Metrics:  metrics,
		Logger:   logger,
	})
	require.NoError(t, err)

	cfg := config.Default()
	return NewServer(cfg, service, metrics, logger)
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func planDocument() map[string]interface{} {
	step := func(name, typ, target string, critical bool) map[string]interface{} {
		return map[string]interface{}{"name": name, "type": typ, "target": target, "critical": critical}
	}
	return map[string]interface{}{
		"name":     "database-failover",
		"type":     "disaster-recovery",
		"priority": "critical",
		"services": []string{"postgres-primary"},
		"procedures": map[string]interface{}{
			"detection": []interface{}{step("check-primary", "validation", "postgres-primary", true)},
			"failover":  []interface{}{step("promote-replica", "service-failover", "postgres-replica", true)},
			"recovery":  []interface{}{step("restore-data", "data-migration", "postgres-replica", false)},
		},
	}
}

func createPlan(t *testing.T, s *Server) string {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/api/v1/plans", planDocument())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var plan dr.RecoveryPlan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	return plan.ID
}

func TestServer_PlanCRUD(t *testing.T) {
	s := newTestServer(t)

	t.Run("create", func(t *testing.T) {
		id := createPlan(t, s)
		assert.NotEmpty(t, id)
	})

	t.Run("create rejects invalid document", func(t *testing.T) {
		doc := planDocument()
		delete(doc, "name")
		rec := doJSON(t, s, http.MethodPost, "/api/v1/plans", doc)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("create rejects missing required phase", func(t *testing.T) {
		doc := planDocument()
		doc["procedures"] = map[string]interface{}{
			"detection": doc["procedures"].(map[string]interface{})["detection"],
		}
		rec := doJSON(t, s, http.MethodPost, "/api/v1/plans", doc)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get", func(t *testing.T) {
		id := createPlan(t, s)
		rec := doJSON(t, s, http.MethodGet, "/api/v1/plans/"+id, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("get missing", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/plans/ghost", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("update", func(t *testing.T) {
		id := createPlan(t, s)
		doc := planDocument()
		doc["description"] = "revised"
		rec := doJSON(t, s, http.MethodPut, "/api/v1/plans/"+id, doc)
		require.Equal(t, http.StatusOK, rec.Code)

		var plan dr.RecoveryPlan
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
		assert.Equal(t, "revised", plan.Description)
	})

	t.Run("update rejects invalid document", func(t *testing.T) {
		id := createPlan(t, s)
		doc := planDocument()
		delete(doc, "name")
		rec := doJSON(t, s, http.MethodPut, "/api/v1/plans/"+id, doc)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		id := createPlan(t, s)
		rec := doJSON(t, s, http.MethodDelete, "/api/v1/plans/"+id, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = doJSON(t, s, http.MethodDelete, "/api/v1/plans/"+id, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("list", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/plans", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "plans")
	})
}

func TestServer_Workflows(t *testing.T) {
	s := newTestServer(t)
	id := createPlan(t, s)

	t.Run("failover", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/plans/"+id+"/failover",
			map[string]string{"reason": "primary down"})
		require.Equal(t, http.StatusOK, rec.Code)

		var event dr.FailoverEvent
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &event))
		assert.Equal(t, dr.EventCompleted, event.Status)
		assert.Equal(t, "primary down", event.Reason)
	})

	t.Run("failover on missing plan", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/plans/ghost/failover", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("test plan", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/plans/"+id+"/test", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var event dr.TestEvent
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &event))
		assert.True(t, event.Passed)
	})

	t.Run("recovery from backup", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/backups",
			map[string]string{"name": "nightly", "scope": "db"})
		require.Equal(t, http.StatusCreated, rec.Code)

		var backup dr.Backup
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &backup))
		require.Equal(t, dr.BackupCompleted, backup.Status)

		rec = doJSON(t, s, http.MethodPost, "/api/v1/plans/"+id+"/recovery",
			map[string]string{"backup_id": backup.ID, "target_environment": "staging"})
		require.Equal(t, http.StatusOK, rec.Code)

		var event dr.RecoveryEvent
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &event))
		assert.Equal(t, dr.EventCompleted, event.Status)
	})

	t.Run("recovery missing backup", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/plans/"+id+"/recovery",
			map[string]string{"backup_id": "ghost", "target_environment": "staging"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_Backups(t *testing.T) {
	s := newTestServer(t)

	t.Run("create requires name and scope", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/backups", map[string]string{"name": "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("verify", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/backups",
			map[string]string{"name": "nightly", "scope": "db"})
		require.Equal(t, http.StatusCreated, rec.Code)

		var backup dr.Backup
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &backup))

		rec = doJSON(t, s, http.MethodPost, "/api/v1/backups/"+backup.ID+"/verify", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"verified":true`)
	})

	t.Run("job lifecycle", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/backup-jobs", map[string]interface{}{
			"name": "nightly", "scope": "db", "frequency": "daily", "time": "02:00", "enabled": true,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var job dr.BackupJob
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))

		rec = doJSON(t, s, http.MethodDelete, "/api/v1/backup-jobs/"+job.ID, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("job with bad frequency", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/backup-jobs", map[string]interface{}{
			"name": "bad", "scope": "db", "frequency": "hourly", "time": "02:00",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_Conflict(t *testing.T) {
	s := newTestServer(t)
	id := createPlan(t, s)

	// Hold the plan lock through a slow in-flight failover is racy to
	// arrange over HTTP; exercise the mapping directly instead.
	rec := httptest.NewRecorder()
	s.writeDomainError(rec, dr.ConflictError{PlanID: id})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_StateAndStats(t *testing.T) {
	s := newTestServer(t)
	createPlan(t, s)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "plans")

	rec = doJSON(t, s, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats dr.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalRecoveryPlans)
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)

	assert.True(t, rl.Allow("client-a"))
	assert.True(t, rl.Allow("client-a"))
	// Burst exhausted
	assert.False(t, rl.Allow("client-a"))
	// Other clients are unaffected
	assert.True(t, rl.Allow("client-b"))
}
