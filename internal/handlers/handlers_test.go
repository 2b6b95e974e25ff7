package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"loom-build/internal/ai"
	"loom-build/internal/orchestrator"
	"loom-build/internal/runs"
	"loom-build/internal/tools"
)

func newTestServer(t *testing.T, expoToken string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()

	dsn := filepath.Join(t.TempDir(), "api.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&runs.BackgroundRun{}, &runs.SupervisorEvent{}))

	// No providers configured: the chain resolves every call to the local
	// fallback, which is enough to exercise the API surface.
	chain := ai.NewFallbackChain(nil, ai.NewHealthBoard(), log)

	breakers := orchestrator.NewBreakerRegistry(orchestrator.BreakerThresholds{
		FuelBudget:    1000,
		MaxRetries:    8,
		MaxSessionAge: time.Hour,
	})
	executor := orchestrator.NewExecutor(chain, tools.NewRegistry(), breakers, 12, log)
	router := orchestrator.NewRouter(nil, 4, log)
	flow := orchestrator.NewActionFlow(executor, time.Millisecond, log)
	coordinator := orchestrator.NewParallelCoordinator(executor, router, log)
	audit := orchestrator.NewAuditPipeline(executor, log)

	store := runs.NewStore(db)
	events := runs.NewEventLog(store, log)
	scheduler := runs.NewScheduler(store, events, nil, runs.SchedulerConfig{
		DefaultMaxAttempts: 3,
		RetryBackoff:       time.Minute,
	}, log)
	release := runs.NewReleaseWorker(expoToken, nil, log)
	for _, action := range []string{runs.ActionWeb, runs.ActionAndroid, runs.ActionIOS} {
		scheduler.RegisterWorker(action, release)
	}

	h := New(router, flow, coordinator, audit, scheduler, chain, log)
	return NewRouter(h, log)
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestPreflightEndpoint(t *testing.T) {
	engine := newTestServer(t, "")

	w := doJSON(t, engine, http.MethodPost, "/api/orchestrate/preflight", gin.H{"description": "build me a facebook"})
	require.Equal(t, http.StatusOK, w.Code)

	var res orchestrator.PreflightResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.False(t, res.Feasible)
	assert.Zero(t, res.EstimatedFuel.Min)
	assert.Zero(t, res.EstimatedFuel.Max)
}

func TestOrchestrateRejectsDenylist(t *testing.T) {
	engine := newTestServer(t, "")

	w := doJSON(t, engine, http.MethodPost, "/api/orchestrate", gin.H{"description": "build me a facebook"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestOrchestrateValidation(t *testing.T) {
	engine := newTestServer(t, "")

	w := doJSON(t, engine, http.MethodPost, "/api/orchestrate", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	engine := newTestServer(t, "")

	// Enqueue twice with one key: idempotent.
	body := gin.H{"action": "android", "androidTrack": "beta", "maxAttempts": 3, "idempotencyKey": "rel-42"}
	w := doJSON(t, engine, http.MethodPost, "/api/runs", body)
	require.Equal(t, http.StatusOK, w.Code)
	var first runs.BackgroundRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))

	w = doJSON(t, engine, http.MethodPost, "/api/runs", body)
	require.Equal(t, http.StatusOK, w.Code)
	var second runs.BackgroundRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Equal(t, first.ID, second.ID)

	// Dispatch without EXPO_TOKEN: terminal configuration failure.
	w = doJSON(t, engine, http.MethodPost, "/api/runs/dispatch", gin.H{"operation": "dispatch", "limit": 1})
	require.Equal(t, http.StatusOK, w.Code)
	var dispatched struct {
		Dispatched int                    `json:"dispatched"`
		Runs       []runs.DispatchOutcome `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dispatched))
	require.Equal(t, 1, dispatched.Dispatched)
	assert.Equal(t, runs.StatusFailed, dispatched.Runs[0].Status)
	assert.Contains(t, dispatched.Runs[0].Error, "EXPO_TOKEN")
	assert.False(t, dispatched.Runs[0].Retried)

	// Fetch the run with its events.
	w = doJSON(t, engine, http.MethodGet, "/api/runs/"+first.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDispatchInvalidOperation(t *testing.T) {
	engine := newTestServer(t, "")

	w := doJSON(t, engine, http.MethodPost, "/api/runs/dispatch", gin.H{"operation": "explode"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnqueueUnknownAction(t *testing.T) {
	engine := newTestServer(t, "")

	w := doJSON(t, engine, http.MethodPost, "/api/runs", gin.H{"action": "teleport"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRunNotFound(t *testing.T) {
	engine := newTestServer(t, "")

	w := doJSON(t, engine, http.MethodGet, "/api/runs/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	engine := newTestServer(t, "")

	w := doJSON(t, engine, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}
