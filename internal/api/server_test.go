package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/stroke.report/internal/config"
	"github.com/banshee-data/stroke.report/internal/db"
	"github.com/banshee-data/stroke.report/internal/rally/l6strokes"
	"github.com/banshee-data/stroke.report/internal/rally/progress"
	"github.com/banshee-data/stroke.report/internal/testutil"
	"github.com/banshee-data/stroke.report/internal/timeutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	server *Server
	router *gin.Engine
	store  *db.RunStore
	table  *progress.Table
	clock  *timeutil.MockClock
	db     *db.DB
}

func setupTestServer(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)

	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	table := progress.NewTable(16, time.Hour, clock)
	store := db.NewRunStore(database)
	server := NewServer(config.EmptyTuningConfig(), "", table, store, opts...)
	t.Cleanup(func() {
		server.Close()
		database.Close()
	})
	return &testEnv{server: server, router: server.Router(), store: store, table: table, clock: clock, db: database}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "127.0.0.1:4321"
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// startRun posts a run and waits for it to be persisted.
func (e *testEnv) startRun(t *testing.T, body map[string]any) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/runs", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var created createRunResponse
	testutil.DecodeJSON(t, rec, &created)
	require.NotEmpty(t, created.RunID)
	assert.Equal(t, progress.StatusPending, created.Status)
	e.server.Wait()
	return created.RunID
}

func fullInput() map[string]any {
	return map[string]any{
		"track": testutil.ZigzagTrack(),
		"poses": testutil.SwingPoses(),
		"meta":  testutil.Meta,
	}
}

func TestCreateRunLifecycle(t *testing.T) {
	t.Parallel()
	env := setupTestServer(t)
	runID := env.startRun(t, fullInput())

	rec := env.do(t, http.MethodGet, "/api/runs/"+runID+"/status", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var status statusResponse
	testutil.DecodeJSON(t, rec, &status)
	assert.Equal(t, progress.StatusCompleted, status.Status)
	assert.Empty(t, status.Detail)
	assert.InDelta(t, 1.0, status.Progress, 1e-9)

	rec = env.do(t, http.MethodGet, "/api/runs/"+runID, nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var run db.Run
	testutil.DecodeJSON(t, rec, &run)
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, "heuristic", run.Strategy)
	assert.Equal(t, 5, run.StrokeCount)
	assert.NotEmpty(t, run.ResultJSON)
	assert.Empty(t, run.AuditJSON, "audit only on request")

	rec = env.do(t, http.MethodGet, "/api/runs/"+runID+"?audit=true", nil)
	testutil.DecodeJSON(t, rec, &run)
	assert.NotEmpty(t, run.AuditJSON)

	rec = env.do(t, http.MethodGet, "/api/runs/"+runID+"/strokes", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var strokes struct {
		RunID   string             `json:"run_id"`
		Strokes []l6strokes.Stroke `json:"strokes"`
		Summary l6strokes.Summary  `json:"summary"`
	}
	testutil.DecodeJSON(t, rec, &strokes)
	require.Len(t, strokes.Strokes, 5)
	assert.Equal(t, 5, strokes.Summary.Total)
	var poseMatched int
	for _, s := range strokes.Strokes {
		if s.Provenance.Kind == l6strokes.KindPoseMatched {
			poseMatched++
			assert.Equal(t, 40, s.Peak)
		}
	}
	assert.Equal(t, 1, poseMatched)

	rec = env.do(t, http.MethodGet, "/api/runs/"+runID+"/chart", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Run "+runID)

	rec = env.do(t, http.MethodGet, "/api/runs", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var list struct {
		Runs []db.Run `json:"runs"`
	}
	testutil.DecodeJSON(t, rec, &list)
	require.Len(t, list.Runs, 1)
	assert.Equal(t, runID, list.Runs[0].RunID)
	assert.Empty(t, list.Runs[0].ResultJSON)
}

func TestCreateRunExternalWithoutKeyDegrades(t *testing.T) {
	t.Parallel()
	env := setupTestServer(t)
	body := fullInput()
	delete(body, "poses")
	body["classifier"] = "external"
	runID := env.startRun(t, body)

	run, err := env.store.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, progress.DetailClassificationDegraded, run.Detail)
	assert.Equal(t, "external", run.Strategy)

	rows, err := env.store.ListStrokes(runID)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	for _, row := range rows {
		assert.True(t, row.Fallback)
		assert.Equal(t, "unknown", row.StrokeType)
	}
}

func TestCreateRunNoInputData(t *testing.T) {
	t.Parallel()
	env := setupTestServer(t)
	runID := env.startRun(t, map[string]any{"meta": testutil.Meta})

	rec := env.do(t, http.MethodGet, "/api/runs/"+runID+"/status", nil)
	var status statusResponse
	testutil.DecodeJSON(t, rec, &status)
	assert.Equal(t, progress.StatusFailed, status.Status)
	assert.Equal(t, progress.DetailNoInputData, status.Detail)

	run, err := env.store.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, "failed", run.Status)
	assert.Equal(t, progress.DetailNoInputData, run.Detail)
}

func TestCreateRunParamsOverlay(t *testing.T) {
	t.Parallel()
	env := setupTestServer(t)
	body := fullInput()
	body["params"] = map[string]any{"velocity_threshold": 5000}
	runID := env.startRun(t, body)

	run, err := env.store.GetRun(runID)
	require.NoError(t, err)
	var params config.TuningConfig
	require.NoError(t, json.Unmarshal(run.ParamsJSON, &params))
	assert.Equal(t, 5000.0, params.GetVelocityThreshold())

	rows, err := env.store.ListStrokes(runID)
	require.NoError(t, err)
	for _, row := range rows {
		assert.Zero(t, row.MaxVelocity, "threshold above the swing leaves only trajectory strokes")
	}
}

func TestCreateRunRejectsBadRequests(t *testing.T) {
	t.Parallel()
	env := setupTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", `{"track": [`},
		{"invalid params", map[string]any{"params": map[string]any{"window_ratio": 2}}},
		{"unknown classifier", map[string]any{"classifier": "oracle"}},
		{"bad handedness", map[string]any{"params": map[string]any{"handedness": "both"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/runs", tt.body)
			testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
			var body map[string]string
			testutil.DecodeJSON(t, rec, &body)
			assert.NotEmpty(t, body["error"])
		})
	}

	runs, err := env.store.ListRuns(10)
	require.NoError(t, err)
	assert.Empty(t, runs, "rejected requests are not stored")
}

func TestUnknownRun(t *testing.T) {
	t.Parallel()
	env := setupTestServer(t)
	for _, path := range []string{"/api/runs/nope", "/api/runs/nope/status", "/api/runs/nope/strokes", "/api/runs/nope/chart"} {
		rec := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		var body map[string]string
		testutil.DecodeJSON(t, rec, &body)
		assert.Equal(t, "nope", body["run_id"], path)
	}
}

func TestStatusFallsBackToStoreAfterEviction(t *testing.T) {
	t.Parallel()
	env := setupTestServer(t)
	runID := env.startRun(t, fullInput())

	env.clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, env.table.Prune())
	_, ok := env.table.Get(runID)
	require.False(t, ok)

	rec := env.do(t, http.MethodGet, "/api/runs/"+runID+"/status", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var status statusResponse
	testutil.DecodeJSON(t, rec, &status)
	assert.Equal(t, progress.StatusCompleted, status.Status)
	assert.Equal(t, 7, status.StageIndex)
	assert.InDelta(t, 1.0, status.Progress, 1e-9)
}

func TestChartBeforeRunFinishes(t *testing.T) {
	t.Parallel()
	env := setupTestServer(t)
	require.NoError(t, env.store.InsertRun(&db.Run{RunID: "queued", Strategy: "heuristic"}))

	rec := env.do(t, http.MethodGet, "/api/runs/queued/chart", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusConflict)

	rec = env.do(t, http.MethodGet, "/api/runs/queued/status", nil)
	var status statusResponse
	testutil.DecodeJSON(t, rec, &status)
	assert.Equal(t, progress.StatusPending, status.Status)
	assert.Zero(t, status.Progress)
}

func TestListRunsLimit(t *testing.T) {
	t.Parallel()
	env := setupTestServer(t)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, env.store.InsertRun(&db.Run{RunID: id}))
	}

	rec := env.do(t, http.MethodGet, "/api/runs?limit=2", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var list struct {
		Runs []db.Run `json:"runs"`
	}
	testutil.DecodeJSON(t, rec, &list)
	assert.Len(t, list.Runs, 2)

	rec = env.do(t, http.MethodGet, "/api/runs?limit=zero", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestAdminRoutesMounted(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	env := setupTestServer(t, WithAdmin(mux))
	require.NoError(t, env.db.AttachAdminRoutes(mux))

	rec := env.do(t, http.MethodGet, "/debug/backup", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))
}
