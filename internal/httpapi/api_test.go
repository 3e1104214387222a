package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/metadeep/orchestrator/internal/agents"
	"github.com/metadeep/orchestrator/internal/config"
	"github.com/metadeep/orchestrator/internal/history"
	"github.com/metadeep/orchestrator/internal/jobstore"
	"github.com/metadeep/orchestrator/internal/llm"
	"github.com/metadeep/orchestrator/internal/models"
	"github.com/metadeep/orchestrator/internal/orchestrator"
	"github.com/metadeep/orchestrator/internal/planner"
	"github.com/metadeep/orchestrator/internal/synthesis"
)

type stubAdapter struct {
	name models.AgentName
}

func (s stubAdapter) Name() models.AgentName { return s.name }

func (s stubAdapter) SubmitAndAwait(ctx context.Context, query string) models.AgentResult {
	return models.Completed("report for "+query, "job-1", nil)
}

type stubArchive struct {
	records map[string]*history.Record
}

func (s *stubArchive) ListByUser(ctx context.Context, userID string, limit int) ([]history.Record, error) {
	var out []history.Record
	for _, rec := range s.records {
		if rec.UserID == userID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *stubArchive) Get(ctx context.Context, runID string) (*history.Record, error) {
	rec, ok := s.records[runID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return rec, nil
}

func newTestMux(t *testing.T) (*http.ServeMux, *orchestrator.Orchestrator) {
	t.Helper()
	store, err := jobstore.NewSQLiteStore(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	prompts, err := config.NewManager(filepath.Join(t.TempDir(), "prompts.yaml"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { prompts.Close() })

	client := llm.NewClient("http://unused.invalid", func() string { return "" }, nil, zap.NewNop())
	orch, err := orchestrator.New(
		store,
		[]agents.Adapter{
			stubAdapter{models.AgentGemini},
			stubAdapter{models.AgentOpenAI},
			stubAdapter{models.AgentPerplexity},
		},
		planner.New(client, prompts, zap.NewNop()),
		synthesis.New(client, prompts, zap.NewNop()),
		nil,
		zap.NewNop(),
	)
	require.NoError(t, err)
	t.Cleanup(orch.Wait)

	archive := &stubArchive{records: map[string]*history.Record{
		"run-old": {RunID: "run-old", UserID: "user-1", Query: "old query", Phase: "completed"},
	}}

	mux := http.NewServeMux()
	NewHandler(orch, archive, zap.NewNop()).RegisterRoutes(mux)
	return mux, orch
}

func do(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestServiceDescriptor(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := do(mux, "GET", "/api", "")
	require.Equal(t, 200, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Meta-Deep Research API", body["service"])
}

func TestPlanApproveStatusFlow(t *testing.T) {
	mux, orch := newTestMux(t)

	rec := do(mux, "POST", "/api/research/plan", `{"query":"quantum error correction","user_id":"user-1"}`)
	require.Equal(t, 200, rec.Code)

	var plan planResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	assert.Equal(t, "pending_approval", plan.Status)
	assert.Contains(t, plan.ResearchPlan, "quantum error correction")

	rec = do(mux, "POST", "/api/research/"+plan.RunID+"/approve", "")
	require.Equal(t, 200, rec.Code)

	// Approving again conflicts regardless of how far the run has gotten.
	rec = do(mux, "POST", "/api/research/"+plan.RunID+"/approve", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	orch.Wait()

	rec = do(mux, "GET", "/api/status/"+plan.RunID, "")
	require.Equal(t, 200, rec.Code)

	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "completed", status.OverallStatus)
	assert.Equal(t, models.AgentCompleted, status.GeminiData.Status)
	assert.NotEmpty(t, status.ConsensusReport)
	assert.NotNil(t, status.Citations)
}

func TestImmediateStart(t *testing.T) {
	mux, orch := newTestMux(t)

	rec := do(mux, "POST", "/api/research", `{"query":"fusion startups"}`)
	require.Equal(t, 200, rec.Code)

	var resp researchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "started", resp.Status)
	require.NotEmpty(t, resp.RunID)

	orch.Wait()

	rec = do(mux, "GET", "/api/status/"+resp.RunID, "")
	require.Equal(t, 200, rec.Code)
}

func TestEmptyQueryRejected(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := do(mux, "POST", "/api/research", `{"query":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(mux, "POST", "/api/research/plan", `{"query":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMalformedBodyRejected(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := do(mux, "POST", "/api/research", `{"query": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(mux, "POST", "/api/research", `{"query":"q","unknown_field":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownRunID(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := do(mux, "GET", "/api/status/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(mux, "POST", "/api/research/nope/approve", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryEndpoints(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := do(mux, "GET", "/api/history?user_id=user-1", "")
	require.Equal(t, 200, rec.Code)

	var body struct {
		Runs []history.Record `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "run-old", body.Runs[0].RunID)

	rec = do(mux, "GET", "/api/history", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(mux, "GET", "/api/history/run-old", "")
	assert.Equal(t, 200, rec.Code)

	rec = do(mux, "GET", "/api/history/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
