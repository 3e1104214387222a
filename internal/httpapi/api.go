// Package httpapi is the thin HTTP surface over the research orchestrator.
// Handlers translate requests into orchestrator calls and job snapshots
// into JSON; no research logic lives here.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/metadeep/orchestrator/internal/history"
	"github.com/metadeep/orchestrator/internal/models"
	"github.com/metadeep/orchestrator/internal/orchestrator"
)

const serviceVersion = "1.0.0"

// HistoryReader serves archived runs. Nil when history is disabled.
type HistoryReader interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]history.Record, error)
	Get(ctx context.Context, runID string) (*history.Record, error)
}

// Handler routes the research API.
type Handler struct {
	orch    *orchestrator.Orchestrator
	archive HistoryReader
	logger  *zap.Logger
}

// NewHandler builds the API handler. archive may be nil.
func NewHandler(orch *orchestrator.Orchestrator, archive HistoryReader, logger *zap.Logger) *Handler {
	return &Handler{orch: orch, archive: archive, logger: logger}
}

// RegisterRoutes registers all API routes on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api", h.handleRoot)
	mux.HandleFunc("POST /api/research", h.handleStartResearch)
	mux.HandleFunc("POST /api/research/plan", h.handleCreatePlan)
	mux.HandleFunc("POST /api/research/{run_id}/approve", h.handleApprove)
	mux.HandleFunc("GET /api/status/{run_id}", h.handleStatus)
	mux.HandleFunc("GET /api/history", h.handleHistoryList)
	mux.HandleFunc("GET /api/history/{run_id}", h.handleHistoryGet)
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "Meta-Deep Research API",
		"version": serviceVersion,
		"endpoints": map[string]string{
			"POST /api/research":                  "Start a research job immediately",
			"POST /api/research/plan":             "Create a research plan for approval",
			"POST /api/research/{run_id}/approve": "Approve a pending plan and start research",
			"GET /api/status/{run_id}":            "Get research job status",
			"GET /api/history":                    "List archived research runs",
		},
	})
}

type researchRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id,omitempty"`
}

type researchResponse struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) handleStartResearch(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeResearchRequest(w, r)
	if !ok {
		return
	}

	job, err := h.orch.StartImmediate(r.Context(), req.UserID, req.Query)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, researchResponse{
		RunID:   job.RunID,
		Status:  "started",
		Message: "Research job started. Poll /api/status/{run_id} for updates.",
	})
}

type planResponse struct {
	RunID        string `json:"run_id"`
	Status       string `json:"status"`
	ResearchPlan string `json:"research_plan"`
}

func (h *Handler) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeResearchRequest(w, r)
	if !ok {
		return
	}

	job, err := h.orch.CreatePlan(r.Context(), req.UserID, req.Query)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, planResponse{
		RunID:        job.RunID,
		Status:       string(job.Phase),
		ResearchPlan: job.ResearchPlan,
	})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")

	err := h.orch.Approve(r.Context(), runID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "Research job not found")
		return
	case errors.Is(err, models.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "Research job is not awaiting approval")
		return
	case err != nil:
		h.logger.Error("Approval failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Error approving research job")
		return
	}

	writeJSON(w, http.StatusOK, researchResponse{RunID: runID, Status: "started"})
}

// statusResponse mirrors the job snapshot with per-agent sections.
type statusResponse struct {
	RunID           string              `json:"run_id"`
	UserQuery       string              `json:"user_query"`
	ResearchPlan    string              `json:"research_plan,omitempty"`
	GeminiData      models.AgentResult  `json:"gemini_data"`
	OpenAIData      models.AgentResult  `json:"openai_data"`
	PerplexityData  models.AgentResult  `json:"perplexity_data"`
	ConsensusReport string              `json:"consensus_report,omitempty"`
	Citations       []models.Citation   `json:"citations"`
	OverallStatus   string              `json:"overall_status"`
	CreatedAt       time.Time           `json:"created_at"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")

	job, err := h.orch.Status(r.Context(), runID)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Research job not found")
		return
	}
	if err != nil {
		h.logger.Error("Status lookup failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error fetching status: %s", err))
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		RunID:           job.RunID,
		UserQuery:       job.UserQuery,
		ResearchPlan:    job.ResearchPlan,
		GeminiData:      job.AgentResults[models.AgentGemini],
		OpenAIData:      job.AgentResults[models.AgentOpenAI],
		PerplexityData:  job.AgentResults[models.AgentPerplexity],
		ConsensusReport: job.ConsensusReport,
		Citations:       job.Citations,
		OverallStatus:   string(job.Phase),
		CreatedAt:       job.CreatedAt,
		CompletedAt:     job.CompletedAt,
	})
}

func (h *Handler) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "History is not enabled")
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	records, err := h.archive.ListByUser(r.Context(), userID, 0)
	if err != nil {
		h.logger.Error("History list failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Error listing research history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": records})
}

func (h *Handler) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "History is not enabled")
		return
	}
	runID := r.PathValue("run_id")

	record, err := h.archive.Get(r.Context(), runID)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Research run not found")
		return
	}
	if err != nil {
		h.logger.Error("History get failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Error loading research run")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) decodeResearchRequest(w http.ResponseWriter, r *http.Request) (researchRequest, bool) {
	var req researchRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.logger.Warn("Request decode error", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
