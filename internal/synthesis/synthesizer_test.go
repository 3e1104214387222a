package synthesis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/metadeep/orchestrator/internal/config"
	"github.com/metadeep/orchestrator/internal/llm"
	"github.com/metadeep/orchestrator/internal/models"
)

func newSynthesizer(t *testing.T, baseURL, key string) *Synthesizer {
	t.Helper()
	prompts, err := config.NewManager(filepath.Join(t.TempDir(), "prompts.yaml"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { prompts.Close() })
	client := llm.NewClient(baseURL, func() string { return key }, nil, zap.NewNop())
	return New(client, prompts, zap.NewNop())
}

func terminalResults() map[models.AgentName]models.AgentResult {
	return map[models.AgentName]models.AgentResult{
		models.AgentGemini: models.Completed("gemini findings", "g1", []models.Citation{
			{Title: "Shared", URL: "https://shared.example.com", SourceAgent: "gemini"},
		}),
		models.AgentOpenAI: models.Failed("OPENAI_API_KEY not configured"),
		models.AgentPerplexity: models.Completed("perplexity findings", "p1", []models.Citation{
			{Title: "Source 1", URL: "https://shared.example.com", SourceAgent: "perplexity"},
			{Title: "Source 2", URL: "https://only.example.com", SourceAgent: "perplexity"},
		}),
	}
}

func TestSynthesizeMergesCompletedSubset(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotPrompt = req.Messages[0].Content
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": "consensus"}},
		})
	}))
	defer srv.Close()

	got := newSynthesizer(t, srv.URL, "k").Synthesize(context.Background(), "the query", terminalResults())
	require.False(t, got.Failed)
	assert.Equal(t, "consensus", got.Report)

	// Prompt carries only the completed sections.
	assert.Contains(t, gotPrompt, "the query")
	assert.Contains(t, gotPrompt, "## Gemini Research Report")
	assert.Contains(t, gotPrompt, "## Perplexity Research Report")
	assert.NotContains(t, gotPrompt, "## OpenAI Research Report")

	// Citations dedup by URL with combined attribution.
	require.Len(t, got.Citations, 2)
	assert.Equal(t, "gemini, perplexity", got.Citations[0].SourceAgent)
	assert.Equal(t, "https://only.example.com", got.Citations[1].URL)
}

func TestSynthesizeZeroSuccessSkipsLLM(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	results := map[models.AgentName]models.AgentResult{
		models.AgentGemini:     models.Failed("a"),
		models.AgentOpenAI:     models.Failed("b"),
		models.AgentPerplexity: models.Failed("c"),
	}
	got := newSynthesizer(t, srv.URL, "k").Synthesize(context.Background(), "q", results)
	assert.True(t, got.Failed)
	assert.Equal(t, FailedReport, got.Report)
	assert.Equal(t, int64(0), calls.Load())
}

func TestSynthesizeFallsBackWithoutCredential(t *testing.T) {
	got := newSynthesizer(t, "http://unused.invalid", "").Synthesize(context.Background(), "q", terminalResults())
	require.False(t, got.Failed)
	assert.Contains(t, got.Report, "# Meta-Deep Research Consensus Report")
	assert.Contains(t, got.Report, "gemini findings")
	assert.Contains(t, got.Report, "perplexity findings")
	assert.Len(t, got.Citations, 2)
}

func TestSynthesizeFallsBackOnCallFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	got := newSynthesizer(t, srv.URL, "k").Synthesize(context.Background(), "q", terminalResults())
	require.False(t, got.Failed)
	assert.Contains(t, got.Report, "Synthesis error")
	assert.Contains(t, got.Report, "gemini findings")
}

func TestSynthesizeSingleAgentSubset(t *testing.T) {
	results := map[models.AgentName]models.AgentResult{
		models.AgentGemini:     models.Failed("transport"),
		models.AgentOpenAI:     models.Failed("transport"),
		models.AgentPerplexity: models.Completed("only report", "p", nil),
	}
	got := newSynthesizer(t, "http://unused.invalid", "").Synthesize(context.Background(), "q", results)
	require.False(t, got.Failed)
	assert.Contains(t, got.Report, "only report")
	assert.NotContains(t, got.Report, "Gemini Research Report")
}
