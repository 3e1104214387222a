package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/metadeep/orchestrator/internal/citations"
	"github.com/metadeep/orchestrator/internal/models"
)

// GeminiAdapter is the single-shot variant: one blocking generateContent
// call whose response carries the full report.
type GeminiAdapter struct {
	opts Options
}

// NewGeminiAdapter builds the Gemini adapter.
func NewGeminiAdapter(opts Options) *GeminiAdapter {
	opts.withDefaults()
	return &GeminiAdapter{opts: opts}
}

func (a *GeminiAdapter) Name() models.AgentName { return models.AgentGemini }

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		Output string `json:"output"`
	} `json:"candidates"`
	Text string `json:"text"`
}

// geminiExtractionRules is the ordered list of response fields that may
// carry the report text; the first non-empty match wins.
var geminiExtractionRules = []struct {
	name    string
	extract func(*geminiResponse) string
}{
	{"candidate_parts", func(r *geminiResponse) string {
		if len(r.Candidates) == 0 {
			return ""
		}
		var b strings.Builder
		for _, p := range r.Candidates[0].Content.Parts {
			b.WriteString(p.Text)
		}
		return b.String()
	}},
	{"candidate_output", func(r *geminiResponse) string {
		if len(r.Candidates) == 0 {
			return ""
		}
		return r.Candidates[0].Output
	}},
	{"top_level_text", func(r *geminiResponse) string { return r.Text }},
}

func (a *GeminiAdapter) SubmitAndAwait(ctx context.Context, query string) models.AgentResult {
	start := time.Now()
	key := a.opts.Key()
	if key == "" {
		return observe(a.Name(), start, models.Failed("GEMINI_API_KEY not configured"))
	}

	spec := a.opts.Prompts.Agent(string(models.AgentGemini))
	if err := a.opts.Rate.Wait(ctx, string(models.AgentGemini)); err != nil {
		return observe(a.Name(), start, models.Failed(err.Error()))
	}

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: renderPrompt(spec.Prompt, query)}}}},
	})
	if err != nil {
		return observe(a.Name(), start, models.Failed(fmt.Sprintf("failed to marshal request: %v", err)))
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", a.opts.BaseURL, spec.Model, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return observe(a.Name(), start, models.Failed(fmt.Sprintf("failed to create request: %v", err)))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.opts.httpClient().Do(req)
	if err != nil {
		a.opts.Logger.Warn("Gemini request failed", zap.Error(err))
		return observe(a.Name(), start, models.Failed(err.Error()))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return observe(a.Name(), start, models.Failed(
			fmt.Sprintf("gemini API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))))
	}

	var parsed geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return observe(a.Name(), start, models.Failed(fmt.Sprintf("failed to decode response: %v", err)))
	}

	var output string
	for _, rule := range geminiExtractionRules {
		if text := strings.TrimSpace(rule.extract(&parsed)); text != "" {
			output = text
			break
		}
	}
	if output == "" {
		return observe(a.Name(), start, models.Failed("gemini response contained no content"))
	}

	jobRef := shortRef(uuid.NewString())
	a.opts.Logger.Info("Gemini research completed",
		zap.String("job_ref", jobRef),
		zap.Int("output_len", len(output)),
	)
	return observe(a.Name(), start, models.Completed(
		output, jobRef, citations.ExtractFromText(output, models.AgentGemini)))
}
