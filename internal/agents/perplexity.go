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

// PerplexityAdapter is the server-side long-running variant: a single
// blocking chat-completions call whose response carries both the final
// content and an API-native citation list.
type PerplexityAdapter struct {
	opts Options
}

// NewPerplexityAdapter builds the Perplexity adapter.
func NewPerplexityAdapter(opts Options) *PerplexityAdapter {
	opts.withDefaults()
	return &PerplexityAdapter{opts: opts}
}

func (a *PerplexityAdapter) Name() models.AgentName { return models.AgentPerplexity }

type perplexityRequest struct {
	Model     string              `json:"model"`
	Messages  []perplexityMessage `json:"messages"`
	MaxTokens int                 `json:"max_tokens"`
}

type perplexityMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type perplexityResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
	Citations     []string `json:"citations"`
	SearchResults []struct {
		URL string `json:"url"`
	} `json:"search_results"`
}

// perplexityExtractionRules is the ordered list of response fields that may
// carry the report text; the first non-empty match wins.
var perplexityExtractionRules = []struct {
	name    string
	extract func(*perplexityResponse) string
}{
	{"message_content", func(r *perplexityResponse) string {
		if len(r.Choices) == 0 {
			return ""
		}
		return r.Choices[0].Message.Content
	}},
	{"choice_text", func(r *perplexityResponse) string {
		if len(r.Choices) == 0 {
			return ""
		}
		return r.Choices[0].Text
	}},
}

func (a *PerplexityAdapter) SubmitAndAwait(ctx context.Context, query string) models.AgentResult {
	start := time.Now()
	key := a.opts.Key()
	if key == "" {
		return observe(a.Name(), start, models.Failed("PERPLEXITY_API_KEY not configured"))
	}

	spec := a.opts.Prompts.Agent(string(models.AgentPerplexity))
	if err := a.opts.Rate.Wait(ctx, string(models.AgentPerplexity)); err != nil {
		return observe(a.Name(), start, models.Failed(err.Error()))
	}

	body, err := json.Marshal(perplexityRequest{
		Model:     spec.Model,
		Messages:  []perplexityMessage{{Role: "user", Content: renderPrompt(spec.Prompt, query)}},
		MaxTokens: 4000,
	})
	if err != nil {
		return observe(a.Name(), start, models.Failed(fmt.Sprintf("failed to marshal request: %v", err)))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.opts.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return observe(a.Name(), start, models.Failed(fmt.Sprintf("failed to create request: %v", err)))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := a.opts.httpClient().Do(req)
	if err != nil {
		a.opts.Logger.Warn("Perplexity request failed", zap.Error(err))
		return observe(a.Name(), start, models.Failed(err.Error()))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return observe(a.Name(), start, models.Failed(
			fmt.Sprintf("perplexity API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))))
	}

	var parsed perplexityResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return observe(a.Name(), start, models.Failed(fmt.Sprintf("failed to decode response: %v", err)))
	}

	var output string
	for _, rule := range perplexityExtractionRules {
		if text := strings.TrimSpace(rule.extract(&parsed)); text != "" {
			output = text
			break
		}
	}
	if output == "" {
		return observe(a.Name(), start, models.Failed("perplexity response contained no content"))
	}

	jobRef := parsed.ID
	if jobRef == "" {
		jobRef = uuid.NewString()
	}
	jobRef = shortRef(jobRef)

	native := parsed.Citations
	for _, sr := range parsed.SearchResults {
		native = append(native, sr.URL)
	}

	a.opts.Logger.Info("Perplexity research completed",
		zap.String("job_ref", jobRef),
		zap.Int("output_len", len(output)),
		zap.Int("native_citations", len(native)),
	)
	return observe(a.Name(), start, models.Completed(
		output, jobRef, citations.ExtractWithNative(output, native, models.AgentPerplexity)))
}
