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

	"go.uber.org/zap"

	"github.com/metadeep/orchestrator/internal/citations"
	"github.com/metadeep/orchestrator/internal/metrics"
	"github.com/metadeep/orchestrator/internal/models"
)

// OpenAIAdapter is the asynchronous-job variant: it submits a background
// deep-research job, receives a correlation id, and polls the job status on
// a fixed interval until the provider reports a terminal value.
type OpenAIAdapter struct {
	opts Options
}

// NewOpenAIAdapter builds the OpenAI adapter.
func NewOpenAIAdapter(opts Options) *OpenAIAdapter {
	opts.withDefaults()
	return &OpenAIAdapter{opts: opts}
}

func (a *OpenAIAdapter) Name() models.AgentName { return models.AgentOpenAI }

type openAISubmitRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Background bool   `json:"background"`
}

type openAIResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
	OutputText string `json:"output_text"`
	Output     []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

// Provider statuses that end the poll loop.
func openAITerminal(status string) bool {
	switch status {
	case "completed", "failed", "cancelled", "expired", "incomplete":
		return true
	}
	return false
}

// openAIExtractionRules is the ordered list of response fields that may
// carry the report text; the first non-empty match wins.
var openAIExtractionRules = []struct {
	name    string
	extract func(*openAIResponse) string
}{
	{"last_output_message", func(r *openAIResponse) string {
		for i := len(r.Output) - 1; i >= 0; i-- {
			if r.Output[i].Type != "message" {
				continue
			}
			var b strings.Builder
			for _, c := range r.Output[i].Content {
				b.WriteString(c.Text)
			}
			if b.Len() > 0 {
				return b.String()
			}
		}
		return ""
	}},
	{"output_text", func(r *openAIResponse) string { return r.OutputText }},
	{"any_output_content", func(r *openAIResponse) string {
		var b strings.Builder
		for _, item := range r.Output {
			for _, c := range item.Content {
				b.WriteString(c.Text)
			}
		}
		return b.String()
	}},
}

func (a *OpenAIAdapter) SubmitAndAwait(ctx context.Context, query string) models.AgentResult {
	start := time.Now()
	key := a.opts.Key()
	if key == "" {
		return observe(a.Name(), start, models.Failed("OPENAI_API_KEY not configured"))
	}

	spec := a.opts.Prompts.Agent(string(models.AgentOpenAI))
	submitted, failed := a.submit(ctx, key, renderPrompt(spec.Prompt, query), spec.Model)
	if failed != nil {
		return observe(a.Name(), start, *failed)
	}

	a.opts.Logger.Info("OpenAI research job submitted",
		zap.String("job_ref", shortRef(submitted.ID)),
		zap.String("status", submitted.Status),
	)

	final, failed := a.awaitTerminal(ctx, key, submitted)
	if failed != nil {
		return observe(a.Name(), start, *failed)
	}
	return observe(a.Name(), start, a.toResult(final))
}

// submit starts the background job and returns the provider's first
// response. Failures come back as a ready-made failed result.
func (a *OpenAIAdapter) submit(ctx context.Context, key, prompt, model string) (*openAIResponse, *models.AgentResult) {
	if err := a.opts.Rate.Wait(ctx, string(models.AgentOpenAI)); err != nil {
		return nil, failedPtr(err.Error())
	}

	body, err := json.Marshal(openAISubmitRequest{Model: model, Input: prompt, Background: true})
	if err != nil {
		return nil, failedPtr(fmt.Sprintf("failed to marshal request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.opts.BaseURL+"/v1/responses", bytes.NewReader(body))
	if err != nil {
		return nil, failedPtr(fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := a.opts.httpClient().Do(req)
	if err != nil {
		a.opts.Logger.Warn("OpenAI submission failed", zap.Error(err))
		return nil, failedPtr(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, failedPtr(fmt.Sprintf("openai API returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, failedPtr(fmt.Sprintf("failed to decode submission response: %v", err))
	}
	if parsed.ID == "" {
		return nil, failedPtr("openai submission returned no job id")
	}
	return &parsed, nil
}

// awaitTerminal polls the job every PollInterval until the provider reports
// a terminal status or the poll budget runs out. The wait suspends on a
// timer, never blocking sibling branches.
func (a *OpenAIAdapter) awaitTerminal(ctx context.Context, key string, current *openAIResponse) (*openAIResponse, *models.AgentResult) {
	deadline := time.Now().Add(a.opts.PollBudget)
	for !openAITerminal(current.Status) {
		if time.Now().After(deadline) {
			return nil, failedPtr(fmt.Sprintf("openai job %s still %s after %s",
				shortRef(current.ID), current.Status, a.opts.PollBudget))
		}
		select {
		case <-ctx.Done():
			return nil, failedPtr(ctx.Err().Error())
		case <-time.After(a.opts.PollInterval):
		}

		metrics.AgentPollIterations.WithLabelValues(string(models.AgentOpenAI)).Inc()
		next, failed := a.pollOnce(ctx, key, current.ID)
		if failed != nil {
			return nil, failed
		}
		a.opts.Logger.Debug("OpenAI job polled",
			zap.String("job_ref", shortRef(current.ID)),
			zap.String("status", next.Status),
		)
		current = next
	}
	return current, nil
}

func (a *OpenAIAdapter) pollOnce(ctx context.Context, key, id string) (*openAIResponse, *models.AgentResult) {
	if err := a.opts.Rate.Wait(ctx, string(models.AgentOpenAI)); err != nil {
		return nil, failedPtr(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.opts.BaseURL+"/v1/responses/"+id, nil)
	if err != nil {
		return nil, failedPtr(fmt.Sprintf("failed to create poll request: %v", err))
	}
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := a.opts.httpClient().Do(req)
	if err != nil {
		return nil, failedPtr(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, failedPtr(fmt.Sprintf("openai poll returned status %d", resp.StatusCode))
	}

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, failedPtr(fmt.Sprintf("failed to decode poll response: %v", err))
	}
	return &parsed, nil
}

func (a *OpenAIAdapter) toResult(final *openAIResponse) models.AgentResult {
	jobRef := shortRef(final.ID)
	if final.Status != "completed" {
		reason := fmt.Sprintf("openai job %s", final.Status)
		if final.Error != nil && final.Error.Message != "" {
			reason = fmt.Sprintf("%s: %s", reason, final.Error.Message)
		} else if final.IncompleteDetails != nil && final.IncompleteDetails.Reason != "" {
			reason = fmt.Sprintf("%s: %s", reason, final.IncompleteDetails.Reason)
		}
		return models.Failed(reason)
	}

	var output string
	for _, rule := range openAIExtractionRules {
		if text := strings.TrimSpace(rule.extract(final)); text != "" {
			output = text
			break
		}
	}
	if output == "" {
		return models.Failed("openai job completed with no content")
	}

	a.opts.Logger.Info("OpenAI research completed",
		zap.String("job_ref", jobRef),
		zap.Int("output_len", len(output)),
	)
	return models.Completed(output, jobRef, citations.ExtractFromText(output, models.AgentOpenAI))
}

func failedPtr(reason string) *models.AgentResult {
	r := models.Failed(reason)
	return &r
}
