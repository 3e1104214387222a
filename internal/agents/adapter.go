// Package agents normalizes three structurally different external research
// protocols behind one contract: a single-shot generate call (Gemini), an
// asynchronous job polled to completion (OpenAI), and a blocking long-running
// HTTP call with API-native citations (Perplexity).
//
// Adapters never return an error: every failure mode, from a missing
// credential to a malformed payload, is converted into a failed AgentResult
// so the fan-out coordinator joins on plain values.
package agents

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/metadeep/orchestrator/internal/config"
	"github.com/metadeep/orchestrator/internal/metrics"
	"github.com/metadeep/orchestrator/internal/models"
	"github.com/metadeep/orchestrator/internal/ratecontrol"
)

// Adapter is the uniform contract over one research provider. SubmitAndAwait
// blocks until the branch reaches a terminal state within the adapter's own
// timeout budget.
type Adapter interface {
	Name() models.AgentName
	SubmitAndAwait(ctx context.Context, query string) models.AgentResult
}

// Options carries the collaborators shared by all adapter variants.
type Options struct {
	BaseURL string
	// Key returns the provider credential, looked up per invocation. An
	// empty key fails the branch before any network attempt.
	Key func() string
	// Prompts supplies the current {model, prompt} pair for this agent.
	Prompts *config.Manager
	Rate    *ratecontrol.Controller
	Logger  *zap.Logger

	// RequestTimeout bounds each individual HTTP call.
	RequestTimeout time.Duration
	// PollInterval is the fixed wait between status polls. 30s in
	// production; tests shorten it.
	PollInterval time.Duration
	// PollBudget bounds the total time a long-poll branch may wait for a
	// terminal provider status.
	PollBudget time.Duration
}

func (o *Options) withDefaults() {
	if o.RequestTimeout == 0 {
		o.RequestTimeout = 5 * time.Minute
	}
	if o.PollInterval == 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.PollBudget == 0 {
		o.PollBudget = 30 * time.Minute
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Rate == nil {
		o.Rate = ratecontrol.NewController(nil)
	}
}

func (o *Options) httpClient() *http.Client {
	return &http.Client{Timeout: o.RequestTimeout}
}

// renderPrompt substitutes the {query} placeholder in a prompt template.
func renderPrompt(template, query string) string {
	return strings.ReplaceAll(template, "{query}", query)
}

// shortRef truncates a provider correlation token for display.
func shortRef(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// observe records the branch outcome the same way for every variant.
func observe(name models.AgentName, start time.Time, result models.AgentResult) models.AgentResult {
	metrics.AgentExecutions.WithLabelValues(string(name), string(result.Status)).Inc()
	metrics.AgentExecutionDuration.WithLabelValues(string(name)).Observe(time.Since(start).Seconds())
	metrics.CitationsExtracted.WithLabelValues(string(name)).Add(float64(len(result.Citations)))
	return result
}
