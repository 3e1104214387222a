// Package planner is the plan-phase controller: one completion call turns
// the user query into a short research plan. The phase never fails outright;
// a missing credential or call failure yields a deterministic templated plan
// instead.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/metadeep/orchestrator/internal/config"
	"github.com/metadeep/orchestrator/internal/llm"
)

// Planner produces the research plan for a query.
type Planner struct {
	client  *llm.Client
	prompts *config.Manager
	logger  *zap.Logger
}

// New builds a Planner.
func New(client *llm.Client, prompts *config.Manager, logger *zap.Logger) *Planner {
	return &Planner{client: client, prompts: prompts, logger: logger}
}

// Plan returns the research plan text. The returned plan is never empty.
func (p *Planner) Plan(ctx context.Context, query string) string {
	spec := p.prompts.Planner()
	prompt := strings.ReplaceAll(spec.Prompt, "{query}", query)

	plan, err := p.client.Complete(ctx, spec.Model, prompt, 500)
	if err != nil {
		if errors.Is(err, llm.ErrNoCredential) {
			p.logger.Info("Planner credential missing, using templated plan")
			return fallbackPlan(query, "")
		}
		p.logger.Warn("Plan generation failed, using templated plan", zap.Error(err))
		return fallbackPlan(query, err.Error())
	}
	return plan
}

// SyntheticPlan is the plan used by the immediate-start path, which skips
// the plan phase entirely.
func SyntheticPlan(query string) string {
	return fmt.Sprintf("Immediate research for: %s\n- Dispatch all three deep research agents in parallel\n- Synthesize their reports into a consensus answer", query)
}

func fallbackPlan(query, reason string) string {
	plan := fmt.Sprintf("Research plan for: %s\n- Gather comprehensive data from Gemini Deep Research\n- Analyze with OpenAI Deep Research\n- Cross-reference with Perplexity Deep Research", query)
	if reason != "" {
		plan = fmt.Sprintf("%s\nError creating detailed plan: %s", plan, reason)
	}
	return plan
}
