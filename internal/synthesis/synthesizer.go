// Package synthesis merges the terminal agent results into one consensus
// report. Partial provider failure degrades to whatever subset completed;
// only a total failure marks the job failed.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/metadeep/orchestrator/internal/citations"
	"github.com/metadeep/orchestrator/internal/config"
	"github.com/metadeep/orchestrator/internal/llm"
	"github.com/metadeep/orchestrator/internal/metrics"
	"github.com/metadeep/orchestrator/internal/models"
)

// FailedReport is the fixed consensus text when no agent completed.
const FailedReport = "# Research Failed\n\nNo research agents were able to complete their analysis. Please check your API keys and try again."

const sectionSeparator = "\n\n---\n\n"

// displayNames label the per-agent report sections.
var displayNames = map[models.AgentName]string{
	models.AgentGemini:     "Gemini",
	models.AgentOpenAI:     "OpenAI",
	models.AgentPerplexity: "Perplexity",
}

// Result is the synthesis outcome.
type Result struct {
	Report    string
	Citations []models.Citation
	// Failed is true only when zero agents completed.
	Failed bool
}

// Synthesizer builds the consensus report.
type Synthesizer struct {
	client  *llm.Client
	prompts *config.Manager
	logger  *zap.Logger
}

// New builds a Synthesizer.
func New(client *llm.Client, prompts *config.Manager, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{client: client, prompts: prompts, logger: logger}
}

// Synthesize merges the three terminal agent results for the query.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, results map[models.AgentName]models.AgentResult) Result {
	var sections []string
	var citationSets [][]models.Citation
	for _, name := range models.AgentNames {
		r := results[name]
		citationSets = append(citationSets, r.Citations)
		if r.Status != models.AgentCompleted || strings.TrimSpace(r.Output) == "" {
			continue
		}
		sections = append(sections, fmt.Sprintf("## %s Research Report\n\n%s", displayNames[name], r.Output))
	}

	merged := citations.Merge(citationSets...)

	if len(sections) == 0 {
		s.logger.Warn("No agent completed, skipping synthesis call")
		return Result{Report: FailedReport, Citations: merged, Failed: true}
	}

	combined := strings.Join(sections, sectionSeparator)
	spec := s.prompts.Synthesizer()
	prompt := strings.ReplaceAll(spec.Prompt, "{query}", query)
	prompt = strings.ReplaceAll(prompt, "{combined_reports}", combined)

	report, err := s.client.Complete(ctx, spec.Model, prompt, 6000)
	if err != nil {
		metrics.SynthesisFallbacks.Inc()
		if errors.Is(err, llm.ErrNoCredential) {
			s.logger.Info("Synthesis credential missing, returning combined reports")
			return Result{
				Report:    fmt.Sprintf("# Meta-Deep Research Consensus Report\n\n**Query:** %s%s%s", query, sectionSeparator, combined),
				Citations: merged,
			}
		}
		s.logger.Warn("Synthesis call failed, returning combined reports", zap.Error(err))
		return Result{
			Report: fmt.Sprintf("# Meta-Deep Research Report\n\n**Query:** %s\n\n*Synthesis error: %s*%s%s",
				query, err.Error(), sectionSeparator, combined),
			Citations: merged,
		}
	}

	s.logger.Info("Consensus report synthesized",
		zap.Int("sections", len(sections)),
		zap.Int("citations", len(merged)),
	)
	return Result{Report: report, Citations: merged}
}
