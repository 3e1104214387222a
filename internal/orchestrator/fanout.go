package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/metadeep/orchestrator/internal/agents"
	"github.com/metadeep/orchestrator/internal/models"
	"github.com/metadeep/orchestrator/internal/tracing"
)

// fanOut invokes all three agent adapters concurrently and returns once
// every branch is terminal. Each branch's result is written back to the job
// as it lands, so the status endpoint shows real partial progress; one
// branch failing never cancels or blocks the others, and there is no
// whole-group timeout beyond each adapter's own budget.
func (o *Orchestrator) fanOut(ctx context.Context, runID, query string) map[models.AgentName]models.AgentResult {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[models.AgentName]models.AgentResult, len(o.adapters))
	)

	for _, name := range models.AgentNames {
		adapter := o.adapters[name]
		wg.Add(1)
		go func(name models.AgentName) {
			defer wg.Done()

			branchCtx, span := tracing.Start(ctx, "agent."+string(name))
			defer span.End()

			result := o.runBranch(branchCtx, name, adapter, query)

			mu.Lock()
			results[name] = result
			mu.Unlock()

			if _, err := o.store.Update(ctx, runID, func(j *models.ResearchJob) error {
				j.AgentResults[name] = result
				return nil
			}); err != nil {
				o.logger.Warn("Failed to store branch result",
					zap.String("run_id", runID),
					zap.String("agent", string(name)),
					zap.Error(err),
				)
			}

			o.logger.Info("Agent branch terminal",
				zap.String("run_id", runID),
				zap.String("agent", string(name)),
				zap.String("status", string(result.Status)),
			)
		}(name)
	}

	wg.Wait()
	return results
}

// runBranch contains a single branch. Adapters convert their own failures
// to values, but a panicking branch must not take down the process or its
// siblings.
func (o *Orchestrator) runBranch(ctx context.Context, name models.AgentName, adapter agents.Adapter, query string) (result models.AgentResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Agent branch panicked",
				zap.String("agent", string(name)),
				zap.Any("panic", r),
			)
			result = models.Failed(fmt.Sprintf("internal error: %v", r))
		}
	}()
	return adapter.SubmitAndAwait(ctx, query)
}
