// Package orchestrator drives the research job state machine:
// plan -> approval -> parallel research -> synthesis. It owns top-level
// failure containment; once a job starts researching it always reaches a
// terminal phase.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/metadeep/orchestrator/internal/agents"
	"github.com/metadeep/orchestrator/internal/jobstore"
	"github.com/metadeep/orchestrator/internal/metrics"
	"github.com/metadeep/orchestrator/internal/models"
	"github.com/metadeep/orchestrator/internal/planner"
	"github.com/metadeep/orchestrator/internal/synthesis"
	"github.com/metadeep/orchestrator/internal/tracing"
)

// HistoryWriter persists the terminal snapshot to long-term history. The
// driver calls it exactly once per job, after the terminal phase is stored.
type HistoryWriter interface {
	WriteTerminal(ctx context.Context, job *models.ResearchJob) error
}

// Orchestrator wires the job store, the three agent adapters, the planner
// and the synthesizer. It is constructed once at startup and injected into
// the request handlers; there is no ambient global state.
type Orchestrator struct {
	store    jobstore.Store
	adapters map[models.AgentName]agents.Adapter
	planner  *planner.Planner
	synth    *synthesis.Synthesizer
	history  HistoryWriter
	logger   *zap.Logger

	wg sync.WaitGroup
}

// New builds the orchestrator. All three adapters must be present; history
// may be nil when history persistence is disabled.
func New(
	store jobstore.Store,
	adapterList []agents.Adapter,
	plan *planner.Planner,
	synth *synthesis.Synthesizer,
	history HistoryWriter,
	logger *zap.Logger,
) (*Orchestrator, error) {
	adapters := make(map[models.AgentName]agents.Adapter, len(adapterList))
	for _, a := range adapterList {
		adapters[a.Name()] = a
	}
	for _, name := range models.AgentNames {
		if _, ok := adapters[name]; !ok {
			return nil, fmt.Errorf("missing adapter for agent %s", name)
		}
	}
	return &Orchestrator{
		store:    store,
		adapters: adapters,
		planner:  plan,
		synth:    synth,
		history:  history,
		logger:   logger,
	}, nil
}

// CreatePlan runs the plan phase: it creates the job, generates the research
// plan, and parks the job in pending_approval, checkpointed so a later
// approval request can resume it.
func (o *Orchestrator) CreatePlan(ctx context.Context, userID, query string) (*models.ResearchJob, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	ctx, span := tracing.Start(ctx, "job.create_plan")
	defer span.End()

	runID := uuid.NewString()
	job := models.NewResearchJob(runID, userID, query)
	if err := o.store.Create(ctx, job); err != nil {
		return nil, err
	}
	metrics.JobsStarted.WithLabelValues("plan").Inc()

	plan := o.planner.Plan(ctx, query)

	job, err := o.store.Update(ctx, runID, func(j *models.ResearchJob) error {
		j.ResearchPlan = plan
		return j.Transition(models.PhasePendingApproval)
	})
	if err != nil {
		return nil, err
	}
	if err := o.store.Checkpoint(ctx, runID); err != nil {
		return nil, err
	}

	o.logger.Info("Research plan created",
		zap.String("run_id", runID),
		zap.Int("plan_len", len(plan)),
	)
	return job, nil
}

// Approve moves a pending job to approved and starts the research phase
// detached from the caller. Approving a job in any other phase is rejected.
func (o *Orchestrator) Approve(ctx context.Context, runID string) error {
	_, err := o.store.Update(ctx, runID, func(j *models.ResearchJob) error {
		return j.Transition(models.PhaseApproved)
	})
	if err != nil {
		metrics.ApprovalsRejected.Inc()
		return err
	}

	o.logger.Info("Research job approved", zap.String("run_id", runID))
	o.launch(runID)
	return nil
}

// StartImmediate creates a job with a synthetic plan and begins researching
// without the approval gate.
func (o *Orchestrator) StartImmediate(ctx context.Context, userID, query string) (*models.ResearchJob, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	runID := uuid.NewString()
	job := models.NewResearchJob(runID, userID, query)
	job.ResearchPlan = planner.SyntheticPlan(query)
	if err := o.store.Create(ctx, job); err != nil {
		return nil, err
	}
	metrics.JobsStarted.WithLabelValues("immediate").Inc()

	o.logger.Info("Immediate research started", zap.String("run_id", runID))
	o.launch(runID)
	return job, nil
}

// Status returns the current job snapshot.
func (o *Orchestrator) Status(ctx context.Context, runID string) (*models.ResearchJob, error) {
	return o.store.Get(ctx, runID)
}

// Wait blocks until all detached runs finish. Used on shutdown and in tests.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// launch runs the research phase in a background goroutine, detached from
// the triggering request. Callers observe progress by re-reading job state.
func (o *Orchestrator) launch(runID string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(context.Background(), runID)
	}()
}

// run executes fan-out and synthesis to a terminal phase, then persists the
// snapshot to history exactly once. Any panic forces the failed phase first.
func (o *Orchestrator) run(ctx context.Context, runID string) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "job.research")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Research run panicked",
				zap.String("run_id", runID),
				zap.Any("panic", r),
			)
			o.forceFailed(ctx, runID, fmt.Sprintf("internal error: %v", r))
			o.persistTerminal(ctx, runID, start)
		}
	}()

	job, err := o.store.Update(ctx, runID, func(j *models.ResearchJob) error {
		if err := j.Transition(models.PhaseResearching); err != nil {
			return err
		}
		for _, name := range models.AgentNames {
			slot := j.AgentResults[name]
			slot.Status = models.AgentPolling
			j.AgentResults[name] = slot
		}
		return nil
	})
	if err != nil {
		o.logger.Error("Failed to enter researching phase",
			zap.String("run_id", runID), zap.Error(err))
		o.forceFailed(ctx, runID, err.Error())
		o.persistTerminal(ctx, runID, start)
		return
	}

	results := o.fanOut(ctx, job.RunID, job.UserQuery)

	synthesized := o.synth.Synthesize(ctx, job.UserQuery, results)
	terminal := models.PhaseCompleted
	if synthesized.Failed {
		terminal = models.PhaseFailed
	}

	_, err = o.store.Update(ctx, runID, func(j *models.ResearchJob) error {
		j.ConsensusReport = synthesized.Report
		j.Citations = synthesized.Citations
		return j.Transition(terminal)
	})
	if err != nil {
		o.logger.Error("Failed to store terminal snapshot",
			zap.String("run_id", runID), zap.Error(err))
		o.forceFailed(ctx, runID, err.Error())
	}

	o.persistTerminal(ctx, runID, start)
}

// forceFailed drives the job to the failed phase from whatever non-terminal
// phase it is in. The driver never leaves a started job non-terminal.
func (o *Orchestrator) forceFailed(ctx context.Context, runID, reason string) {
	_, err := o.store.Update(ctx, runID, func(j *models.ResearchJob) error {
		if j.Phase.IsTerminal() {
			return nil
		}
		if j.ConsensusReport == "" {
			j.ConsensusReport = fmt.Sprintf("# Research Failed\n\n%s", reason)
		}
		return j.Transition(models.PhaseFailed)
	})
	if err != nil {
		o.logger.Error("Failed to force terminal failure",
			zap.String("run_id", runID), zap.Error(err))
	}
}

// persistTerminal records job completion metrics and hands the terminal
// snapshot to the history collaborator.
func (o *Orchestrator) persistTerminal(ctx context.Context, runID string, start time.Time) {
	job, err := o.store.Get(ctx, runID)
	if err != nil {
		o.logger.Error("Failed to read terminal snapshot",
			zap.String("run_id", runID), zap.Error(err))
		return
	}

	metrics.JobsCompleted.WithLabelValues(string(job.Phase)).Inc()
	metrics.JobDuration.Observe(time.Since(start).Seconds())

	if o.history == nil {
		return
	}
	if err := o.history.WriteTerminal(ctx, job); err != nil {
		metrics.HistoryWrites.WithLabelValues("error").Inc()
		o.logger.Error("Failed to persist job history",
			zap.String("run_id", runID), zap.Error(err))
		return
	}
	metrics.HistoryWrites.WithLabelValues("ok").Inc()
	o.logger.Info("Research job finished",
		zap.String("run_id", runID),
		zap.String("phase", string(job.Phase)),
		zap.Duration("duration", time.Since(start)),
	)
}
