package models

import (
	"fmt"
	"time"
)

// Phase is the lifecycle phase of a research job. Transitions are monotonic;
// a job never re-enters an earlier phase.
type Phase string

const (
	PhaseCreatingPlan    Phase = "creating_plan"
	PhasePendingApproval Phase = "pending_approval"
	PhaseApproved        Phase = "approved"
	PhaseResearching     Phase = "researching"
	PhaseCompleted       Phase = "completed"
	PhaseFailed          Phase = "failed"
)

// IsTerminal reports whether no further automatic transition occurs.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// allowedTransitions encodes the phase state machine, including the
// immediate-start path that skips approval.
var allowedTransitions = map[Phase][]Phase{
	PhaseCreatingPlan:    {PhasePendingApproval, PhaseResearching, PhaseFailed},
	PhasePendingApproval: {PhaseApproved, PhaseFailed},
	PhaseApproved:        {PhaseResearching, PhaseFailed},
	PhaseResearching:     {PhaseCompleted, PhaseFailed},
}

// CanTransition reports whether moving from p to next is a legal step.
func (p Phase) CanTransition(next Phase) bool {
	for _, n := range allowedTransitions[p] {
		if n == next {
			return true
		}
	}
	return false
}

// AgentStatus is the per-provider execution status.
type AgentStatus string

const (
	AgentIdle      AgentStatus = "idle"
	AgentPolling   AgentStatus = "polling"
	AgentCompleted AgentStatus = "completed"
	AgentFailed    AgentStatus = "failed"
)

// AgentName identifies one of the three research providers.
type AgentName string

const (
	AgentGemini     AgentName = "gemini"
	AgentOpenAI     AgentName = "openai"
	AgentPerplexity AgentName = "perplexity"
)

// AgentNames lists all providers in the fixed fan-out order.
var AgentNames = []AgentName{AgentGemini, AgentOpenAI, AgentPerplexity}

// Citation is one deduplicated source reference extracted from agent output.
// URL is the dedup key; SourceAgent becomes a comma-joined list when the same
// URL is surfaced by more than one agent.
type Citation struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	SourceAgent string `json:"source_agent"`
}

// AgentResult is the terminal outcome of one provider branch.
type AgentResult struct {
	Status    AgentStatus `json:"status"`
	JobRef    string      `json:"job_ref,omitempty"`
	Output    string      `json:"output,omitempty"`
	Error     string      `json:"error,omitempty"`
	Citations []Citation  `json:"citations"`
}

// NewAgentResult returns the idle slot created at job creation time. The
// citations field is always present regardless of entry path.
func NewAgentResult() AgentResult {
	return AgentResult{Status: AgentIdle, Citations: []Citation{}}
}

// Completed builds a successful terminal result.
func Completed(output, jobRef string, citations []Citation) AgentResult {
	if citations == nil {
		citations = []Citation{}
	}
	return AgentResult{
		Status:    AgentCompleted,
		JobRef:    jobRef,
		Output:    output,
		Citations: citations,
	}
}

// Failed builds a failed terminal result carrying a human-readable cause.
func Failed(reason string) AgentResult {
	return AgentResult{Status: AgentFailed, Error: reason, Citations: []Citation{}}
}

// ResearchJob is one orchestration run, keyed by RunID in the job store.
type ResearchJob struct {
	RunID           string                    `json:"run_id"`
	UserID          string                    `json:"user_id,omitempty"`
	UserQuery       string                    `json:"user_query"`
	Phase           Phase                     `json:"phase"`
	ResearchPlan    string                    `json:"research_plan,omitempty"`
	AgentResults    map[AgentName]AgentResult `json:"agent_results"`
	ConsensusReport string                    `json:"consensus_report,omitempty"`
	Citations       []Citation                `json:"citations"`
	CreatedAt       time.Time                 `json:"created_at"`
	CompletedAt     *time.Time                `json:"completed_at,omitempty"`
}

// NewResearchJob creates a job in the creating_plan phase with all three
// agent slots idle.
func NewResearchJob(runID, userID, query string) *ResearchJob {
	results := make(map[AgentName]AgentResult, len(AgentNames))
	for _, name := range AgentNames {
		results[name] = NewAgentResult()
	}
	return &ResearchJob{
		RunID:        runID,
		UserID:       userID,
		UserQuery:    query,
		Phase:        PhaseCreatingPlan,
		AgentResults: results,
		Citations:    []Citation{},
		CreatedAt:    time.Now().UTC(),
	}
}

// Transition moves the job to the next phase, stamping the completion time on
// entry to a terminal phase. Illegal transitions are rejected.
func (j *ResearchJob) Transition(next Phase) error {
	if !j.Phase.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Phase, next)
	}
	j.Phase = next
	if next.IsTerminal() && j.CompletedAt == nil {
		now := time.Now().UTC()
		j.CompletedAt = &now
	}
	return nil
}

// Validate checks the structural invariants enforced at phase boundaries.
func (j *ResearchJob) Validate() error {
	if j.RunID == "" {
		return fmt.Errorf("research job missing run_id")
	}
	if j.UserQuery == "" {
		return fmt.Errorf("research job %s missing user query", j.RunID)
	}
	if len(j.AgentResults) != len(AgentNames) {
		return fmt.Errorf("research job %s has %d agent slots, want %d",
			j.RunID, len(j.AgentResults), len(AgentNames))
	}
	for _, name := range AgentNames {
		if _, ok := j.AgentResults[name]; !ok {
			return fmt.Errorf("research job %s missing agent slot %s", j.RunID, name)
		}
	}
	return nil
}
