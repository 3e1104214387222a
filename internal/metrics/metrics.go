package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Job metrics
	JobsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metadeep_jobs_started_total",
			Help: "Total number of research jobs started",
		},
		[]string{"mode"},
	)

	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metadeep_jobs_completed_total",
			Help: "Total number of research jobs reaching a terminal phase",
		},
		[]string{"phase"},
	)

	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "metadeep_job_duration_seconds",
			Help:    "Research job duration from start to terminal phase",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		},
	)

	ApprovalsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metadeep_approvals_rejected_total",
			Help: "Approval attempts rejected because the job was not pending approval",
		},
	)

	// Agent metrics
	AgentExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metadeep_agent_executions_total",
			Help: "Total number of agent branch executions",
		},
		[]string{"agent", "status"},
	)

	AgentExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metadeep_agent_execution_duration_seconds",
			Help:    "Agent branch duration from submission to terminal status",
			Buckets: []float64{1, 5, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"agent"},
	)

	AgentPollIterations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metadeep_agent_poll_iterations_total",
			Help: "Status poll iterations per long-poll agent",
		},
		[]string{"agent"},
	)

	// Citation metrics
	CitationsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metadeep_citations_extracted_total",
			Help: "Citations extracted from agent output",
		},
		[]string{"agent"},
	)

	// Synthesis metrics
	SynthesisFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metadeep_synthesis_fallbacks_total",
			Help: "Synthesis calls degraded to verbatim concatenation",
		},
	)

	// History metrics
	HistoryWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metadeep_history_writes_total",
			Help: "Terminal snapshot writes to the history store",
		},
		[]string{"status"},
	)
)
