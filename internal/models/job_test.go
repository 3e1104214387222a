package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseTransitions(t *testing.T) {
	tests := []struct {
		from, to Phase
		ok       bool
	}{
		{PhaseCreatingPlan, PhasePendingApproval, true},
		{PhaseCreatingPlan, PhaseResearching, true}, // immediate start
		{PhasePendingApproval, PhaseApproved, true},
		{PhaseApproved, PhaseResearching, true},
		{PhaseResearching, PhaseCompleted, true},
		{PhaseResearching, PhaseFailed, true},
		{PhasePendingApproval, PhaseResearching, false},
		{PhaseResearching, PhasePendingApproval, false},
		{PhaseCompleted, PhaseResearching, false},
		{PhaseCompleted, PhaseFailed, false},
		{PhaseFailed, PhaseCompleted, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTransitionStampsCompletionOnce(t *testing.T) {
	job := NewResearchJob("r", "u", "q")
	require.NoError(t, job.Transition(PhaseResearching))
	assert.Nil(t, job.CompletedAt)

	require.NoError(t, job.Transition(PhaseCompleted))
	require.NotNil(t, job.CompletedAt)

	err := job.Transition(PhaseFailed)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestNewResearchJobSlots(t *testing.T) {
	job := NewResearchJob("r", "u", "q")
	require.NoError(t, job.Validate())
	assert.Equal(t, PhaseCreatingPlan, job.Phase)
	for _, name := range AgentNames {
		slot := job.AgentResults[name]
		assert.Equal(t, AgentIdle, slot.Status)
		assert.NotNil(t, slot.Citations)
	}
}

func TestValidateMissingSlot(t *testing.T) {
	job := NewResearchJob("r", "u", "q")
	delete(job.AgentResults, AgentOpenAI)
	assert.Error(t, job.Validate())
}
