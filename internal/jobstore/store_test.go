package jobstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/metadeep/orchestrator/internal/models"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(mr.Addr(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// Both backends share the Store contract; run the same assertions on each.
func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Run("redis", func(t *testing.T) { fn(t, newRedisStore(t)) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
}

func TestCreateAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		job := models.NewResearchJob("run-1", "user-1", "impact of interest rates on tech stocks")
		require.NoError(t, store.Create(ctx, job))

		got, err := store.Get(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, models.PhaseCreatingPlan, got.Phase)
		assert.Len(t, got.AgentResults, 3)
		for _, name := range models.AgentNames {
			assert.Equal(t, models.AgentIdle, got.AgentResults[name].Status)
			assert.NotNil(t, got.AgentResults[name].Citations)
		}
	})
}

func TestGetUnknownRunID(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		_, err := store.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestCreateDuplicateRejected(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		job := models.NewResearchJob("run-dup", "u", "q")
		require.NoError(t, store.Create(ctx, job))
		assert.Error(t, store.Create(ctx, models.NewResearchJob("run-dup", "u", "q")))
	})
}

func TestUpdateAppliesMutation(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		job := models.NewResearchJob("run-2", "u", "q")
		require.NoError(t, store.Create(ctx, job))

		updated, err := store.Update(ctx, "run-2", func(j *models.ResearchJob) error {
			j.ResearchPlan = "the plan"
			return j.Transition(models.PhasePendingApproval)
		})
		require.NoError(t, err)
		assert.Equal(t, models.PhasePendingApproval, updated.Phase)

		got, err := store.Get(ctx, "run-2")
		require.NoError(t, err)
		assert.Equal(t, "the plan", got.ResearchPlan)
		assert.Equal(t, models.PhasePendingApproval, got.Phase)
	})
}

func TestUpdateRejectsInvalidTransition(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		require.NoError(t, store.Create(ctx, models.NewResearchJob("run-3", "u", "q")))

		_, err := store.Update(ctx, "run-3", func(j *models.ResearchJob) error {
			return j.Transition(models.PhaseApproved)
		})
		assert.ErrorIs(t, err, models.ErrInvalidTransition)

		// The failed mutation must not have been persisted.
		got, err := store.Get(ctx, "run-3")
		require.NoError(t, err)
		assert.Equal(t, models.PhaseCreatingPlan, got.Phase)
	})
}

func TestCheckpointSurvivesLiveKeyExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(mr.Addr(), zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	job := models.NewResearchJob("run-ckpt", "u", "q")
	require.NoError(t, store.Create(ctx, job))
	require.NoError(t, store.Checkpoint(ctx, "run-ckpt"))

	// Simulate the live snapshot expiring while the checkpoint remains.
	mr.FastForward(liveTTL * 2)

	got, err := store.Get(ctx, "run-ckpt")
	require.NoError(t, err)
	assert.Equal(t, "run-ckpt", got.RunID)
}

func TestCheckpointTracksLaterPhases(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(mr.Addr(), zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Create(ctx, models.NewResearchJob("run-phases", "u", "q")))
	_, err = store.Update(ctx, "run-phases", func(j *models.ResearchJob) error {
		return j.Transition(models.PhasePendingApproval)
	})
	require.NoError(t, err)
	require.NoError(t, store.Checkpoint(ctx, "run-phases"))

	for _, phase := range []models.Phase{models.PhaseApproved, models.PhaseResearching, models.PhaseCompleted} {
		_, err = store.Update(ctx, "run-phases", func(j *models.ResearchJob) error {
			return j.Transition(phase)
		})
		require.NoError(t, err)
	}

	// The live snapshot expires; the checkpoint must not hand back the
	// pending-approval phase for a job that already finished.
	mr.Del(jobKey("run-phases"))

	got, err := store.Get(ctx, "run-phases")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCompleted, got.Phase)
	require.NotNil(t, got.CompletedAt)
	assert.False(t, got.Phase.CanTransition(models.PhaseApproved))
}

func TestTerminalUpdateReleasesRunLock(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		require.NoError(t, store.Create(ctx, models.NewResearchJob("run-locks", "u", "q")))
		_, err := store.Update(ctx, "run-locks", func(j *models.ResearchJob) error {
			if err := j.Transition(models.PhaseResearching); err != nil {
				return err
			}
			return j.Transition(models.PhaseFailed)
		})
		require.NoError(t, err)

		switch s := store.(type) {
		case *RedisStore:
			s.mu.Lock()
			_, held := s.locks["run-locks"]
			s.mu.Unlock()
			assert.False(t, held)
		case *SQLiteStore:
			s.mu.Lock()
			_, held := s.locks["run-locks"]
			s.mu.Unlock()
			assert.False(t, held)
		}
	})
}

func TestCheckpointUnknownRunID(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		assert.ErrorIs(t, store.Checkpoint(context.Background(), "missing"), models.ErrNotFound)
	})
}
