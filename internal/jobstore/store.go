// Package jobstore holds the durable ResearchJob snapshot keyed by run ID.
// Two backends exist: Redis for normal deployments and a SQLite file for
// single-node setups without Redis. Both persist the pending-approval
// checkpoint so a later approval request can resume the same job.
package jobstore

import (
	"context"

	"github.com/metadeep/orchestrator/internal/models"
)

// Mutation applies a partial field update to a job snapshot. It runs while
// the store holds the per-run write lock, so reads of the same run never
// observe a half-applied update.
type Mutation func(*models.ResearchJob) error

// Store is the Job State Store contract.
type Store interface {
	// Create stores the initial snapshot. It fails if a live job already
	// exists for the run ID.
	Create(ctx context.Context, job *models.ResearchJob) error

	// Get returns the current snapshot, or models.ErrNotFound.
	Get(ctx context.Context, runID string) (*models.ResearchJob, error)

	// Update applies a mutation atomically with respect to concurrent
	// readers of the same run ID and persists the result.
	Update(ctx context.Context, runID string, fn Mutation) (*models.ResearchJob, error)

	// Checkpoint produces a durable point that survives process restart.
	Checkpoint(ctx context.Context, runID string) error

	// Ping reports backend connectivity for health checks.
	Ping(ctx context.Context) error

	Close() error
}
