package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/metadeep/orchestrator/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS research_jobs (
	run_id    TEXT PRIMARY KEY,
	snapshot  TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

// SQLiteStore is the single-node backend: every write lands in a local
// database file, so checkpointing is implicit in each update.
type SQLiteStore struct {
	db     *sqlx.DB
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSQLiteStore opens (and if needed initializes) the database at path.
// Use ":memory:" in tests.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	// sqlite handles one writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}
	logger.Info("SQLite job store initialized", zap.String("path", path))
	return &SQLiteStore{
		db:     db,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

func (s *SQLiteStore) runLock(runID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[runID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[runID] = l
	}
	return l
}

// releaseLock drops the per-run mutex once the job is terminal. Terminal
// jobs are immutable, so a late writer recreating the entry cannot conflict.
func (s *SQLiteStore) releaseLock(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, runID)
}

func (s *SQLiteStore) Create(ctx context.Context, job *models.ResearchJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	lock := s.runLock(job.RunID)
	lock.Lock()
	defer lock.Unlock()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO research_jobs (run_id, snapshot) VALUES (?, ?)`,
		job.RunID, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", job.RunID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, runID string) (*models.ResearchJob, error) {
	var snapshot string
	err := s.db.GetContext(ctx, &snapshot,
		`SELECT snapshot FROM research_jobs WHERE run_id = ?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", runID, err)
	}

	var job models.ResearchJob
	if err := json.Unmarshal([]byte(snapshot), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", runID, err)
	}
	return &job, nil
}

func (s *SQLiteStore) Update(ctx context.Context, runID string, fn Mutation) (*models.ResearchJob, error) {
	lock := s.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	job, err := s.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := fn(job); err != nil {
		return nil, err
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE research_jobs SET snapshot = ?, updated_at = CURRENT_TIMESTAMP WHERE run_id = ?`,
		string(data), runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update job %s: %w", runID, err)
	}
	if job.Phase.IsTerminal() {
		s.releaseLock(runID)
	}
	return job, nil
}

// Checkpoint is a no-op beyond a durability sync: sqlite writes are already
// on disk when Update returns.
func (s *SQLiteStore) Checkpoint(ctx context.Context, runID string) error {
	var exists int
	err := s.db.GetContext(ctx, &exists,
		`SELECT COUNT(1) FROM research_jobs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to checkpoint job %s: %w", runID, err)
	}
	if exists == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
