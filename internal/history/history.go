// Package history persists terminal research jobs to Postgres for
// long-term retrieval. The live job store owns in-flight state; history
// only ever sees finished jobs.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/metadeep/orchestrator/internal/models"
)

// Config holds Postgres connection settings.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
}

// Record is one persisted research run.
type Record struct {
	RunID           string          `db:"run_id" json:"run_id"`
	UserID          string          `db:"user_id" json:"user_id"`
	Query           string          `db:"query" json:"query"`
	Phase           string          `db:"phase" json:"phase"`
	ResearchPlan    string          `db:"research_plan" json:"research_plan"`
	ConsensusReport string          `db:"consensus_report" json:"consensus_report"`
	Citations       json.RawMessage `db:"citations" json:"citations"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	CompletedAt     sql.NullTime    `db:"completed_at" json:"completed_at"`
}

// Client writes and reads research history.
type Client struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewClient opens the connection pool and verifies connectivity.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 10
	}
	if cfg.IdleConnections == 0 {
		cfg.IdleConnections = 2
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = 5 * time.Minute
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.IdleConnections)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}

	client := &Client{db: db, logger: logger}
	if err := client.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("History client initialized",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
	)
	return client, nil
}

const historySchema = `
CREATE TABLE IF NOT EXISTS research_history (
    run_id           TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL,
    query            TEXT NOT NULL,
    phase            TEXT NOT NULL,
    research_plan    TEXT NOT NULL DEFAULT '',
    consensus_report TEXT NOT NULL DEFAULT '',
    citations        JSONB NOT NULL DEFAULT '[]',
    created_at       TIMESTAMPTZ NOT NULL,
    completed_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_research_history_user ON research_history (user_id, created_at DESC);
`

func (c *Client) migrate(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, historySchema); err != nil {
		return fmt.Errorf("failed to apply history schema: %w", err)
	}
	return nil
}

// WriteTerminal stores the terminal snapshot. The upsert keeps the call
// idempotent if a run is retried with the same run ID.
func (c *Client) WriteTerminal(ctx context.Context, job *models.ResearchJob) error {
	if !job.Phase.IsTerminal() {
		return fmt.Errorf("refusing to archive non-terminal job %s in phase %s", job.RunID, job.Phase)
	}

	cites, err := json.Marshal(job.Citations)
	if err != nil {
		return fmt.Errorf("failed to encode citations: %w", err)
	}

	var completedAt sql.NullTime
	if job.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *job.CompletedAt, Valid: true}
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO research_history
			(run_id, user_id, query, phase, research_plan, consensus_report, citations, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id) DO UPDATE SET
			phase = EXCLUDED.phase,
			consensus_report = EXCLUDED.consensus_report,
			citations = EXCLUDED.citations,
			completed_at = EXCLUDED.completed_at`,
		job.RunID, job.UserID, job.UserQuery, string(job.Phase),
		job.ResearchPlan, job.ConsensusReport, cites,
		job.CreatedAt, completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to archive job %s: %w", job.RunID, err)
	}

	c.logger.Info("Research job archived",
		zap.String("run_id", job.RunID),
		zap.String("phase", string(job.Phase)),
	)
	return nil
}

// ListByUser returns a user's archived runs, newest first.
func (c *Client) ListByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var records []Record
	err := c.db.SelectContext(ctx, &records, `
		SELECT run_id, user_id, query, phase, research_plan, consensus_report,
		       citations, created_at, completed_at
		FROM research_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history for user %s: %w", userID, err)
	}
	return records, nil
}

// Get returns one archived run.
func (c *Client) Get(ctx context.Context, runID string) (*Record, error) {
	var rec Record
	err := c.db.GetContext(ctx, &rec, `
		SELECT run_id, user_id, query, phase, research_plan, consensus_report,
		       citations, created_at, completed_at
		FROM research_history
		WHERE run_id = $1`, runID)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history for run %s: %w", runID, err)
	}
	return &rec, nil
}

// Ping reports connectivity for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}
