package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/metadeep/orchestrator/internal/models"
)

const (
	// Live snapshots expire after a day; checkpoints are kept without TTL
	// until the job is archived to history.
	liveTTL = 24 * time.Hour
)

// RedisStore keeps job snapshots in Redis as JSON blobs.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr string, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     os.Getenv("REDIS_PASSWORD"),
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{
		client: client,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// runLock returns the per-run mutex, creating it on first use. A given run's
// phases execute strictly sequentially, so this lock only guards against
// unrelated jobs sharing a store instance.
func (s *RedisStore) runLock(runID string) *sync.Mutex {
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
func (s *RedisStore) releaseLock(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, runID)
}

func (s *RedisStore) Create(ctx context.Context, job *models.ResearchJob) error {
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
	ok, err := s.client.SetNX(ctx, jobKey(job.RunID), data, liveTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	if !ok {
		return fmt.Errorf("job %s already exists", job.RunID)
	}
	s.logger.Info("Created research job",
		zap.String("run_id", job.RunID),
		zap.String("phase", string(job.Phase)),
	)
	return nil
}

func (s *RedisStore) Get(ctx context.Context, runID string) (*models.ResearchJob, error) {
	data, err := s.client.Get(ctx, jobKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		// Fall back to the durable checkpoint after a restart.
		data, err = s.client.Get(ctx, checkpointKey(runID)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrNotFound
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var job models.ResearchJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (s *RedisStore) Update(ctx context.Context, runID string, fn Mutation) (*models.ResearchJob, error) {
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
	if err := s.client.Set(ctx, jobKey(runID), data, liveTTL).Err(); err != nil {
		return nil, fmt.Errorf("failed to store job: %w", err)
	}

	// Keep any existing checkpoint in step with the live snapshot, or the
	// Get fallback would resurrect a stale earlier phase after the live key
	// expires. Terminal checkpoints get the live TTL: the run is archived
	// to history by then.
	exists, err := s.client.Exists(ctx, checkpointKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to probe checkpoint: %w", err)
	}
	if exists > 0 {
		ttl := time.Duration(0)
		if job.Phase.IsTerminal() {
			ttl = liveTTL
		}
		if err := s.client.Set(ctx, checkpointKey(runID), data, ttl).Err(); err != nil {
			return nil, fmt.Errorf("failed to refresh checkpoint: %w", err)
		}
	}

	if job.Phase.IsTerminal() {
		s.releaseLock(runID)
	}
	return job, nil
}

// Checkpoint copies the live snapshot to a key without TTL so the job
// survives restarts across the plan/approval boundary.
func (s *RedisStore) Checkpoint(ctx context.Context, runID string) error {
	lock := s.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	data, err := s.client.Get(ctx, jobKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read job for checkpoint: %w", err)
	}
	if err := s.client.Set(ctx, checkpointKey(runID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	s.logger.Debug("Checkpointed research job", zap.String("run_id", runID))
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func jobKey(runID string) string {
	return fmt.Sprintf("job:%s", runID)
}

func checkpointKey(runID string) string {
	return fmt.Sprintf("job:checkpoint:%s", runID)
}
