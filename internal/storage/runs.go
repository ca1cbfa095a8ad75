package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Run states.
const (
	RunRunning          = "running"
	RunCompleted        = "completed"
	RunNavigationFailed = "navigation_failed"
	RunFailed           = "failed"
)

const (
	runKeyPrefix = "tender-watch:run:"
	runIndexKey  = "tender-watch:runs"
	runLatestKey = "tender-watch:run:latest:"
)

// Run is the status of one crawl invocation.
type Run struct {
	ID          string     `json:"id"`
	Category    string     `json:"category"`
	State       string     `json:"state"`
	FailedStage string     `json:"failed_stage,omitempty"`
	Error       string     `json:"error,omitempty"`
	Listed      int        `json:"listed"`
	Detailed    int        `json:"detailed"`
	Inserted    int        `json:"inserted"`
	Updated     int        `json:"updated"`
	Unchanged   int        `json:"unchanged"`
	Skipped     int        `json:"skipped_no_code"`
	Failed      int        `json:"failed"`
	Notified    int        `json:"notified"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// RunStatusStore keeps recent crawl runs in Redis. Entries expire after ttl.
type RunStatusStore struct {
	client redis.Cmdable
	ttl    time.Duration
	keep   int64
}

// NewRunStatusStore creates a store. A non-positive ttl keeps runs for a week.
func NewRunStatusStore(client redis.Cmdable, ttl time.Duration) *RunStatusStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RunStatusStore{client: client, ttl: ttl, keep: 500}
}

// Save writes run and indexes it by start time.
func (s *RunStatusStore) Save(ctx context.Context, run Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, runKeyPrefix+run.ID, data, s.ttl)
	pipe.Set(ctx, runLatestKey+run.Category, run.ID, s.ttl)
	pipe.ZAdd(ctx, runIndexKey, redis.Z{Score: float64(run.StartedAt.UnixMilli()), Member: run.ID})
	pipe.ZRemRangeByRank(ctx, runIndexKey, 0, -s.keep-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// Get returns the run with id or ErrNotFound.
func (s *RunStatusStore) Get(ctx context.Context, id string) (*Run, error) {
	data, err := s.client.Get(ctx, runKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}

	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}
	return &run, nil
}

// Latest returns the most recent run of category or ErrNotFound.
func (s *RunStatusStore) Latest(ctx context.Context, category string) (*Run, error) {
	id, err := s.client.Get(ctx, runLatestKey+category).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest run: %w", err)
	}
	return s.Get(ctx, id)
}

// Recent returns up to n runs, newest first. Expired entries are skipped.
func (s *RunStatusStore) Recent(ctx context.Context, n int) ([]Run, error) {
	if n <= 0 {
		n = 20
	}
	ids, err := s.client.ZRevRange(ctx, runIndexKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

// Health pings Redis.
func (s *RunStatusStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
