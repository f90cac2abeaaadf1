package progress

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tracker stores per-job progress entries in Redis under progress_<job_id>.
// Only the ingestion pipeline writes entries; everything else reads them.
type Tracker struct {
	client *redis.Client
}

// NewTracker creates a Redis-backed tracker and verifies the connection.
func NewTracker(host, port, password string) (*Tracker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", host, port),
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		DB:           0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Tracker{client: client}, nil
}

// NewTrackerFromClient wraps an existing client. Used by tests.
func NewTrackerFromClient(client *redis.Client) *Tracker {
	return &Tracker{client: client}
}

// Close closes the Redis connection.
func (t *Tracker) Close() error {
	return t.client.Close()
}

func key(jobID string) string {
	return "progress_" + jobID
}

// SetPercent records a completion percentage for a job.
func (t *Tracker) SetPercent(ctx context.Context, jobID string, percent int) error {
	if err := t.client.Set(ctx, key(jobID), percent, 0).Err(); err != nil {
		return fmt.Errorf("failed to set progress for job %s: %w", jobID, err)
	}
	return nil
}

// SetFailed marks a job's processing as failed.
func (t *Tracker) SetFailed(ctx context.Context, jobID string) error {
	if err := t.client.Set(ctx, key(jobID), failedSentinel, 0).Err(); err != nil {
		return fmt.Errorf("failed to set failure for job %s: %w", jobID, err)
	}
	return nil
}

// Get returns the current status of a job. A missing key means the job is
// unknown, which callers must keep distinct from a job at 0%.
func (t *Tracker) Get(ctx context.Context, jobID string) (Status, error) {
	raw, err := t.client.Get(ctx, key(jobID)).Result()
	if err == redis.Nil {
		return NotStarted(), nil
	}
	if err != nil {
		return NotStarted(), fmt.Errorf("failed to get progress for job %s: %w", jobID, err)
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return NotStarted(), fmt.Errorf("corrupt progress entry for job %s: %q", jobID, raw)
	}

	return fromValue(value), nil
}
