package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tuannvm/zendesk-forum-sync/internal/logging"
	"github.com/tuannvm/zendesk-forum-sync/internal/metrics"
)

// RedisQueue is a delayed job queue on a Redis sorted set scored by the
// job's due time in unix milliseconds. A job is claimed by whichever worker
// removes it from the set first.
type RedisQueue struct {
	client *redis.Client
	key    string

	now          func() time.Time
	concurrency  int
	pollInterval time.Duration
	batchSize    int64
	jobTimeout   time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler
}

// Option configures a RedisQueue.
type Option func(*RedisQueue)

// WithClock replaces time.Now for due-time computation.
func WithClock(now func() time.Time) Option {
	return func(q *RedisQueue) { q.now = now }
}

// WithConcurrency sets the number of workers started by Run.
func WithConcurrency(n int) Option {
	return func(q *RedisQueue) {
		if n > 0 {
			q.concurrency = n
		}
	}
}

// WithPollInterval sets how often Run looks for due jobs.
func WithPollInterval(d time.Duration) Option {
	return func(q *RedisQueue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

// WithBatchSize caps how many due jobs one poll claims.
func WithBatchSize(n int) Option {
	return func(q *RedisQueue) {
		if n > 0 {
			q.batchSize = int64(n)
		}
	}
}

// WithJobTimeout bounds a single handler run.
func WithJobTimeout(d time.Duration) Option {
	return func(q *RedisQueue) {
		if d > 0 {
			q.jobTimeout = d
		}
	}
}

// NewRedisQueue creates a new RedisQueue stored under key.
func NewRedisQueue(client *redis.Client, key string, opts ...Option) *RedisQueue {
	q := &RedisQueue{
		client:       client,
		key:          key,
		now:          time.Now,
		concurrency:  4,
		pollInterval: time.Second,
		batchSize:    16,
		jobTimeout:   2 * time.Minute,
		handlers:     make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Register binds a handler to a task name.
func (q *RedisQueue) Register(name string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = h
}

func (q *RedisQueue) Schedule(ctx context.Context, name string, payload interface{}, delay time.Duration) error {
	job, err := NewJob(name, payload)
	if err != nil {
		return err
	}
	return q.Enqueue(ctx, job, delay)
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job, delay time.Duration) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Attempt == 0 {
		job.Attempt = 1
	}
	job.EnqueuedAt = q.now().UTC()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	due := q.now().Add(delay).UnixMilli()

	err = retry.Retry(func(uint) error {
		return q.client.ZAdd(ctx, q.key, redis.Z{Score: float64(due), Member: string(data)}).Err()
	}, strategy.Limit(3), strategy.Backoff(backoff.Linear(50*time.Millisecond)))
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", job.Name, err)
	}

	metrics.JobsScheduled.WithLabelValues(job.Name).Inc()
	logging.Debugw("job scheduled", "task", job.Name, "job_id", job.ID, "attempt", job.Attempt, "delay", delay.String())
	return nil
}

// Len returns the number of jobs waiting, due or not.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return n, nil
}

// claimDue removes up to batchSize due jobs from the set and returns them.
func (q *RedisQueue) claimDue(ctx context.Context) ([]Job, error) {
	members, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.now().UnixMilli(), 10),
		Count: q.batchSize,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due jobs: %w", err)
	}

	jobs := make([]Job, 0, len(members))
	for _, m := range members {
		removed, err := q.client.ZRem(ctx, q.key, m).Result()
		if err != nil {
			return jobs, fmt.Errorf("failed to claim job: %w", err)
		}
		if removed == 0 {
			continue // claimed by another worker
		}
		var job Job
		if err := json.Unmarshal([]byte(m), &job); err != nil {
			logging.Errorw("dropping malformed job", "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// RunDue claims and runs the jobs due now on the calling goroutine, and
// returns how many ran.
func (q *RedisQueue) RunDue(ctx context.Context) (int, error) {
	jobs, err := q.claimDue(ctx)
	for _, job := range jobs {
		q.execute(ctx, job)
	}
	return len(jobs), err
}

// Run polls for due jobs and executes them on a pool of workers until ctx
// is cancelled. Jobs already claimed run to completion before Run returns.
func (q *RedisQueue) Run(ctx context.Context) error {
	work := make(chan Job)
	var wg sync.WaitGroup
	for i := 0; i < q.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range work {
				q.execute(ctx, job)
			}
		}()
	}

	logging.Infow("job queue started", "key", q.key, "workers", q.concurrency)
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}

		jobs, err := q.claimDue(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Errorw("failed to poll job queue", "error", err)
		}
		for _, job := range jobs {
			// Claimed jobs are handed to a worker even during shutdown.
			work <- job
		}
		if n, err := q.Len(ctx); err == nil {
			metrics.QueueDepth.Set(float64(n))
		}
	}

	close(work)
	wg.Wait()
	logging.Infow("job queue stopped", "key", q.key)
	return nil
}

// execute runs job on a context detached from ctx, so shutdown does not
// abort a claimed job halfway. A job that still ends with a cancelled or
// expired context is put back on the set with the same attempt number.
func (q *RedisQueue) execute(ctx context.Context, job Job) {
	q.mu.RLock()
	h, ok := q.handlers[job.Name]
	q.mu.RUnlock()
	if !ok {
		logging.Errorw("no handler for job", "task", job.Name, "job_id", job.ID)
		metrics.JobsProcessed.WithLabelValues(job.Name, "unknown").Inc()
		return
	}

	detached := context.WithoutCancel(ctx)
	jobCtx, cancel := context.WithTimeout(detached, q.jobTimeout)
	defer cancel()

	err := h(jobCtx, job)
	if err == nil {
		metrics.JobsProcessed.WithLabelValues(job.Name, "done").Inc()
		return
	}
	if interrupted(jobCtx, err) {
		qerr := q.Enqueue(detached, job, 0)
		if qerr == nil {
			logging.Warnw("job interrupted, requeued", "task", job.Name, "job_id", job.ID, "attempt", job.Attempt, "error", err)
			metrics.JobsProcessed.WithLabelValues(job.Name, "requeued").Inc()
			return
		}
		logging.Errorw("failed to requeue interrupted job", "task", job.Name, "job_id", job.ID, "error", qerr)
	}
	logging.Errorw("job failed", "task", job.Name, "job_id", job.ID, "attempt", job.Attempt, "error", err)
	metrics.JobsProcessed.WithLabelValues(job.Name, "error").Inc()
}

func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
