// Package queue schedules delayed background jobs and retries failed ones.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Rican7/retry/backoff"

	"github.com/tuannvm/zendesk-forum-sync/internal/common"
	"github.com/tuannvm/zendesk-forum-sync/internal/logging"
	"github.com/tuannvm/zendesk-forum-sync/internal/metrics"
)

// Job is one scheduled unit of work. Attempt starts at 1.
type Job struct {
	ID         string          `json:"id"`
	Name       string          `json:"task"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    uint            `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Decode unmarshals the job payload into v.
func (j Job) Decode(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", j.Name, err)
	}
	return nil
}

// Handler runs a job.
type Handler func(ctx context.Context, job Job) error

// Scheduler places jobs on a queue, optionally delayed.
type Scheduler interface {
	// Schedule enqueues attempt 1 of task name with payload marshalled as JSON.
	Schedule(ctx context.Context, name string, payload interface{}, delay time.Duration) error
	// Enqueue places an existing job back on the queue as is.
	Enqueue(ctx context.Context, job Job, delay time.Duration) error
}

// Registry binds handlers to task names.
type Registry interface {
	Register(name string, h Handler)
}

// NewJob builds attempt 1 of a job.
func NewJob(name string, payload interface{}) (Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}
	return Job{Name: name, Payload: data, Attempt: 1}, nil
}

// RetryPolicy bounds how often a failing job is rescheduled and how long to
// wait before each new attempt.
type RetryPolicy struct {
	MaxAttempts uint
	Backoff     backoff.Algorithm
}

// DefaultRetryPolicy allows 10 attempts, waiting n minutes after attempt n.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 10, Backoff: backoff.Linear(time.Minute)}
}

// Next returns the delay before the attempt following a failed attempt, or
// false when the policy is exhausted.
func (p RetryPolicy) Next(attempt uint) (time.Duration, bool) {
	if attempt >= p.MaxAttempts {
		return 0, false
	}
	return p.Backoff(attempt), true
}

// Retrying wraps h so that a retryable failure reschedules the job with the
// next attempt number. Once the policy is exhausted the job is dropped and
// the wrapper returns nil. The reschedule outlives cancellation of ctx.
func Retrying(s Scheduler, p RetryPolicy, h Handler) Handler {
	return func(ctx context.Context, job Job) error {
		err := h(ctx, job)
		if err == nil || !common.IsRetryable(err) {
			return err
		}

		delay, ok := p.Next(job.Attempt)
		if !ok {
			logging.Warnw("giving up on job", "task", job.Name, "job_id", job.ID, "attempt", job.Attempt, "error", err)
			metrics.JobsProcessed.WithLabelValues(job.Name, "abandoned").Inc()
			return nil
		}

		logging.Errorw("job failed, rescheduling", "task", job.Name, "job_id", job.ID,
			"attempt", job.Attempt, "retry_in", delay.String(), "error", err)
		next := job
		next.ID = ""
		next.Attempt = job.Attempt + 1
		if qerr := s.Enqueue(context.WithoutCancel(ctx), next, delay); qerr != nil {
			return fmt.Errorf("failed to reschedule %s: %w", job.Name, qerr)
		}
		metrics.JobsProcessed.WithLabelValues(job.Name, "retried").Inc()
		return nil
	}
}
