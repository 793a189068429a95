// Package queuetest provides an in-memory Scheduler for tests.
package queuetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tuannvm/zendesk-forum-sync/internal/queue"
)

// Scheduled is a recorded job and the delay it was scheduled with.
type Scheduled struct {
	Job   queue.Job
	Delay time.Duration
}

// Recorder keeps scheduled jobs in memory in FIFO order and runs them on
// demand, ignoring delays.
type Recorder struct {
	mu       sync.Mutex
	pending  []Scheduled
	history  []Scheduled
	handlers map[string]queue.Handler
	seq      int
}

// New creates an empty Recorder.
func New() *Recorder {
	return &Recorder{handlers: make(map[string]queue.Handler)}
}

func (r *Recorder) Register(name string, h queue.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

func (r *Recorder) Schedule(ctx context.Context, name string, payload interface{}, delay time.Duration) error {
	job, err := queue.NewJob(name, payload)
	if err != nil {
		return err
	}
	return r.Enqueue(ctx, job, delay)
}

func (r *Recorder) Enqueue(_ context.Context, job queue.Job, delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if job.ID == "" {
		job.ID = fmt.Sprintf("job-%d", r.seq)
	}
	if job.Attempt == 0 {
		job.Attempt = 1
	}
	s := Scheduled{Job: job, Delay: delay}
	r.pending = append(r.pending, s)
	r.history = append(r.history, s)
	return nil
}

// Pending returns jobs not yet run.
func (r *Recorder) Pending() []Scheduled {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Scheduled(nil), r.pending...)
}

// History returns every job ever scheduled.
func (r *Recorder) History() []Scheduled {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Scheduled(nil), r.history...)
}

// Drain runs pending jobs, including ones scheduled while draining, until
// none remain or limit jobs have run. It returns how many ran.
func (r *Recorder) Drain(ctx context.Context, limit int) (int, error) {
	ran := 0
	for ran < limit {
		r.mu.Lock()
		if len(r.pending) == 0 {
			r.mu.Unlock()
			break
		}
		next := r.pending[0]
		r.pending = r.pending[1:]
		h, ok := r.handlers[next.Job.Name]
		r.mu.Unlock()

		if !ok {
			return ran, fmt.Errorf("no handler for %s", next.Job.Name)
		}
		ran++
		if err := h(ctx, next.Job); err != nil {
			return ran, err
		}
	}
	return ran, nil
}

var _ queue.Scheduler = (*Recorder)(nil)
