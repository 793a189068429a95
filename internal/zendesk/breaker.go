package zendesk

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tuannvm/zendesk-forum-sync/internal/common"
	"github.com/tuannvm/zendesk-forum-sync/internal/logging"
	"github.com/tuannvm/zendesk-forum-sync/internal/metrics"
	"github.com/tuannvm/zendesk-forum-sync/internal/models"
)

// BreakerSettings tunes the circuit breaker around a Service.
type BreakerSettings struct {
	Name        string
	MaxRequests uint32        // trial requests allowed while half-open
	Interval    time.Duration // closed-state count reset period
	Timeout     time.Duration // open-state duration before retrying
	MinRequests uint32
	FailureRate float64
}

// DefaultBreakerSettings opens after 60% failures over at least 10 calls and
// allows trial requests again after a minute.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:        "zendesk-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		MinRequests: 10,
		FailureRate: 0.6,
	}
}

// BreakerService guards a Service with a circuit breaker. Calls rejected by
// an open breaker fail with a remote service error.
type BreakerService struct {
	next Service
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// NewBreakerService wraps next.
func NewBreakerService(next Service, bs BreakerSettings) *BreakerService {
	metrics.CircuitBreakerState.WithLabelValues(bs.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        bs.Name,
		MaxRequests: bs.MaxRequests,
		Interval:    bs.Interval,
		Timeout:     bs.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bs.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= bs.FailureRate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warnw("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	return &BreakerService{next: next, cb: cb, name: bs.Name}
}

// State reports the breaker's current state.
func (b *BreakerService) State() gobreaker.State {
	return b.cb.State()
}

func execute[T any](b *BreakerService, fn func() (T, error)) (T, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, common.NewRemoteServiceError("reach ticketing service", err)
		}
		return zero, err
	}
	return res.(T), nil
}

func (b *BreakerService) CreateTicket(ctx context.Context, t models.NewTicket) (*models.RemoteTicket, error) {
	return execute(b, func() (*models.RemoteTicket, error) { return b.next.CreateTicket(ctx, t) })
}

func (b *BreakerService) AddComment(ctx context.Context, c models.NewComment) (*models.RemoteComment, error) {
	return execute(b, func() (*models.RemoteComment, error) { return b.next.AddComment(ctx, c) })
}

func (b *BreakerService) SearchUsers(ctx context.Context, query string) ([]models.RemoteUser, error) {
	return execute(b, func() ([]models.RemoteUser, error) { return b.next.SearchUsers(ctx, query) })
}

func (b *BreakerService) CreateUser(ctx context.Context, u models.NewUser) (*models.RemoteUser, error) {
	return execute(b, func() (*models.RemoteUser, error) { return b.next.CreateUser(ctx, u) })
}

func (b *BreakerService) ListComments(ctx context.Context, ticketID int64) ([]models.RemoteComment, error) {
	return execute(b, func() ([]models.RemoteComment, error) { return b.next.ListComments(ctx, ticketID) })
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
