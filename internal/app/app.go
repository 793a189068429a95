// Package app builds the service object graph from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/tuannvm/zendesk-forum-sync/internal/config"
	"github.com/tuannvm/zendesk-forum-sync/internal/forum"
	"github.com/tuannvm/zendesk-forum-sync/internal/logging"
	"github.com/tuannvm/zendesk-forum-sync/internal/policy"
	"github.com/tuannvm/zendesk-forum-sync/internal/queue"
	"github.com/tuannvm/zendesk-forum-sync/internal/refstore"
	"github.com/tuannvm/zendesk-forum-sync/internal/render"
	"github.com/tuannvm/zendesk-forum-sync/internal/server"
	forumsync "github.com/tuannvm/zendesk-forum-sync/internal/sync"
	"github.com/tuannvm/zendesk-forum-sync/internal/zendesk"
)

// App holds the wired service.
type App struct {
	Config   *config.Config
	Settings config.Provider

	DB     *gorm.DB
	Store  *forum.GormStore
	Bus    *forum.EventBus
	Redis  *redis.Client
	Queue  *queue.RedisQueue
	Remote zendesk.Service

	Outbound *forumsync.Outbound
	Inbound  *forumsync.Inbound
	Server   *server.Server
}

type options struct {
	remote    zendesk.Service
	queueOpts []queue.Option
}

// Option customizes New.
type Option func(*options)

// WithRemote replaces the Zendesk REST client. The circuit breaker still
// wraps it.
func WithRemote(s zendesk.Service) Option {
	return func(o *options) { o.remote = s }
}

// WithQueueOptions appends options for the Redis queue.
func WithQueueOptions(opts ...queue.Option) Option {
	return func(o *options) { o.queueOpts = append(o.queueOpts, opts...) }
}

// New opens the database, connects to Redis and wires the engines, the
// event bus and the HTTP server. Nothing runs until Run.
func New(cfg *config.Config, settings config.Provider, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	db, err := forum.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := forum.Migrate(db); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Settings: settings, DB: db}
	a.Bus = forum.NewEventBus(logging.NewWatermillAdapter())
	a.Store = forum.NewGormStore(db, a.Bus, "https://"+settings.Settings().Hostname)

	a.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	queueOpts := append([]queue.Option{
		queue.WithConcurrency(cfg.Worker.Concurrency),
		queue.WithPollInterval(time.Duration(cfg.Worker.PollIntervalMs) * time.Millisecond),
		queue.WithBatchSize(cfg.Worker.BatchSize),
		queue.WithJobTimeout(time.Duration(cfg.Worker.JobTimeoutSec) * time.Second),
	}, o.queueOpts...)
	a.Queue = queue.NewRedisQueue(a.Redis, cfg.Redis.QueueKey, queueOpts...)

	remote := o.remote
	if remote == nil {
		remote = zendesk.NewClient(settings, time.Duration(cfg.Zendesk.TimeoutSeconds)*time.Second)
	}
	a.Remote = zendesk.NewBreakerService(remote, zendesk.DefaultBreakerSettings())

	deps := forumsync.Deps{
		Settings: settings,
		Policy:   policy.NewCategoryPolicy(settings),
		Forum:    a.Store,
		Refs:     refstore.New(a.Store),
		Remote:   a.Remote,
		Renderer: render.New(),
	}
	a.Outbound = forumsync.NewOutbound(deps, a.Queue, queue.DefaultRetryPolicy())
	a.Outbound.Register(a.Bus, a.Queue)
	a.Inbound = forumsync.NewInbound(deps)
	a.Server = server.New(cfg.Server, settings, a.Inbound, a.Outbound)

	return a, nil
}

// Ping checks that Redis is reachable.
func (a *App) Ping(ctx context.Context) error {
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis at %s: %w", a.Config.Redis.Addr, err)
	}
	return nil
}

// Run starts the event bus, the queue workers and the HTTP server, and
// blocks until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.Ping(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.Bus.Start(ctx); err != nil {
		return err
	}
	queueDone := make(chan error, 1)
	go func() {
		queueDone <- a.Queue.Run(ctx)
	}()

	err := a.Server.Run(ctx)
	cancel()
	if qerr := <-queueDone; err == nil {
		err = qerr
	}
	return err
}

// Close releases the event bus, Redis and the database.
func (a *App) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(a.Bus.Close())
	keep(a.Redis.Close())
	if sqlDB, err := a.DB.DB(); err == nil {
		keep(sqlDB.Close())
	} else {
		keep(err)
	}
	return firstErr
}
