// Package server exposes the webhook and staff endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tuannvm/zendesk-forum-sync/internal/config"
	"github.com/tuannvm/zendesk-forum-sync/internal/logging"
	forumsync "github.com/tuannvm/zendesk-forum-sync/internal/sync"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTP boundary of the sync service.
type Server struct {
	cfg      config.ServerConfig
	settings config.Provider
	inbound  *forumsync.Inbound
	outbound *forumsync.Outbound
	engine   *gin.Engine
}

// New creates a new Server and sets up its routes
func New(cfg config.ServerConfig, settings config.Provider, in *forumsync.Inbound, out *forumsync.Outbound) *Server {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	s := &Server{
		cfg:      cfg,
		settings: settings,
		inbound:  in,
		outbound: out,
		engine:   gin.New(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.Use(recovery())
	s.engine.Use(requestLogger())

	s.engine.GET("/healthz", s.health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	plugin := s.engine.Group("/zendesk-plugin")
	{
		for _, path := range []string{"/sync", "/sync.json"} {
			plugin.PUT(path, s.webhook)
			plugin.POST(path, s.webhook)
		}

		staff := plugin.Group("", apiKeyAuth(s.cfg.APIKey))
		staff.POST("/issues", s.createIssue)
		staff.GET("/topics/:topic_id", s.topicTicket)
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Infof("HTTP server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Infof("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
