package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trendoor/pkg/config"
	"github.com/ethpandaops/trendoor/pkg/recorder"
	"github.com/ethpandaops/trendoor/pkg/store"
	"github.com/ethpandaops/trendoor/pkg/video"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.Config
	branch     string
	retention  time.Duration
	store      store.Store
	recorder   recorder.Recorder
	metrics    *metrics
	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewServer creates a new API server. branch is the default branch shown
// in rendered reports.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
	branch string,
) Server {
	return &server{
		log:     log.WithField("component", "api"),
		cfg:     cfg,
		branch:  branch,
		metrics: newMetrics(),
	}
}

// Start opens the store, builds the recorder and starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	retention, err := s.cfg.Store.RetentionDuration()
	if err != nil {
		return err
	}

	s.retention = retention

	s.store = store.NewStore(s.log, &s.cfg.Store)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	resolver, err := video.NewTemplateResolver(s.log, &s.cfg.Recorder.Video)
	if err != nil {
		return fmt.Errorf("creating video resolver: %w", err)
	}

	var videoResolver recorder.VideoResolver
	if resolver != nil {
		videoResolver = resolver
	}

	s.recorder = recorder.NewRecorder(s.log, s.store, videoResolver)

	s.httpServer = &http.Server{
		Addr:              s.cfg.API.Server.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.API.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.API.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.API.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server and closes the store.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}
