// Package server wires every service together and runs the HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pricelens-dev/pricelens/internal/api"
	"github.com/pricelens-dev/pricelens/internal/auth"
	"github.com/pricelens-dev/pricelens/internal/blob"
	"github.com/pricelens-dev/pricelens/internal/config"
	"github.com/pricelens-dev/pricelens/internal/correct"
	"github.com/pricelens-dev/pricelens/internal/ocr"
	"github.com/pricelens-dev/pricelens/internal/pipeline"
	"github.com/pricelens-dev/pricelens/internal/progress"
	"github.com/pricelens-dev/pricelens/internal/render"
	"github.com/pricelens-dev/pricelens/internal/server/endpoints"
	"github.com/pricelens-dev/pricelens/internal/store"
	"github.com/pricelens-dev/pricelens/internal/svcctx"
)

// shutdownGrace bounds how long in-flight pages may drain on shutdown.
const shutdownGrace = 30 * time.Second

// Server owns the HTTP listener and the full service graph behind it.
type Server struct {
	httpServer *http.Server
	configMgr  *config.Manager
	logger     *slog.Logger

	st        *store.Store
	blacklist *auth.RedisBlacklist
	pipe      *pipeline.Pipeline

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// New builds the service graph from configuration. It connects to postgres,
// redis, and minio; a missing backend fails fast here rather than at first
// request.
func New(ctx context.Context, cfgMgr *config.Manager, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := cfgMgr.Get()

	st, err := store.Open(cfg.DatabaseDSN(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	blacklist, err := auth.NewRedisBlacklist(cfg.RedisURL())
	if err != nil {
		return nil, fmt.Errorf("connecting redis: %w", err)
	}
	if err := blacklist.Ping(ctx); err != nil {
		return nil, err
	}

	bl, err := blob.NewClient(ctx, blob.Options{
		Endpoint:  cfg.Minio.Endpoint,
		AccessKey: config.ResolveEnvVars(cfg.Minio.AccessKey),
		SecretKey: config.ResolveEnvVars(cfg.Minio.SecretKey),
		Secure:    cfg.Minio.Secure,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting object store: %w", err)
	}

	ocrClient := ocr.NewClient(ocr.Config{
		BaseURL:    cfg.OCR.ServerURL,
		Model:      cfg.OCR.Model,
		APIKey:     config.ResolveEnvVars(cfg.OCR.APIKey),
		Timeout:    cfg.OCRTimeout(),
		MaxRetries: cfg.OCR.MaxRetries,
		Workers:    cfg.OCR.WorkerCount,
	}, logger)

	renderer := render.New(render.Config{
		DPI:        cfg.Render.DPI,
		LongEdgePx: cfg.Render.LongEdgePx,
	}, logger)

	hub := progress.NewHub(logger)
	pipe := pipeline.New(st, bl, renderer, ocrClient, hub, logger)

	correctSvc := correct.NewService(
		correct.NewClient(chatConfig(cfg.VLM)),
		correct.NewClient(chatConfig(cfg.LLM)),
		logger,
	)

	verifier := auth.NewVerifier(cfg.JWTSecret(), blacklist, st, logger)

	s := &Server{
		configMgr: cfgMgr,
		logger:    logger,
		st:        st,
		blacklist: blacklist,
		pipe:      pipe,
		services: &svcctx.Services{
			Store:    st,
			Blob:     bl,
			Pipeline: pipe,
			Hub:      hub,
			Correct:  correctSvc,
			Logger:   logger,
		},
	}

	s.endpointRegistry = endpoints.Registry()

	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, verifier.Middleware)

	s.httpServer = &http.Server{
		Addr:        cfg.Addr(),
		Handler:     s.withServices(mux),
		ReadTimeout: 30 * time.Second,
		// SSE streams stay open for whole ingest runs; no write timeout.
		IdleTimeout: 120 * time.Second,
	}

	return s, nil
}

func chatConfig(c config.ChatCfg) correct.ClientConfig {
	return correct.ClientConfig{
		BaseURL: c.ServerURL,
		APIKey:  config.ResolveEnvVars(c.APIKey),
		Model:   c.Model,
		Timeout: time.Duration(c.TimeoutSeconds) * time.Second,
	}
}

// Start marks stale uploads interrupted, then serves HTTP until the context
// is cancelled. Shutdown drains the pipeline before returning.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.pipe.Recover(ctx); err != nil {
		s.setNotRunning()
		return fmt.Errorf("recovering interrupted uploads: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// shutdown stops accepting requests, drains the pipeline, and closes
// backend connections.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace+5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.pipe.Shutdown(shutdownGrace)

	if err := s.blacklist.Close(); err != nil {
		s.logger.Error("redis close error", "error", err)
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning reports whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Store returns the relational store.
func (s *Server) Store() *store.Store {
	return s.st
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(svcctx.WithServices(r.Context(), s.services)))
	})
}
