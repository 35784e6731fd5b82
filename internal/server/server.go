// Package server provides the HTTP surface of ragd: upload intake,
// ingestion event webhook, tenant queries and verification, plus health
// and metrics endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/docstore"
	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/objectstore"
	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/tenant"
)

// Uploader issues presigned upload targets.
type Uploader interface {
	PresignUpload(ctx context.Context, ref tenant.ObjectRef, contentType string) (objectstore.UploadTarget, error)
}

// Answerer answers tenant questions.
type Answerer interface {
	Answer(ctx context.Context, tenantID, question, documentType string) (rag.Response, error)
}

// Verifier samples a tenant's stored records.
type Verifier interface {
	Recent(ctx context.Context, tenantID string, limit int) ([]docstore.RecordSample, int, error)
}

// EventProcessor runs ingestion for object-created events.
type EventProcessor interface {
	ProcessBatch(ctx context.Context, events []objectstore.Event) []ingest.BatchItem
}

// Server is the ragd HTTP server.
type Server struct {
	config    *config.Config
	echo      *echo.Echo
	uploader  Uploader
	answerer  Answerer
	verifier  Verifier
	processor EventProcessor
	logger    *zap.Logger
}

// New creates the HTTP server with routing and middleware configured.
func New(cfg *config.Config, uploader Uploader, answerer Answerer, verifier Verifier, processor EventProcessor, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	corsOrigin := cfg.Server.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{corsOrigin},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "X-Amz-Date", "Authorization", "X-Api-Key", "X-Amz-Security-Token"},
	}))

	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:    cfg,
		echo:      e,
		uploader:  uploader,
		answerer:  answerer,
		verifier:  verifier,
		processor: processor,
		logger:    logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.POST("/upload", s.handleUpload)
	s.echo.POST("/query", s.handleQuery)
	s.echo.GET("/verify/:tenant_id", s.handleVerify)
	s.echo.POST("/events", s.handleEvents)
}

// Start runs the server until the context is cancelled, then shuts it
// down gracefully. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo returns the underlying Echo instance, mainly for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
