package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/riverchat/riverchat/internal/profile"
	"github.com/riverchat/riverchat/server/ai"
	"github.com/riverchat/riverchat/server/generator"
	"github.com/riverchat/riverchat/server/ingest"
	"github.com/riverchat/riverchat/server/lock"
	apiv1 "github.com/riverchat/riverchat/server/router/api/v1"
	"github.com/riverchat/riverchat/store"
)

// Server is the assembled riverchat backend.
type Server struct {
	profile *profile.Profile
	store   *store.Store
	echo    *echo.Echo
	logger  *slog.Logger
}

// New assembles the server: model provider, locker, domain services, and the
// HTTP surface.
func New(ctx context.Context, p *profile.Profile, st *store.Store, locker lock.Locker, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			logger.Info("request",
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
			)
			return nil
		},
	}))

	if !p.IsAIEnabled() {
		return nil, errors.New("no model provider configured; set RIVERCHAT_AI_API_KEY")
	}
	provider, err := ai.NewProviderFromProfile(p)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create ai provider")
	}

	gen := generator.New(st, provider, provider, logger)
	pipeline := ingest.New(st, provider, locker, p, logger)

	apiService := apiv1.NewAPIV1Service(p, st, gen, pipeline, logger)
	apiService.RegisterRoutes(e)

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	s := &Server{
		profile: p,
		store:   st,
		echo:    e,
		logger:  logger,
	}
	return s, nil
}

// Start begins serving and blocks until the listener fails or the context is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)
	s.logger.Info("server started",
		slog.String("address", address),
		slog.String("mode", s.profile.Mode),
		slog.String("version", s.profile.Version),
	)
	if err := s.echo.Start(address); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "failed to start server")
	}
	return nil
}

// Shutdown gracefully stops the HTTP listener and closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("failed to close store", slog.String("error", err.Error()))
	}
	s.logger.Info("server shutdown complete")
}
