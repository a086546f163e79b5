package v1

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/riverchat/riverchat/internal/profile"
	"github.com/riverchat/riverchat/server/generator"
	"github.com/riverchat/riverchat/server/ingest"
	rcerrors "github.com/riverchat/riverchat/server/internal/errors"
	"github.com/riverchat/riverchat/server/middleware"
	"github.com/riverchat/riverchat/store"
)

// APIV1Service wires the v1 REST surface onto the domain services.
type APIV1Service struct {
	profile   *profile.Profile
	store     *store.Store
	generator *generator.Generator
	pipeline  *ingest.Pipeline
	logger    *slog.Logger

	// ingestDone, when set, observes completed ingestion runs.
	ingestDone func(*ingest.Result)
}

// NewAPIV1Service creates the v1 API service.
func NewAPIV1Service(p *profile.Profile, st *store.Store, gen *generator.Generator, pipeline *ingest.Pipeline, logger *slog.Logger) *APIV1Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIV1Service{
		profile:   p,
		store:     st,
		generator: gen,
		pipeline:  pipeline,
		logger:    logger,
	}
}

// RegisterRoutes mounts the v1 routes under /api/v1.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	rateLimiter := middleware.NewRateLimiter(100*time.Millisecond, 20)

	group := e.Group("/api/v1", middleware.Auth(s.profile), rateLimiter.RateLimit())

	group.POST("/chats", s.CreateChat)
	group.GET("/chats", s.ListChats)
	group.DELETE("/chats/:uid", s.DeleteChat)
	group.GET("/chats/:uid/messages", s.ListMessages)
	group.GET("/chats/:uid/generate", s.GenerateStream)

	group.GET("/rag/tags", s.ListKnowledgeTags)
	group.POST("/rag/upload", s.IngestUpload)
	group.POST("/rag/repository", s.IngestRepository)
}

// httpError maps a kinded domain error onto an echo HTTP error.
func httpError(err error) *echo.HTTPError {
	switch rcerrors.KindOf(err, rcerrors.KindInternal) {
	case rcerrors.KindUnauthorized:
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case rcerrors.KindInvalidArgument:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case rcerrors.KindLockContended:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case rcerrors.KindUpstreamModel:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
