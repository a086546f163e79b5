package v1

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/riverchat/riverchat/server/ingest"
	"github.com/riverchat/riverchat/server/internal/observability"
	"github.com/riverchat/riverchat/server/middleware"
	"github.com/riverchat/riverchat/store"
)

// maxUploadSize caps a single uploaded document.
const maxUploadSize = 10 << 20

type knowledgeTagResponse struct {
	UID       string `json:"uid"`
	Name      string `json:"name"`
	CreatedTs int64  `json:"createdTs"`
}

type ingestAcceptedResponse struct {
	TagUID string `json:"tagUid"`
	Name   string `json:"name"`
}

type ingestRepositoryRequest struct {
	RepoURL  string `json:"repoUrl"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

// ListKnowledgeTags lists the caller's knowledge tags. Only completed
// ingestions appear here.
func (s *APIV1Service) ListKnowledgeTags(c echo.Context) error {
	userID := middleware.UserIDFromContext(c)

	tags, err := s.store.ListKnowledgeTags(c.Request().Context(), userID)
	if err != nil {
		return httpError(err)
	}

	list := make([]*knowledgeTagResponse, 0, len(tags))
	for _, tag := range tags {
		list = append(list, &knowledgeTagResponse{
			UID:       tag.UID,
			Name:      tag.Name,
			CreatedTs: tag.CreatedTs,
		})
	}
	return c.JSON(http.StatusOK, list)
}

// IngestUpload accepts a multipart document upload and ingests it in the
// background. The tag UID is handed back immediately; the tag itself becomes
// visible only when ingestion completes.
func (s *APIV1Service) IngestUpload(c echo.Context) error {
	userID := middleware.UserIDFromContext(c)

	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed multipart form")
	}
	fileHeaders := form.File["file"]
	if len(fileHeaders) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "missing file")
	}

	files := make([]ingest.UploadFile, 0, len(fileHeaders))
	for _, fileHeader := range fileHeaders {
		if fileHeader.Size > maxUploadSize {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
		}
		file, err := fileHeader.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unreadable file")
		}
		content, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
		file.Close()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unreadable file")
		}
		files = append(files, ingest.UploadFile{Name: fileHeader.Filename, Content: content})
	}

	name := strings.TrimSpace(c.FormValue("name"))
	if name == "" {
		name = files[0].Name
	}

	tagUID := store.NewTagUID()
	s.runIngestion(func(ctx context.Context) *ingest.Result {
		return s.pipeline.IngestUpload(ctx, &ingest.UploadRequest{
			UserID:  userID,
			TagUID:  tagUID,
			TagName: name,
			Files:   files,
		})
	})

	return c.JSON(http.StatusAccepted, &ingestAcceptedResponse{TagUID: tagUID, Name: name})
}

// IngestRepository accepts a git repository URL and ingests its files in the
// background under a fresh tag.
func (s *APIV1Service) IngestRepository(c echo.Context) error {
	userID := middleware.UserIDFromContext(c)

	req := &ingestRepositoryRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	repoURL := strings.TrimSpace(req.RepoURL)
	if repoURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "repoUrl is required")
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = ingest.ProjectName(repoURL)
	}

	tagUID := store.NewTagUID()
	s.runIngestion(func(ctx context.Context) *ingest.Result {
		return s.pipeline.IngestRepository(ctx, &ingest.RepositoryRequest{
			UserID:   userID,
			TagUID:   tagUID,
			TagName:  name,
			RepoURL:  repoURL,
			Username: req.Username,
			Token:    req.Token,
		})
	})

	return c.JSON(http.StatusAccepted, &ingestAcceptedResponse{TagUID: tagUID, Name: name})
}

// runIngestion executes one ingestion run detached from the request. The run
// is bounded by the lock lease so an abandoned clone cannot hang forever.
func (s *APIV1Service) runIngestion(run func(ctx context.Context) *ingest.Result) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.profile.IngestLockLease)
		defer cancel()

		result := run(ctx)
		s.logger.Info("ingestion run finished",
			slog.String(observability.LogFieldTagUID, result.TagUID),
			slog.String("outcome", string(result.Outcome)),
		)
		if s.ingestDone != nil {
			s.ingestDone(result)
		}
	}()
}
