package v1

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/riverchat/riverchat/internal/profile"
	"github.com/riverchat/riverchat/server/ai"
	"github.com/riverchat/riverchat/server/generator"
	"github.com/riverchat/riverchat/server/ingest"
	"github.com/riverchat/riverchat/server/lock"
	"github.com/riverchat/riverchat/store"
)

type memDriver struct {
	mu       sync.Mutex
	chats    []*store.Chat
	messages []*store.Message
	tags     []*store.KnowledgeTag
	chunks   []*store.Chunk
}

func (d *memDriver) GetDB() *sql.DB                              { return nil }
func (d *memDriver) Close() error                                { return nil }
func (d *memDriver) IsInitialized(context.Context) (bool, error) { return true, nil }
func (d *memDriver) Migrate(context.Context) error               { return nil }

func (d *memDriver) CreateChat(_ context.Context, create *store.Chat) (*store.Chat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chats = append(d.chats, create)
	return create, nil
}

func (d *memDriver) ListChats(_ context.Context, find *store.FindChat) ([]*store.Chat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := []*store.Chat{}
	for _, chat := range d.chats {
		if find.UID != nil && chat.UID != *find.UID {
			continue
		}
		if find.CreatorID != nil && chat.CreatorID != *find.CreatorID {
			continue
		}
		list = append(list, chat)
	}
	return list, nil
}

func (d *memDriver) UpdateChat(context.Context, *store.UpdateChat) error { return nil }

func (d *memDriver) DeleteChat(_ context.Context, delete *store.DeleteChat) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.chats[:0]
	for _, chat := range d.chats {
		if chat.UID != delete.UID {
			kept = append(kept, chat)
		}
	}
	d.chats = kept
	return nil
}

func (d *memDriver) CreateMessage(_ context.Context, create *store.Message) (*store.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, create)
	return create, nil
}

func (d *memDriver) ListMessages(_ context.Context, find *store.FindMessage) ([]*store.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := []*store.Message{}
	for _, msg := range d.messages {
		if find.ChatUID != nil && msg.ChatUID != *find.ChatUID {
			continue
		}
		list = append(list, msg)
	}
	return list, nil
}

func (d *memDriver) CreateKnowledgeTag(_ context.Context, create *store.KnowledgeTag) (*store.KnowledgeTag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tags = append(d.tags, create)
	return create, nil
}

func (d *memDriver) ListKnowledgeTags(_ context.Context, find *store.FindKnowledgeTag) ([]*store.KnowledgeTag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := []*store.KnowledgeTag{}
	for _, tag := range d.tags {
		if find.UID != nil && tag.UID != *find.UID {
			continue
		}
		if find.CreatorID != nil && tag.CreatorID != *find.CreatorID {
			continue
		}
		list = append(list, tag)
	}
	return list, nil
}

func (d *memDriver) DeleteKnowledgeTag(context.Context, *store.DeleteKnowledgeTag) error { return nil }

func (d *memDriver) UpsertChunks(_ context.Context, chunks []*store.Chunk) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chunks = append(d.chunks, chunks...)
	return nil
}

func (d *memDriver) SearchChunksByVector(context.Context, *store.SearchChunks) ([]*store.ChunkMatch, error) {
	return nil, nil
}
func (d *memDriver) DeleteChunksByTag(context.Context, string) error { return nil }

type stubStreamer struct {
	tokens []string
}

func (s *stubStreamer) ChatStream(ctx context.Context, _ string, _ []ai.Message) (<-chan string, <-chan error) {
	contentChan := make(chan string)
	errChan := make(chan error, 1)
	go func() {
		defer close(contentChan)
		defer close(errChan)
		for _, token := range s.tokens {
			select {
			case contentChan <- token:
			case <-ctx.Done():
				return
			}
		}
	}()
	return contentChan, errChan
}

type stubEmbedder struct{}

func (stubEmbedder) Embedding(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func newTestService(t *testing.T, driver *memDriver, tokens []string) (*APIV1Service, *echo.Echo) {
	t.Helper()
	p := &profile.Profile{
		Mode:            "dev",
		Data:            t.TempDir(),
		CacheTTL:        time.Minute,
		IngestLockLease: time.Minute,
	}
	st := store.New(driver, p)
	t.Cleanup(func() { _ = st.Close() })

	gen := generator.New(st, stubEmbedder{}, &stubStreamer{tokens: tokens}, nil)
	pipeline := ingest.New(st, stubEmbedder{}, lock.NewMemoryLocker(), p, nil)

	service := NewAPIV1Service(p, st, gen, pipeline, nil)
	e := echo.New()
	service.RegisterRoutes(e)
	return service, e
}

func TestChatLifecycle(t *testing.T) {
	driver := &memDriver{}
	_, e := newTestService(t, driver, nil)

	// Create.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chats", strings.NewReader(`{"title":"rivers"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	created := &chatResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), created))
	require.NotEmpty(t, created.UID)
	require.Equal(t, "rivers", created.Title)

	// List.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/chats", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var chats []*chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chats))
	require.Len(t, chats, 1)

	// Delete.
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/chats/"+created.UID, nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/chats", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chats))
	require.Empty(t, chats)
}

func TestDeleteForeignChatForbidden(t *testing.T) {
	driver := &memDriver{}
	_, e := newTestService(t, driver, nil)

	ctx := context.Background()
	st := store.New(driver, &profile.Profile{CacheTTL: time.Minute})
	t.Cleanup(func() { _ = st.Close() })
	chat, err := st.CreateChat(ctx, &store.Chat{CreatorID: 99, Title: "theirs"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/chats/"+chat.UID, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGenerateStreamEmitsSSE(t *testing.T) {
	driver := &memDriver{}
	_, e := newTestService(t, driver, []string{"Hello", " world"})

	ctx := context.Background()
	st := store.New(driver, &profile.Profile{CacheTTL: time.Minute})
	t.Cleanup(func() { _ = st.Close() })
	chat, err := st.CreateChat(ctx, &store.Chat{CreatorID: 1, Title: "chat"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chats/"+chat.UID+"/generate?message=hi", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))

	body := rec.Body.String()
	require.Contains(t, body, "event: message")
	require.Contains(t, body, "Hello")
	require.Contains(t, body, "event: done")
	require.NotContains(t, body, "event: error")
}

func TestGenerateStreamForeignChatRejected(t *testing.T) {
	driver := &memDriver{}
	_, e := newTestService(t, driver, []string{"x"})

	ctx := context.Background()
	st := store.New(driver, &profile.Profile{CacheTTL: time.Minute})
	t.Cleanup(func() { _ = st.Close() })
	chat, err := st.CreateChat(ctx, &store.Chat{CreatorID: 99, Title: "theirs"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chats/"+chat.UID+"/generate?message=hi", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestIngestUploadAcceptedAndCompleted(t *testing.T) {
	driver := &memDriver{}
	service, e := newTestService(t, driver, nil)

	done := make(chan *ingest.Result, 1)
	service.ingestDone = func(result *ingest.Result) { done <- result }

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "notes.md")
	require.NoError(t, err)
	_, err = part.Write([]byte("# Notes\n\nRivers flow to the sea."))
	require.NoError(t, err)
	require.NoError(t, writer.WriteField("name", "notes"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rag/upload", &body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	accepted := &ingestAcceptedResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), accepted))
	require.NotEmpty(t, accepted.TagUID)

	select {
	case result := <-done:
		require.Equal(t, ingest.OutcomeSuccess, result.Outcome)
		require.Equal(t, accepted.TagUID, result.TagUID)
	case <-time.After(5 * time.Second):
		t.Fatal("ingestion did not complete")
	}

	// The tag is visible once ingestion completed.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/rag/tags", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var tags []*knowledgeTagResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tags))
	require.Len(t, tags, 1)
	require.Equal(t, accepted.TagUID, tags[0].UID)
}

func TestIngestRepositoryRequiresURL(t *testing.T) {
	driver := &memDriver{}
	_, e := newTestService(t, driver, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rag/repository", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
