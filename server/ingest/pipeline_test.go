package ingest

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/riverchat/riverchat/internal/profile"
	rcerrors "github.com/riverchat/riverchat/server/internal/errors"
	"github.com/riverchat/riverchat/server/lock"
	"github.com/riverchat/riverchat/store"
)

type fakeDriver struct {
	mu     sync.Mutex
	tags   []*store.KnowledgeTag
	chunks []*store.Chunk

	// onCreateTag observes the moment the tag row is written.
	onCreateTag func()
}

func (d *fakeDriver) GetDB() *sql.DB                              { return nil }
func (d *fakeDriver) Close() error                                { return nil }
func (d *fakeDriver) IsInitialized(context.Context) (bool, error) { return true, nil }
func (d *fakeDriver) Migrate(context.Context) error               { return nil }

func (d *fakeDriver) CreateChat(_ context.Context, create *store.Chat) (*store.Chat, error) {
	return create, nil
}
func (d *fakeDriver) ListChats(context.Context, *store.FindChat) ([]*store.Chat, error) {
	return nil, nil
}
func (d *fakeDriver) UpdateChat(context.Context, *store.UpdateChat) error { return nil }
func (d *fakeDriver) DeleteChat(context.Context, *store.DeleteChat) error { return nil }

func (d *fakeDriver) CreateMessage(_ context.Context, create *store.Message) (*store.Message, error) {
	return create, nil
}
func (d *fakeDriver) ListMessages(context.Context, *store.FindMessage) ([]*store.Message, error) {
	return nil, nil
}

func (d *fakeDriver) CreateKnowledgeTag(_ context.Context, create *store.KnowledgeTag) (*store.KnowledgeTag, error) {
	if d.onCreateTag != nil {
		d.onCreateTag()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tags = append(d.tags, create)
	return create, nil
}

func (d *fakeDriver) ListKnowledgeTags(_ context.Context, find *store.FindKnowledgeTag) ([]*store.KnowledgeTag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := []*store.KnowledgeTag{}
	for _, tag := range d.tags {
		if find.UID != nil && tag.UID != *find.UID {
			continue
		}
		list = append(list, tag)
	}
	return list, nil
}

func (d *fakeDriver) DeleteKnowledgeTag(context.Context, *store.DeleteKnowledgeTag) error { return nil }

func (d *fakeDriver) UpsertChunks(_ context.Context, chunks []*store.Chunk) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chunks = append(d.chunks, chunks...)
	return nil
}

func (d *fakeDriver) SearchChunksByVector(context.Context, *store.SearchChunks) ([]*store.ChunkMatch, error) {
	return nil, nil
}
func (d *fakeDriver) DeleteChunksByTag(context.Context, string) error { return nil }

func (d *fakeDriver) tagCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tags)
}

func (d *fakeDriver) chunkSources() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	sources := []string{}
	for _, chunk := range d.chunks {
		sources = append(sources, chunk.Source)
	}
	return sources
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embedding(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func newTestPipeline(t *testing.T, driver *fakeDriver) *Pipeline {
	t.Helper()
	p := &profile.Profile{
		Data:            t.TempDir(),
		CacheTTL:        time.Minute,
		IngestLockLease: time.Minute,
	}
	st := store.New(driver, p)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, fakeEmbedder{}, lock.NewMemoryLocker(), p, nil)
}

func writeRepoFiles(t *testing.T, dest string, files map[string][]byte) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dest, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, content, 0o644))
	}
}

func TestIngestUploadSuccess(t *testing.T) {
	driver := &fakeDriver{}
	pipeline := newTestPipeline(t, driver)

	result := pipeline.IngestUpload(context.Background(), &UploadRequest{
		UserID:  1,
		TagUID:  "tag-1",
		TagName: "notes",
		Files: []UploadFile{
			{Name: "notes.md", Content: []byte("# Rivers\n\nRivers flow downhill toward the sea.")},
			{Name: "extra.txt", Content: []byte("Tributaries join the main stem.")},
		},
	})

	require.Equal(t, OutcomeSuccess, result.Outcome)
	require.NoError(t, result.Err)
	require.Equal(t, 2, result.FilesProcessed)
	require.Equal(t, 1, driver.tagCount())
	require.Contains(t, driver.chunkSources(), "notes.md")
	require.Contains(t, driver.chunkSources(), "extra.txt")
}

func TestIngestUploadSkipsUnreadableFile(t *testing.T) {
	driver := &fakeDriver{}
	pipeline := newTestPipeline(t, driver)

	result := pipeline.IngestUpload(context.Background(), &UploadRequest{
		UserID:  1,
		TagUID:  "tag-1",
		TagName: "mixed",
		Files: []UploadFile{
			{Name: "good.md", Content: []byte("Readable content.")},
			{Name: "bad.bin", Content: []byte{0x00, 0x01}},
		},
	})

	require.Equal(t, OutcomeSuccess, result.Outcome)
	require.Equal(t, 1, result.FilesProcessed)
	require.Equal(t, 1, result.FilesFailed)
	require.Equal(t, 1, driver.tagCount())
}

func TestIngestUploadBinaryFails(t *testing.T) {
	driver := &fakeDriver{}
	pipeline := newTestPipeline(t, driver)

	result := pipeline.IngestUpload(context.Background(), &UploadRequest{
		UserID:  1,
		TagUID:  "tag-1",
		TagName: "blob",
		Files: []UploadFile{
			{Name: "image.png", Content: []byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0x01}},
		},
	})

	require.Equal(t, OutcomeFailed, result.Outcome)
	require.True(t, rcerrors.IsKind(result.Err, rcerrors.KindExtraction))
	require.Zero(t, driver.tagCount())
}

func TestIngestRepositorySuccess(t *testing.T) {
	driver := &fakeDriver{}
	pipeline := newTestPipeline(t, driver)
	pipeline.clone = func(_ context.Context, _, _, _, dest string) error {
		writeRepoFiles(t, dest, map[string][]byte{
			"README.md":   []byte("# Project\n\nDocumentation for the project."),
			"docs/faq.md": []byte("Frequently asked questions."),
			".git/config": []byte("[core]\n\trepositoryformatversion = 0"),
		})
		return nil
	}

	result := pipeline.IngestRepository(context.Background(), &RepositoryRequest{
		UserID:  1,
		TagUID:  "tag-repo",
		TagName: "project",
		RepoURL: "https://example.com/org/project.git",
	})

	require.Equal(t, OutcomeSuccess, result.Outcome)
	require.Equal(t, 2, result.FilesProcessed)
	require.Zero(t, result.FilesFailed)
	require.Equal(t, 1, driver.tagCount())

	for _, source := range driver.chunkSources() {
		require.NotContains(t, source, ".git")
	}

	// Working directory is gone after the run.
	workdir := filepath.Join(pipeline.profile.ReposDir(), "1", "project")
	_, err := os.Stat(workdir)
	require.True(t, os.IsNotExist(err))
}

func TestIngestRepositoryCleansWorkdirBeforeTag(t *testing.T) {
	driver := &fakeDriver{}
	pipeline := newTestPipeline(t, driver)
	pipeline.clone = func(_ context.Context, _, _, _, dest string) error {
		writeRepoFiles(t, dest, map[string][]byte{"README.md": []byte("content")})
		return nil
	}

	workdir := filepath.Join(pipeline.profile.ReposDir(), "1", "project")
	var workdirAtTag error
	driver.onCreateTag = func() {
		_, workdirAtTag = os.Stat(workdir)
	}

	result := pipeline.IngestRepository(context.Background(), &RepositoryRequest{
		UserID:  1,
		TagUID:  "tag-repo",
		TagName: "project",
		RepoURL: "https://example.com/org/project",
	})

	require.Equal(t, OutcomeSuccess, result.Outcome)
	require.True(t, os.IsNotExist(workdirAtTag))
}

func TestIngestRepositoryPerFileIsolation(t *testing.T) {
	driver := &fakeDriver{}
	pipeline := newTestPipeline(t, driver)
	pipeline.clone = func(_ context.Context, _, _, _, dest string) error {
		files := map[string][]byte{}
		for _, name := range []string{"a.md", "b.md", "c.md", "d.md", "e.md", "f.md", "h.md", "i.md", "j.md"} {
			files[name] = []byte("Readable content for " + name)
		}
		files["g.bin"] = []byte{0x00, 0x01, 0x02}
		writeRepoFiles(t, dest, files)
		return nil
	}

	result := pipeline.IngestRepository(context.Background(), &RepositoryRequest{
		UserID:  1,
		TagUID:  "tag-repo",
		TagName: "mixed",
		RepoURL: "https://example.com/org/mixed",
	})

	require.Equal(t, OutcomeSuccess, result.Outcome)
	require.Equal(t, 9, result.FilesProcessed)
	require.Equal(t, 1, result.FilesFailed)
	require.Equal(t, 1, driver.tagCount())
}

func TestIngestRepositoryLockContention(t *testing.T) {
	driver := &fakeDriver{}
	pipeline := newTestPipeline(t, driver)

	cloneStarted := make(chan struct{})
	cloneRelease := make(chan struct{})
	pipeline.clone = func(_ context.Context, _, _, _, dest string) error {
		close(cloneStarted)
		<-cloneRelease
		writeRepoFiles(t, dest, map[string][]byte{"README.md": []byte("content")})
		return nil
	}

	first := make(chan *Result, 1)
	go func() {
		first <- pipeline.IngestRepository(context.Background(), &RepositoryRequest{
			UserID: 1, TagUID: "tag-a", TagName: "a", RepoURL: "https://example.com/org/repo",
		})
	}()

	<-cloneStarted
	second := pipeline.IngestRepository(context.Background(), &RepositoryRequest{
		UserID: 2, TagUID: "tag-b", TagName: "b", RepoURL: "https://example.com/org/repo",
	})
	require.Equal(t, OutcomeLockContended, second.Outcome)
	require.True(t, rcerrors.IsKind(second.Err, rcerrors.KindLockContended))

	close(cloneRelease)
	require.Equal(t, OutcomeSuccess, (<-first).Outcome)

	// The lock is released after completion, so a fresh run may proceed.
	pipeline.clone = func(_ context.Context, _, _, _, dest string) error {
		writeRepoFiles(t, dest, map[string][]byte{"README.md": []byte("content")})
		return nil
	}
	third := pipeline.IngestRepository(context.Background(), &RepositoryRequest{
		UserID: 1, TagUID: "tag-c", TagName: "c", RepoURL: "https://example.com/org/repo",
	})
	require.Equal(t, OutcomeSuccess, third.Outcome)
}

func TestIngestRepositoryInterrupted(t *testing.T) {
	driver := &fakeDriver{}
	pipeline := newTestPipeline(t, driver)

	ctx, cancel := context.WithCancel(context.Background())
	pipeline.clone = func(_ context.Context, _, _, _, dest string) error {
		writeRepoFiles(t, dest, map[string][]byte{"README.md": []byte("content")})
		cancel()
		return nil
	}

	result := pipeline.IngestRepository(ctx, &RepositoryRequest{
		UserID:  1,
		TagUID:  "tag-repo",
		TagName: "project",
		RepoURL: "https://example.com/org/project",
	})

	require.Equal(t, OutcomeInterrupted, result.Outcome)
	require.Zero(t, driver.tagCount())

	workdir := filepath.Join(pipeline.profile.ReposDir(), "1", "project")
	_, err := os.Stat(workdir)
	require.True(t, os.IsNotExist(err))

	// The lock was released despite the cancelled context.
	ok, err := lockProbe(pipeline, "https://example.com/org/project")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestIngestRepositoryCloneFailure(t *testing.T) {
	driver := &fakeDriver{}
	pipeline := newTestPipeline(t, driver)
	pipeline.clone = func(context.Context, string, string, string, string) error {
		return errors.New("remote not found")
	}

	result := pipeline.IngestRepository(context.Background(), &RepositoryRequest{
		UserID:  1,
		TagUID:  "tag-repo",
		TagName: "project",
		RepoURL: "https://example.com/org/missing",
	})

	require.Equal(t, OutcomeFailed, result.Outcome)
	require.Zero(t, driver.tagCount())

	ok, err := lockProbe(pipeline, "https://example.com/org/missing")
	require.NoError(t, err)
	require.True(t, ok)
}

func lockProbe(p *Pipeline, repoURL string) (bool, error) {
	ctx := context.Background()
	key := LockKey(repoURL)
	token, err := p.locker.TryAcquire(ctx, key, time.Minute)
	if token != "" {
		_ = p.locker.Release(ctx, key, token)
	}
	return token != "", err
}

func TestProjectName(t *testing.T) {
	require.Equal(t, "project", ProjectName("https://example.com/org/project.git"))
	require.Equal(t, "project", ProjectName("https://example.com/org/project"))
	require.Equal(t, "project", ProjectName("git@example.com:org/project.git"))
	require.Equal(t, "project", ProjectName("https://example.com/org/project/"))
}
