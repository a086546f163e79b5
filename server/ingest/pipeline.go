package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/riverchat/riverchat/internal/profile"
	"github.com/riverchat/riverchat/server/ai"
	rcerrors "github.com/riverchat/riverchat/server/internal/errors"
	"github.com/riverchat/riverchat/server/internal/observability"
	"github.com/riverchat/riverchat/server/lock"
	"github.com/riverchat/riverchat/store"
)

// Outcome is the terminal state of one ingestion run.
type Outcome string

const (
	// OutcomeSuccess means the tag was created and is now queryable.
	OutcomeSuccess Outcome = "SUCCESS"
	// OutcomeLockContended means another run holds the source lock; nothing
	// was written.
	OutcomeLockContended Outcome = "LOCK_CONTENDED"
	// OutcomeInterrupted means the run was cancelled mid-flight. Chunks may
	// have been written but no tag exists, so they are unreachable.
	OutcomeInterrupted Outcome = "INTERRUPTED"
	// OutcomeFailed means the run hit an unrecoverable error before the tag
	// was created.
	OutcomeFailed Outcome = "FAILED"
)

// Result summarizes an ingestion run.
type Result struct {
	TagUID         string
	Outcome        Outcome
	FilesProcessed int
	FilesFailed    int
	Err            error
}

// UploadFile is one document within an upload batch.
type UploadFile struct {
	Name    string
	Content []byte
}

// UploadRequest ingests a batch of uploaded documents under one tag.
type UploadRequest struct {
	UserID  int32
	TagUID  string
	TagName string
	Files   []UploadFile
}

// RepositoryRequest ingests every readable file of a git repository.
type RepositoryRequest struct {
	UserID  int32
	TagUID  string
	TagName string
	RepoURL string
	// Username and Token authenticate against private repositories.
	Username string
	Token    string
}

// repositoryCheck is one validation predicate; returns nil when the request
// passes.
type repositoryCheck func(*RepositoryRequest) *rcerrors.Error

// repositoryChecks run in order before the lock is touched.
var repositoryChecks = []repositoryCheck{
	func(r *RepositoryRequest) *rcerrors.Error {
		if r.UserID <= 0 {
			return rcerrors.Unauthorized("missing caller identity")
		}
		return nil
	},
	func(r *RepositoryRequest) *rcerrors.Error {
		if r.TagUID == "" {
			return rcerrors.InvalidArgument("tag uid must not be empty")
		}
		return nil
	},
	func(r *RepositoryRequest) *rcerrors.Error {
		if r.RepoURL == "" {
			return rcerrors.InvalidArgument("repository url must not be empty")
		}
		return nil
	},
}

// Pipeline turns raw documents into tagged, embedded knowledge chunks.
type Pipeline struct {
	store    *store.Store
	embedder ai.Embedder
	locker   lock.Locker
	profile  *profile.Profile
	logger   *slog.Logger

	// clone is swappable for tests.
	clone func(ctx context.Context, repoURL, username, token, dest string) error
}

// New creates a Pipeline.
func New(st *store.Store, embedder ai.Embedder, locker lock.Locker, p *profile.Profile, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:    st,
		embedder: embedder,
		locker:   locker,
		profile:  p,
		logger:   logger,
		clone:    cloneRepository,
	}
}

// LockKey returns the lease-lock key guarding one repository source. Hashing
// keeps credentials and unbounded URLs out of the lock namespace.
func LockKey(repoURL string) string {
	sum := sha256.Sum256([]byte(repoURL))
	return "ingest:" + hex.EncodeToString(sum[:])
}

// IngestUpload ingests uploaded files under a new knowledge tag. A file that
// fails extraction or embedding is logged and skipped; the tag row is written
// last, after every surviving chunk landed, so a partial run never surfaces a
// tag. A batch where nothing survived fails outright.
func (p *Pipeline) IngestUpload(ctx context.Context, req *UploadRequest) *Result {
	rc := observability.NewRequestContext(p.logger, "ingest", req.UserID)
	result := &Result{TagUID: req.TagUID}

	for _, file := range req.Files {
		if ctx.Err() != nil {
			return p.finish(ctx, rc, result, rcerrors.Interrupted(ctx.Err()))
		}
		if err := p.ingestFile(ctx, req.TagUID, file.Name, file.Content); err != nil {
			if rcerrors.IsKind(err, rcerrors.KindExtraction) || rcerrors.IsKind(err, rcerrors.KindUpstreamModel) {
				result.FilesFailed++
				rc.Warn("skipped file",
					slog.String("file", file.Name),
					slog.String("error", err.Error()),
				)
				continue
			}
			return p.finish(ctx, rc, result, err)
		}
		result.FilesProcessed++
	}

	if result.FilesProcessed == 0 {
		return p.finish(ctx, rc, result, rcerrors.Extraction("no ingestible files in upload", nil))
	}

	if _, err := p.store.CreateKnowledgeTag(ctx, &store.KnowledgeTag{
		UID:       req.TagUID,
		CreatorID: req.UserID,
		Name:      req.TagName,
	}); err != nil {
		return p.finish(ctx, rc, result, rcerrors.Internal("failed to create knowledge tag", err))
	}

	return p.finish(ctx, rc, result, nil)
}

// IngestRepository clones a git repository and ingests its files under a new
// knowledge tag. Concurrent runs against the same source are rejected with
// OutcomeLockContended. The working directory is removed and the source lock
// released on every path out, including cancellation.
func (p *Pipeline) IngestRepository(ctx context.Context, req *RepositoryRequest) *Result {
	rc := observability.NewRequestContext(p.logger, "ingest", req.UserID)
	result := &Result{TagUID: req.TagUID}

	for _, check := range repositoryChecks {
		if err := check(req); err != nil {
			return p.finish(ctx, rc, result, err)
		}
	}

	key := LockKey(req.RepoURL)
	token, err := p.locker.TryAcquire(ctx, key, p.profile.IngestLockLease)
	if err != nil {
		return p.finish(ctx, rc, result, rcerrors.Internal("failed to acquire ingest lock", err))
	}
	if token == "" {
		result.Outcome = OutcomeLockContended
		result.Err = rcerrors.LockContended("source is being ingested by another run")
		rc.Warn("ingest lock contended", slog.String("repo_url", req.RepoURL))
		return result
	}
	// Cleanup must run even when ctx is already cancelled.
	defer func() {
		if err := p.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			rc.Error("failed to release ingest lock", err)
		}
	}()

	workdir := filepath.Join(p.profile.ReposDir(), strconv.FormatInt(int64(req.UserID), 10), ProjectName(req.RepoURL))
	defer func() {
		if err := os.RemoveAll(workdir); err != nil {
			rc.Error("failed to remove working directory", err, slog.String("workdir", workdir))
		}
	}()

	if err := os.MkdirAll(filepath.Dir(workdir), 0o755); err != nil {
		return p.finish(ctx, rc, result, rcerrors.Internal("failed to prepare working directory", err))
	}
	// A leftover from a crashed run would make git refuse the clone.
	if err := os.RemoveAll(workdir); err != nil {
		return p.finish(ctx, rc, result, rcerrors.Internal("failed to clear working directory", err))
	}

	if err := p.clone(ctx, req.RepoURL, req.Username, req.Token, workdir); err != nil {
		if ctx.Err() != nil {
			return p.finish(ctx, rc, result, rcerrors.Interrupted(ctx.Err()))
		}
		return p.finish(ctx, rc, result, rcerrors.Internal("failed to clone repository", err))
	}

	if err := p.walkAndIngest(ctx, rc, req.TagUID, workdir, result); err != nil {
		return p.finish(ctx, rc, result, err)
	}

	// Cleanup precedes the visibility point; the defer stays as a backstop
	// for the error paths above.
	if err := os.RemoveAll(workdir); err != nil {
		return p.finish(ctx, rc, result, rcerrors.Internal("failed to remove working directory", err))
	}

	if _, err := p.store.CreateKnowledgeTag(ctx, &store.KnowledgeTag{
		UID:       req.TagUID,
		CreatorID: req.UserID,
		Name:      req.TagName,
	}); err != nil {
		return p.finish(ctx, rc, result, rcerrors.Internal("failed to create knowledge tag", err))
	}

	return p.finish(ctx, rc, result, nil)
}

// walkAndIngest processes every regular file under root, skipping the .git
// tree. A single file failing extraction or embedding is logged and counted
// without aborting the walk; only cancellation and store-level failures stop
// the run.
func (p *Pipeline) walkAndIngest(ctx context.Context, rc *observability.RequestContext, tagUID, root string, result *Result) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return rcerrors.Internal("failed to walk repository", err)
		}
		if ctx.Err() != nil {
			return rcerrors.Interrupted(ctx.Err())
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = d.Name()
		}

		content, err := os.ReadFile(path)
		if err != nil {
			result.FilesFailed++
			rc.Warn("failed to read file", slog.String("file", rel), slog.String("error", err.Error()))
			return nil
		}

		if err := p.ingestFile(ctx, tagUID, rel, content); err != nil {
			if rcerrors.IsKind(err, rcerrors.KindExtraction) || rcerrors.IsKind(err, rcerrors.KindUpstreamModel) {
				result.FilesFailed++
				rc.Warn("skipped file",
					slog.String("file", rel),
					slog.String(observability.LogFieldErrorKind, string(rcerrors.KindOf(err, rcerrors.KindExtraction))),
					slog.String("error", err.Error()),
				)
				return nil
			}
			return err
		}
		result.FilesProcessed++
		return nil
	})
}

// embedConcurrency bounds in-flight embedding calls per document.
const embedConcurrency = 4

// ingestFile extracts, chunks, embeds, and upserts one document. Chunks are
// embedded concurrently but upserted as a single batch.
func (p *Pipeline) ingestFile(ctx context.Context, tagUID, filename string, content []byte) error {
	text, err := ExtractText(filename, content)
	if err != nil {
		return err
	}
	if text == "" {
		return rcerrors.Extraction("empty document", nil)
	}

	now := time.Now().Unix()
	pieces := ai.ChunkDocument(text)
	chunks := make([]*store.Chunk, len(pieces))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(embedConcurrency)
	for i, piece := range pieces {
		i, piece := i, piece
		group.Go(func() error {
			embedding, err := p.embedder.Embedding(groupCtx, piece)
			if err != nil {
				return err
			}
			chunks[i] = &store.Chunk{
				TagUID:    tagUID,
				Source:    filename,
				Content:   piece,
				Embedding: embedding,
				CreatedTs: now,
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	if err := p.store.UpsertChunks(ctx, chunks); err != nil {
		return rcerrors.Internal("failed to store knowledge chunks", err)
	}
	return nil
}

// finish maps the terminal error onto an outcome and logs the run summary.
func (p *Pipeline) finish(ctx context.Context, rc *observability.RequestContext, result *Result, err error) *Result {
	switch {
	case err == nil:
		result.Outcome = OutcomeSuccess
	case rcerrors.IsKind(err, rcerrors.KindInterrupted) || ctx.Err() != nil:
		result.Outcome = OutcomeInterrupted
	default:
		result.Outcome = OutcomeFailed
	}
	result.Err = err

	if err != nil {
		rc.Error("ingestion finished", err,
			slog.String(observability.LogFieldTagUID, result.TagUID),
			slog.String("outcome", string(result.Outcome)),
			slog.Int("files_processed", result.FilesProcessed),
			slog.Int("files_failed", result.FilesFailed),
			slog.Int64(observability.LogFieldDuration, rc.DurationMs()),
		)
	} else {
		rc.Info("ingestion finished",
			slog.String(observability.LogFieldTagUID, result.TagUID),
			slog.String("outcome", string(result.Outcome)),
			slog.Int("files_processed", result.FilesProcessed),
			slog.Int("files_failed", result.FilesFailed),
			slog.Int64(observability.LogFieldDuration, rc.DurationMs()),
		)
	}
	return result
}
