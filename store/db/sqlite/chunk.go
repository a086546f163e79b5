package sqlite

import (
	"context"
	"errors"

	"github.com/riverchat/riverchat/store"
)

// Knowledge chunks require vector search and are NOT supported on SQLite.
// SQLite is intended for development/testing only; use PostgreSQL with the
// pgvector extension for knowledge-base features.

// ErrSQLiteVectorNotSupported is returned when vector operations are
// requested on SQLite.
var ErrSQLiteVectorNotSupported = errors.New("knowledge chunks are not supported on SQLite; use PostgreSQL with pgvector")

func (d *DB) UpsertChunks(ctx context.Context, chunks []*store.Chunk) error {
	return ErrSQLiteVectorNotSupported
}

func (d *DB) SearchChunksByVector(ctx context.Context, search *store.SearchChunks) ([]*store.ChunkMatch, error) {
	return nil, ErrSQLiteVectorNotSupported
}

func (d *DB) DeleteChunksByTag(ctx context.Context, tagUID string) error {
	return ErrSQLiteVectorNotSupported
}
