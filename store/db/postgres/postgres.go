package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/riverchat/riverchat/internal/profile"
	"github.com/riverchat/riverchat/store"
)

// PostgreSQL is the primary database for production use. All features are
// fully supported, including vector search through the pgvector extension.

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database: %s", profile.DSN)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(2 * time.Hour)
	db.SetConnMaxIdleTime(15 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &DB{db: db, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) IsInitialized(ctx context.Context) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_catalog = current_database() AND table_name = 'chat' AND table_type = 'BASE TABLE')",
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check if database is initialized")
	}
	return exists, nil
}

// EmbeddingDim must match the embedding model's output dimension.
// text-embedding-3-small produces 1536-dimensional vectors.
const EmbeddingDim = 1536

var schema = fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chat (
	uid TEXT PRIMARY KEY,
	creator_id INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_creator_id ON chat (creator_id);

CREATE TABLE IF NOT EXISTS message (
	uid TEXT PRIMARY KEY,
	chat_uid TEXT NOT NULL REFERENCES chat (uid) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	tag_uid TEXT,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_message_chat_uid ON message (chat_uid);

CREATE TABLE IF NOT EXISTS knowledge_tag (
	uid TEXT PRIMARY KEY,
	creator_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_knowledge_tag_creator_id ON knowledge_tag (creator_id);

CREATE TABLE IF NOT EXISTS knowledge_chunk (
	id BIGSERIAL PRIMARY KEY,
	tag_uid TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	embedding vector(%d) NOT NULL,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_knowledge_chunk_tag_uid ON knowledge_chunk (tag_uid);
CREATE INDEX IF NOT EXISTS idx_knowledge_chunk_embedding ON knowledge_chunk
	USING hnsw (embedding vector_cosine_ops);
`, EmbeddingDim)

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to apply postgres schema")
	}
	return nil
}

// placeholder returns the postgres positional parameter for index n (1-based).
func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

// placeholders returns "$1, $2, ..., $n".
func placeholders(n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = placeholder(i + 1)
	}
	return strings.Join(list, ", ")
}
