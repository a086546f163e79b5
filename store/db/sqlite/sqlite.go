package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/riverchat/riverchat/internal/profile"
	"github.com/riverchat/riverchat/store"
)

// SQLite is for development and testing only. Chat, message and tag models
// are fully supported; vector operations are not (use postgres + pgvector).

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	// _pragma lines: WAL for concurrent readers during writes, busy_timeout
	// so writers queue instead of failing immediately.
	dsn := profile.DSN + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database: %s", profile.DSN)
	}

	// SQLite handles a single writer; keep the pool small.
	db.SetMaxOpenConns(4)

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
		"SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = 'chat')",
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check if database is initialized")
	}
	return exists, nil
}

const schema = `
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
`

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to apply sqlite schema")
	}
	return nil
}
