package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that a store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)
	Migrate(ctx context.Context) error

	// Chat model related methods.
	CreateChat(ctx context.Context, create *Chat) (*Chat, error)
	ListChats(ctx context.Context, find *FindChat) ([]*Chat, error)
	UpdateChat(ctx context.Context, update *UpdateChat) error
	DeleteChat(ctx context.Context, delete *DeleteChat) error

	// Message model related methods. Messages are insert-only; deletion
	// happens through the chat cascade.
	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)

	// KnowledgeTag model related methods.
	CreateKnowledgeTag(ctx context.Context, create *KnowledgeTag) (*KnowledgeTag, error)
	ListKnowledgeTags(ctx context.Context, find *FindKnowledgeTag) ([]*KnowledgeTag, error)
	DeleteKnowledgeTag(ctx context.Context, delete *DeleteKnowledgeTag) error

	// Chunk model related methods. Vector search requires postgres with the
	// pgvector extension.
	UpsertChunks(ctx context.Context, chunks []*Chunk) error
	SearchChunksByVector(ctx context.Context, search *SearchChunks) ([]*ChunkMatch, error)
	DeleteChunksByTag(ctx context.Context, tagUID string) error
}
