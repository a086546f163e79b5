package store

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/riverchat/riverchat/internal/profile"
	"github.com/riverchat/riverchat/store/cache"
)

// Store provides database access to all raw objects. Chat and message
// listings go through read-through TTL caches; every writer invalidates the
// affected keys synchronously before returning, so readers behind a writer
// never observe the pre-write snapshot beyond the cache TTL.
type Store struct {
	profile *profile.Profile
	driver  Driver

	chatListCache    *cache.Cache // userID -> []*Chat
	messageListCache *cache.Cache // chatUID -> []*Message
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	cacheConfig := cache.Config{
		DefaultTTL:      profile.CacheTTL,
		CleanupInterval: time.Minute,
		MaxItems:        1000,
	}

	return &Store{
		driver:           driver,
		profile:          profile,
		chatListCache:    cache.New(cacheConfig),
		messageListCache: cache.New(cacheConfig),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	s.chatListCache.Close()
	s.messageListCache.Close()
	return s.driver.Close()
}

// NewUID returns a fresh UUIDv7. UUIDv7 is time-ordered, so chats and
// messages sort by creation time even when timestamps collide.
func NewUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does; fall back to v4
		// rather than propagating an error through every caller.
		return uuid.NewString()
	}
	return id.String()
}

// NewTagUID returns a fresh short UID for knowledge tags.
func NewTagUID() string {
	return shortuuid.New()
}

func chatListKey(userID int32) string {
	return "chats:" + strconv.FormatInt(int64(userID), 10)
}

func messageListKey(chatUID string) string {
	return "messages:" + chatUID
}

// CreateChat inserts a chat and invalidates the creator's chat listing.
func (s *Store) CreateChat(ctx context.Context, create *Chat) (*Chat, error) {
	if create.UID == "" {
		create.UID = NewUID()
	}
	now := time.Now().Unix()
	if create.CreatedTs == 0 {
		create.CreatedTs = now
	}
	if create.UpdatedTs == 0 {
		create.UpdatedTs = create.CreatedTs
	}

	chat, err := s.driver.CreateChat(ctx, create)
	if err != nil {
		return nil, err
	}
	s.chatListCache.Delete(ctx, chatListKey(chat.CreatorID))
	return chat, nil
}

// UpdateChatTitle renames a chat and invalidates the owner's chat listing.
func (s *Store) UpdateChatTitle(ctx context.Context, chatUID string, ownerID int32, title string) error {
	if err := s.driver.UpdateChat(ctx, &UpdateChat{UID: chatUID, Title: &title}); err != nil {
		return errors.Wrap(err, "failed to update chat title")
	}
	s.chatListCache.Delete(ctx, chatListKey(ownerID))
	return nil
}

// ListChats returns the user's chats, newest-updated first, through the cache.
func (s *Store) ListChats(ctx context.Context, userID int32) ([]*Chat, error) {
	v, err := s.chatListCache.GetOrLoad(ctx, chatListKey(userID), func(ctx context.Context) (any, error) {
		return s.driver.ListChats(ctx, &FindChat{CreatorID: &userID})
	})
	if err != nil {
		return nil, err
	}
	return v.([]*Chat), nil
}

// GetChat returns a single chat by UID, or nil when absent.
func (s *Store) GetChat(ctx context.Context, uid string) (*Chat, error) {
	chats, err := s.driver.ListChats(ctx, &FindChat{UID: &uid})
	if err != nil {
		return nil, err
	}
	if len(chats) == 0 {
		return nil, nil
	}
	return chats[0], nil
}

// IsChatOwnedBy reports whether the chat exists and belongs to userID.
func (s *Store) IsChatOwnedBy(ctx context.Context, chatUID string, userID int32) (bool, error) {
	chat, err := s.GetChat(ctx, chatUID)
	if err != nil {
		return false, err
	}
	return chat != nil && chat.CreatorID == userID, nil
}

// DeleteChat removes a chat and its messages, then invalidates both listings.
func (s *Store) DeleteChat(ctx context.Context, chatUID string, ownerID int32) error {
	if err := s.driver.DeleteChat(ctx, &DeleteChat{UID: chatUID}); err != nil {
		return err
	}
	s.chatListCache.Delete(ctx, chatListKey(ownerID))
	s.messageListCache.Delete(ctx, messageListKey(chatUID))
	return nil
}

// CreateMessage inserts a message, bumps the parent chat's updated timestamp,
// and invalidates the affected listings. ownerID is the chat owner, needed to
// drop their chat listing (ordering there follows UpdatedTs).
func (s *Store) CreateMessage(ctx context.Context, create *Message, ownerID int32) (*Message, error) {
	if create.UID == "" {
		create.UID = NewUID()
	}
	now := time.Now().Unix()
	if create.CreatedTs == 0 {
		create.CreatedTs = now
	}

	msg, err := s.driver.CreateMessage(ctx, create)
	if err != nil {
		return nil, err
	}
	// The message row is durable from here on; the listings must drop even
	// when the timestamp bump fails, or readers serve stale data until TTL.
	defer func() {
		s.messageListCache.Delete(ctx, messageListKey(create.ChatUID))
		s.chatListCache.Delete(ctx, chatListKey(ownerID))
	}()
	if err := s.driver.UpdateChat(ctx, &UpdateChat{UID: create.ChatUID, UpdatedTs: &now}); err != nil {
		return nil, errors.Wrap(err, "failed to bump chat timestamp")
	}
	return msg, nil
}

// ListMessages returns the chat's messages in creation order, through the
// cache.
func (s *Store) ListMessages(ctx context.Context, chatUID string) ([]*Message, error) {
	v, err := s.messageListCache.GetOrLoad(ctx, messageListKey(chatUID), func(ctx context.Context) (any, error) {
		return s.driver.ListMessages(ctx, &FindMessage{ChatUID: &chatUID})
	})
	if err != nil {
		return nil, err
	}
	return v.([]*Message), nil
}

// CreateKnowledgeTag records a completed ingestion's tag. This is the
// visibility point: a crash before this call leaves no visible tag.
func (s *Store) CreateKnowledgeTag(ctx context.Context, create *KnowledgeTag) (*KnowledgeTag, error) {
	if create.UID == "" {
		create.UID = NewTagUID()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	return s.driver.CreateKnowledgeTag(ctx, create)
}

// ListKnowledgeTags returns the user's knowledge tags.
func (s *Store) ListKnowledgeTags(ctx context.Context, userID int32) ([]*KnowledgeTag, error) {
	return s.driver.ListKnowledgeTags(ctx, &FindKnowledgeTag{CreatorID: &userID})
}

// IsTagOwnedBy reports whether the tag exists and belongs to userID.
func (s *Store) IsTagOwnedBy(ctx context.Context, tagUID string, userID int32) (bool, error) {
	tags, err := s.driver.ListKnowledgeTags(ctx, &FindKnowledgeTag{UID: &tagUID})
	if err != nil {
		return false, err
	}
	return len(tags) == 1 && tags[0].CreatorID == userID, nil
}

// UpsertChunks writes a batch of tagged chunks to the vector store.
func (s *Store) UpsertChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return s.driver.UpsertChunks(ctx, chunks)
}

// SearchChunksByVector answers a similarity query filtered to one tag.
func (s *Store) SearchChunksByVector(ctx context.Context, search *SearchChunks) ([]*ChunkMatch, error) {
	return s.driver.SearchChunksByVector(ctx, search)
}
