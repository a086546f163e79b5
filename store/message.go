package store

// MessageRole is the author of one conversation turn.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Message is one turn within a chat. Messages are insert-only; they are
// removed only through cascading chat deletion.
type Message struct {
	// UID is a UUIDv7; insertion order and UID order agree.
	UID     string
	ChatUID string
	Role    MessageRole
	Content string
	// TagUID references the knowledge tag used to augment this turn, if any.
	TagUID    *string
	CreatedTs int64
}

type FindMessage struct {
	UID     *string
	ChatUID *string
}
