package store

// Chat is one conversation thread owned by a single user.
type Chat struct {
	// UID is a UUIDv7, globally unique and time-sortable.
	UID       string
	CreatorID int32
	// Title is derived from the first user message.
	Title     string
	CreatedTs int64
	UpdatedTs int64
}

type FindChat struct {
	UID       *string
	CreatorID *int32
}

type UpdateChat struct {
	UID       string
	Title     *string
	UpdatedTs *int64
}

type DeleteChat struct {
	UID string
}
