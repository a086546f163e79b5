package store

// KnowledgeTag names a partition of ingested content usable as a retrieval
// filter. A tag row is inserted only after its ingestion fully succeeds, so a
// visible tag always points at complete content.
type KnowledgeTag struct {
	UID       string
	CreatorID int32
	Name      string
	CreatedTs int64
}

type FindKnowledgeTag struct {
	UID       *string
	CreatorID *int32
}

type DeleteKnowledgeTag struct {
	UID string
}
