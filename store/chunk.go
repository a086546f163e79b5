package store

// Chunk is a fragment of extracted text plus its embedding, stored for
// similarity search. Chunks are written in batches during ingestion and never
// individually mutated afterwards.
type Chunk struct {
	ID int64
	// TagUID is the owning knowledge tag.
	TagUID string
	// Source identifies where the text came from (file name or repo path).
	Source    string
	Content   string
	Embedding []float32
	CreatedTs int64
}

// ChunkMatch is a similarity-search hit.
type ChunkMatch struct {
	Chunk *Chunk
	// Score is cosine similarity in [0, 1], higher is closer.
	Score float32
}

// SearchChunks describes a similarity query filtered to one tag.
type SearchChunks struct {
	Embedding []float32
	TagUID    string
	Limit     int
}
