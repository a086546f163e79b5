package postgres

import (
	"context"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/riverchat/riverchat/store"
)

// UpsertChunks writes a batch of tagged chunks inside one transaction so a
// partially written batch never becomes visible.
func (d *DB) UpsertChunks(ctx context.Context, chunks []*store.Chunk) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	stmt := `
		INSERT INTO knowledge_chunk (tag_uid, source, content, embedding, created_ts)
		VALUES (` + placeholders(5) + `)
		RETURNING id
	`
	for _, chunk := range chunks {
		vector := pgvector.NewVector(chunk.Embedding)
		if err := tx.QueryRowContext(ctx, stmt,
			chunk.TagUID,
			chunk.Source,
			chunk.Content,
			vector,
			chunk.CreatedTs,
		).Scan(&chunk.ID); err != nil {
			return errors.Wrap(err, "failed to insert knowledge chunk")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit chunk batch")
	}
	return nil
}

// SearchChunksByVector performs cosine similarity search filtered to one tag.
func (d *DB) SearchChunksByVector(ctx context.Context, search *store.SearchChunks) ([]*store.ChunkMatch, error) {
	limit := search.Limit
	if limit <= 0 {
		limit = 3
	}

	query := `
		SELECT id, tag_uid, source, content, created_ts,
			1 - (embedding <=> $1) AS score
		FROM knowledge_chunk
		WHERE tag_uid = $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`
	rows, err := d.db.QueryContext(ctx, query, pgvector.NewVector(search.Embedding), search.TagUID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search knowledge chunks")
	}
	defer rows.Close()

	list := []*store.ChunkMatch{}
	for rows.Next() {
		var chunk store.Chunk
		var score float32
		if err := rows.Scan(
			&chunk.ID,
			&chunk.TagUID,
			&chunk.Source,
			&chunk.Content,
			&chunk.CreatedTs,
			&score,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan knowledge chunk")
		}
		list = append(list, &store.ChunkMatch{Chunk: &chunk, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate knowledge chunks")
	}
	return list, nil
}

func (d *DB) DeleteChunksByTag(ctx context.Context, tagUID string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM knowledge_chunk WHERE tag_uid = $1`, tagUID); err != nil {
		return errors.Wrap(err, "failed to delete knowledge chunks")
	}
	return nil
}
