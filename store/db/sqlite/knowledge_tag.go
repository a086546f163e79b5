package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/riverchat/riverchat/store"
)

func (d *DB) CreateKnowledgeTag(ctx context.Context, create *store.KnowledgeTag) (*store.KnowledgeTag, error) {
	stmt := `
		INSERT INTO knowledge_tag (uid, creator_id, name, created_ts)
		VALUES (?, ?, ?, ?)
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.UID,
		create.CreatorID,
		create.Name,
		create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create knowledge tag")
	}
	return create, nil
}

func (d *DB) ListKnowledgeTags(ctx context.Context, find *store.FindKnowledgeTag) ([]*store.KnowledgeTag, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.UID != nil {
		where, args = append(where, "uid = ?"), append(args, *find.UID)
	}
	if find.CreatorID != nil {
		where, args = append(where, "creator_id = ?"), append(args, *find.CreatorID)
	}

	query := `
		SELECT uid, creator_id, name, created_ts
		FROM knowledge_tag
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC
	`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list knowledge tags")
	}
	defer rows.Close()

	list := []*store.KnowledgeTag{}
	for rows.Next() {
		var tag store.KnowledgeTag
		if err := rows.Scan(
			&tag.UID,
			&tag.CreatorID,
			&tag.Name,
			&tag.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan knowledge tag")
		}
		list = append(list, &tag)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate knowledge tags")
	}
	return list, nil
}

func (d *DB) DeleteKnowledgeTag(ctx context.Context, delete *store.DeleteKnowledgeTag) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM knowledge_tag WHERE uid = ?`, delete.UID); err != nil {
		return errors.Wrap(err, "failed to delete knowledge tag")
	}
	return nil
}
