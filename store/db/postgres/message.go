package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/riverchat/riverchat/store"
)

func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	stmt := `
		INSERT INTO message (uid, chat_uid, role, content, tag_uid, created_ts)
		VALUES (` + placeholders(6) + `)
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.UID,
		create.ChatUID,
		create.Role,
		create.Content,
		create.TagUID,
		create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create message")
	}
	return create, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}
	if find.ChatUID != nil {
		where, args = append(where, "chat_uid = "+placeholder(len(args)+1)), append(args, *find.ChatUID)
	}

	query := `
		SELECT uid, chat_uid, role, content, tag_uid, created_ts
		FROM message
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts ASC, uid ASC
	`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	list := []*store.Message{}
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(
			&msg.UID,
			&msg.ChatUID,
			&msg.Role,
			&msg.Content,
			&msg.TagUID,
			&msg.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		list = append(list, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate messages")
	}
	return list, nil
}
