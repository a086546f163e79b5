package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/riverchat/riverchat/store"
)

func (d *DB) CreateChat(ctx context.Context, create *store.Chat) (*store.Chat, error) {
	stmt := `
		INSERT INTO chat (uid, creator_id, title, created_ts, updated_ts)
		VALUES (` + placeholders(5) + `)
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.UID,
		create.CreatorID,
		create.Title,
		create.CreatedTs,
		create.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create chat")
	}
	return create, nil
}

func (d *DB) ListChats(ctx context.Context, find *store.FindChat) ([]*store.Chat, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}
	if find.CreatorID != nil {
		where, args = append(where, "creator_id = "+placeholder(len(args)+1)), append(args, *find.CreatorID)
	}

	query := `
		SELECT uid, creator_id, title, created_ts, updated_ts
		FROM chat
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY updated_ts DESC, uid DESC
	`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list chats")
	}
	defer rows.Close()

	list := []*store.Chat{}
	for rows.Next() {
		var chat store.Chat
		if err := rows.Scan(
			&chat.UID,
			&chat.CreatorID,
			&chat.Title,
			&chat.CreatedTs,
			&chat.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan chat")
		}
		list = append(list, &chat)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate chats")
	}
	return list, nil
}

func (d *DB) UpdateChat(ctx context.Context, update *store.UpdateChat) error {
	set, args := []string{}, []any{}
	if update.Title != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *update.Title)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}
	if len(set) == 0 {
		return nil
	}
	args = append(args, update.UID)

	stmt := `UPDATE chat SET ` + strings.Join(set, ", ") + ` WHERE uid = ` + placeholder(len(args))
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to update chat")
	}
	return nil
}

func (d *DB) DeleteChat(ctx context.Context, delete *store.DeleteChat) error {
	// ON DELETE CASCADE removes the chat's messages.
	if _, err := d.db.ExecContext(ctx, `DELETE FROM chat WHERE uid = $1`, delete.UID); err != nil {
		return errors.Wrap(err, "failed to delete chat")
	}
	return nil
}
