package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const messageColumns = `id, room_id, user_id, client_id, text, is_system, created_at`

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var i Message
	err := row.Scan(
		&i.ID,
		&i.RoomID,
		&i.UserID,
		&i.ClientID,
		&i.Text,
		&i.IsSystem,
		&i.CreatedAt,
	)
	return i, err
}

const listRoomMessages = `SELECT ` + messageColumns + ` FROM messages
WHERE room_id = $1
ORDER BY created_at, id`

func (q *Queries) ListRoomMessages(ctx context.Context, roomID int64) ([]Message, error) {
	rows, err := q.db.Query(ctx, listRoomMessages, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Message{}
	for rows.Next() {
		i, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getMessageByClientID = `SELECT ` + messageColumns + ` FROM messages
WHERE room_id = $1 AND user_id = $2 AND client_id = $3
LIMIT 1`

type GetMessageByClientIDParams struct {
	RoomID   int64
	UserID   int64
	ClientID string
}

func (q *Queries) GetMessageByClientID(ctx context.Context, arg GetMessageByClientIDParams) (Message, error) {
	return scanMessage(q.db.QueryRow(ctx, getMessageByClientID, arg.RoomID, arg.UserID, arg.ClientID))
}

const getSystemMessageByText = `SELECT ` + messageColumns + ` FROM messages
WHERE room_id = $1 AND user_id = $2 AND text = $3 AND is_system
LIMIT 1`

type GetSystemMessageByTextParams struct {
	RoomID int64
	UserID int64
	Text   string
}

func (q *Queries) GetSystemMessageByText(ctx context.Context, arg GetSystemMessageByTextParams) (Message, error) {
	return scanMessage(q.db.QueryRow(ctx, getSystemMessageByText, arg.RoomID, arg.UserID, arg.Text))
}

const createMessage = `INSERT INTO messages (room_id, user_id, client_id, text, is_system)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + messageColumns

type CreateMessageParams struct {
	RoomID   int64
	UserID   int64
	ClientID pgtype.Text
	Text     string
	IsSystem bool
}

func (q *Queries) CreateMessage(ctx context.Context, arg CreateMessageParams) (Message, error) {
	return scanMessage(q.db.QueryRow(ctx, createMessage,
		arg.RoomID,
		arg.UserID,
		arg.ClientID,
		arg.Text,
		arg.IsSystem,
	))
}
