package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const roomColumns = `id, category, state, idempotency_key, created_at`

func scanRoom(row interface{ Scan(...any) error }) (Room, error) {
	var i Room
	err := row.Scan(
		&i.ID,
		&i.Category,
		&i.State,
		&i.IdempotencyKey,
		&i.CreatedAt,
	)
	return i, err
}

const getRoom = `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1`

func (q *Queries) GetRoom(ctx context.Context, id int64) (Room, error) {
	return scanRoom(q.db.QueryRow(ctx, getRoom, id))
}

const findWaitingRoom = `SELECT ` + roomColumns + ` FROM rooms
WHERE category = $1 AND state = 'waiting'
ORDER BY created_at, id
LIMIT 1`

// FindWaitingRoom returns the oldest waiting room of a category.
func (q *Queries) FindWaitingRoom(ctx context.Context, category string) (Room, error) {
	return scanRoom(q.db.QueryRow(ctx, findWaitingRoom, category))
}

const countWaitingRooms = `SELECT count(*) FROM rooms WHERE category = $1 AND state = 'waiting'`

func (q *Queries) CountWaitingRooms(ctx context.Context, category string) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countWaitingRooms, category).Scan(&count)
	return count, err
}

const getRoomByIdempotencyKey = `SELECT ` + roomColumns + ` FROM rooms WHERE idempotency_key = $1`

func (q *Queries) GetRoomByIdempotencyKey(ctx context.Context, key string) (Room, error) {
	return scanRoom(q.db.QueryRow(ctx, getRoomByIdempotencyKey, key))
}

const createRoom = `INSERT INTO rooms (category, idempotency_key)
VALUES ($1, $2)
RETURNING ` + roomColumns

type CreateRoomParams struct {
	Category       string
	IdempotencyKey pgtype.Text
}

func (q *Queries) CreateRoom(ctx context.Context, arg CreateRoomParams) (Room, error) {
	return scanRoom(q.db.QueryRow(ctx, createRoom, arg.Category, arg.IdempotencyKey))
}

const activateRoom = `UPDATE rooms SET state = 'active'
WHERE id = $1 AND state = 'waiting'
RETURNING ` + roomColumns

// ActivateRoom flips a waiting room to active. It returns pgx.ErrNoRows when the
// room is missing or already active, so only one caller ever observes the transition.
func (q *Queries) ActivateRoom(ctx context.Context, id int64) (Room, error) {
	return scanRoom(q.db.QueryRow(ctx, activateRoom, id))
}

const participantColumns = `id, room_id, user_id, username, created_at`

func scanParticipant(row interface{ Scan(...any) error }) (RoomParticipant, error) {
	var i RoomParticipant
	err := row.Scan(
		&i.ID,
		&i.RoomID,
		&i.UserID,
		&i.Username,
		&i.CreatedAt,
	)
	return i, err
}

const listRoomParticipants = `SELECT ` + participantColumns + ` FROM room_participants
WHERE room_id = $1
ORDER BY created_at, id`

func (q *Queries) ListRoomParticipants(ctx context.Context, roomID int64) ([]RoomParticipant, error) {
	rows, err := q.db.Query(ctx, listRoomParticipants, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []RoomParticipant{}
	for rows.Next() {
		i, err := scanParticipant(rows)
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

const getRoomParticipant = `SELECT ` + participantColumns + ` FROM room_participants
WHERE room_id = $1 AND user_id = $2`

type GetRoomParticipantParams struct {
	RoomID int64
	UserID int64
}

func (q *Queries) GetRoomParticipant(ctx context.Context, arg GetRoomParticipantParams) (RoomParticipant, error) {
	return scanParticipant(q.db.QueryRow(ctx, getRoomParticipant, arg.RoomID, arg.UserID))
}

const createRoomParticipant = `INSERT INTO room_participants (room_id, user_id, username)
VALUES ($1, $2, $3)
ON CONFLICT (room_id, user_id) DO NOTHING
RETURNING ` + participantColumns

type CreateRoomParticipantParams struct {
	RoomID   int64
	UserID   int64
	Username string
}

// CreateRoomParticipant returns pgx.ErrNoRows when the user is already seated.
func (q *Queries) CreateRoomParticipant(ctx context.Context, arg CreateRoomParticipantParams) (RoomParticipant, error) {
	return scanParticipant(q.db.QueryRow(ctx, createRoomParticipant, arg.RoomID, arg.UserID, arg.Username))
}

const getUserTopics = `SELECT t.name FROM user_topics ut
JOIN topics t ON t.id = ut.topic_id
WHERE ut.user_id = $1
ORDER BY t.name`

func (q *Queries) GetUserTopics(ctx context.Context, userID int64) ([]string, error) {
	rows, err := q.db.Query(ctx, getUserTopics, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		items = append(items, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listWaitingRoomsByCategories = `SELECT r.id, r.category, r.state, r.idempotency_key, r.created_at,
       count(p.id) AS participant_count
FROM rooms r
LEFT JOIN room_participants p ON p.room_id = r.id
WHERE r.state = 'waiting' AND r.category = ANY($1::text[])
GROUP BY r.id
ORDER BY participant_count DESC, r.created_at`

// ListWaitingRoomsByCategories returns waiting rooms, fullest first.
func (q *Queries) ListWaitingRoomsByCategories(ctx context.Context, categories []string) ([]WaitingRoom, error) {
	rows, err := q.db.Query(ctx, listWaitingRoomsByCategories, categories)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []WaitingRoom{}
	for rows.Next() {
		var i WaitingRoom
		if err := rows.Scan(
			&i.ID,
			&i.Category,
			&i.State,
			&i.IdempotencyKey,
			&i.CreatedAt,
			&i.ParticipantCount,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
