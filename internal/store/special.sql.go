package store

import (
	"context"
)

const getSpecialTrivia = `SELECT id, name, players_per_room, open FROM special_trivia WHERE id = $1`

func (q *Queries) GetSpecialTrivia(ctx context.Context, id int64) (SpecialTrivia, error) {
	var i SpecialTrivia
	err := q.db.QueryRow(ctx, getSpecialTrivia, id).Scan(
		&i.ID,
		&i.Name,
		&i.PlayersPerRoom,
		&i.Open,
	)
	return i, err
}

const listOpenSpecialTrivias = `SELECT id, name, players_per_room, open FROM special_trivia
WHERE open
ORDER BY id`

func (q *Queries) ListOpenSpecialTrivias(ctx context.Context) ([]SpecialTrivia, error) {
	rows, err := q.db.Query(ctx, listOpenSpecialTrivias)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []SpecialTrivia{}
	for rows.Next() {
		var i SpecialTrivia
		if err := rows.Scan(
			&i.ID,
			&i.Name,
			&i.PlayersPerRoom,
			&i.Open,
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

const specialRoomColumns = `id, special_id, state, created_at`

func scanSpecialRoom(row interface{ Scan(...any) error }) (SpecialRoom, error) {
	var i SpecialRoom
	err := row.Scan(
		&i.ID,
		&i.SpecialID,
		&i.State,
		&i.CreatedAt,
	)
	return i, err
}

const listWaitingSpecialRooms = `SELECT ` + specialRoomColumns + ` FROM special_rooms
WHERE special_id = $1 AND state = 'waiting'
ORDER BY created_at, id`

// ListWaitingSpecialRooms returns the waiting rooms of a special trivia, oldest first.
func (q *Queries) ListWaitingSpecialRooms(ctx context.Context, specialID int64) ([]SpecialRoom, error) {
	rows, err := q.db.Query(ctx, listWaitingSpecialRooms, specialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []SpecialRoom{}
	for rows.Next() {
		i, err := scanSpecialRoom(rows)
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

const createSpecialRoom = `INSERT INTO special_rooms (special_id) VALUES ($1)
RETURNING ` + specialRoomColumns

func (q *Queries) CreateSpecialRoom(ctx context.Context, specialID int64) (SpecialRoom, error) {
	return scanSpecialRoom(q.db.QueryRow(ctx, createSpecialRoom, specialID))
}

const getSpecialRoom = `SELECT ` + specialRoomColumns + ` FROM special_rooms WHERE id = $1`

func (q *Queries) GetSpecialRoom(ctx context.Context, id int64) (SpecialRoom, error) {
	return scanSpecialRoom(q.db.QueryRow(ctx, getSpecialRoom, id))
}

const activateSpecialRoom = `UPDATE special_rooms SET state = 'active'
WHERE id = $1 AND state = 'waiting'
RETURNING ` + specialRoomColumns

func (q *Queries) ActivateSpecialRoom(ctx context.Context, id int64) (SpecialRoom, error) {
	return scanSpecialRoom(q.db.QueryRow(ctx, activateSpecialRoom, id))
}

const specialPlayerColumns = `id, special_room_id, user_id, username, player_time`

func scanSpecialPlayer(row interface{ Scan(...any) error }) (SpecialPlayer, error) {
	var i SpecialPlayer
	err := row.Scan(
		&i.ID,
		&i.SpecialRoomID,
		&i.UserID,
		&i.Username,
		&i.PlayerTime,
	)
	return i, err
}

const listSpecialPlayers = `SELECT ` + specialPlayerColumns + ` FROM special_players
WHERE special_room_id = $1
ORDER BY player_time, id`

func (q *Queries) ListSpecialPlayers(ctx context.Context, specialRoomID int64) ([]SpecialPlayer, error) {
	rows, err := q.db.Query(ctx, listSpecialPlayers, specialRoomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []SpecialPlayer{}
	for rows.Next() {
		i, err := scanSpecialPlayer(rows)
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

const getSpecialPlayer = `SELECT ` + specialPlayerColumns + ` FROM special_players
WHERE special_room_id = $1 AND user_id = $2`

type GetSpecialPlayerParams struct {
	SpecialRoomID int64
	UserID        int64
}

func (q *Queries) GetSpecialPlayer(ctx context.Context, arg GetSpecialPlayerParams) (SpecialPlayer, error) {
	return scanSpecialPlayer(q.db.QueryRow(ctx, getSpecialPlayer, arg.SpecialRoomID, arg.UserID))
}

const createSpecialPlayer = `INSERT INTO special_players (special_room_id, user_id, username)
VALUES ($1, $2, $3)
ON CONFLICT (special_room_id, user_id) DO NOTHING
RETURNING ` + specialPlayerColumns

type CreateSpecialPlayerParams struct {
	SpecialRoomID int64
	UserID        int64
	Username      string
}

func (q *Queries) CreateSpecialPlayer(ctx context.Context, arg CreateSpecialPlayerParams) (SpecialPlayer, error) {
	return scanSpecialPlayer(q.db.QueryRow(ctx, createSpecialPlayer, arg.SpecialRoomID, arg.UserID, arg.Username))
}
