package store

import (
	"context"
)

const responseColumns = `id, room_id, question_id, user_id, score, response_time_ms, created_at`

func scanResponse(row interface{ Scan(...any) error }) (Response, error) {
	var i Response
	err := row.Scan(
		&i.ID,
		&i.RoomID,
		&i.QuestionID,
		&i.UserID,
		&i.Score,
		&i.ResponseTimeMs,
		&i.CreatedAt,
	)
	return i, err
}

const lockQuestionSlot = `SELECT pg_advisory_xact_lock(hashtextextended('response:' || $1::text || ':' || $2::text, 0))`

type LockQuestionSlotParams struct {
	RoomID     int64
	QuestionID int64
}

// LockQuestionSlot serializes scoring transactions for one (room, question) pair
// until the surrounding transaction ends. It must run inside a transaction.
func (q *Queries) LockQuestionSlot(ctx context.Context, arg LockQuestionSlotParams) error {
	_, err := q.db.Exec(ctx, lockQuestionSlot, arg.RoomID, arg.QuestionID)
	return err
}

const getBonusHolder = `SELECT ` + responseColumns + ` FROM responses
WHERE room_id = $1 AND question_id = $2 AND score = $3
ORDER BY response_time_ms, id
LIMIT 1
FOR UPDATE`

type GetBonusHolderParams struct {
	RoomID     int64
	QuestionID int64
	Score      int32
}

func (q *Queries) GetBonusHolder(ctx context.Context, arg GetBonusHolderParams) (Response, error) {
	return scanResponse(q.db.QueryRow(ctx, getBonusHolder, arg.RoomID, arg.QuestionID, arg.Score))
}

const updateResponseScore = `UPDATE responses SET score = $2 WHERE id = $1`

type UpdateResponseScoreParams struct {
	ID    int64
	Score int32
}

func (q *Queries) UpdateResponseScore(ctx context.Context, arg UpdateResponseScoreParams) error {
	_, err := q.db.Exec(ctx, updateResponseScore, arg.ID, arg.Score)
	return err
}

const createResponse = `INSERT INTO responses (room_id, question_id, user_id, score, response_time_ms)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + responseColumns

type CreateResponseParams struct {
	RoomID         int64
	QuestionID     int64
	UserID         int64
	Score          int32
	ResponseTimeMs int64
}

func (q *Queries) CreateResponse(ctx context.Context, arg CreateResponseParams) (Response, error) {
	return scanResponse(q.db.QueryRow(ctx, createResponse,
		arg.RoomID,
		arg.QuestionID,
		arg.UserID,
		arg.Score,
		arg.ResponseTimeMs,
	))
}

const groupResponsesByUser = `SELECT user_id,
       COALESCE(sum(score), 0)::bigint            AS score,
       COALESCE(sum(response_time_ms), 0)::bigint AS response_time
FROM responses
WHERE room_id = $1
GROUP BY user_id
ORDER BY score DESC, response_time ASC, user_id`

// GroupResponsesByUser is the room leaderboard, highest summed score first.
func (q *Queries) GroupResponsesByUser(ctx context.Context, roomID int64) ([]UserRoomStat, error) {
	rows, err := q.db.Query(ctx, groupResponsesByUser, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []UserRoomStat{}
	for rows.Next() {
		var i UserRoomStat
		if err := rows.Scan(&i.UserID, &i.Score, &i.ResponseTime); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
