// Package scoring records answers and maintains the per-question bonus: the
// fastest correct response to a question in a room holds store.BonusScore,
// every other correct response scores 1 and incorrect ones score 0.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gidbecxa/triviarush-server/internal/queue"
	"github.com/gidbecxa/triviarush-server/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateResponse means the user already answered this question in this room.
var ErrDuplicateResponse = errors.New("response already recorded")

const uniqueViolation = "23505"

// Store is the persistence surface of the engine. *store.Store implements it.
type Store interface {
	InResponseTx(ctx context.Context, fn func(store.ResponseTx) error) error
	GroupResponsesByUser(ctx context.Context, roomID int64) ([]store.UserRoomStat, error)
}

type Engine struct {
	store  Store
	logger *slog.Logger
}

func NewEngine(s Store, logger *slog.Logger) *Engine {
	return &Engine{store: s, logger: logger}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}

// RecordResponse persists one answer. The bonus lookup, the demotion of a
// slower holder and the insert happen in one transaction that is serialised
// per (room, question).
func (e *Engine) RecordResponse(ctx context.Context, entry queue.ResponseEntry) (store.Response, error) {
	var recorded store.Response
	err := e.store.InResponseTx(ctx, func(tx store.ResponseTx) error {
		if err := tx.LockQuestionSlot(ctx, store.LockQuestionSlotParams{
			RoomID:     entry.RoomID,
			QuestionID: entry.QuestionID,
		}); err != nil {
			return fmt.Errorf("failed to lock question slot: %w", err)
		}

		score := entry.Score
		if entry.Score == 1 {
			holder, err := tx.GetBonusHolder(ctx, store.GetBonusHolderParams{
				RoomID:     entry.RoomID,
				QuestionID: entry.QuestionID,
				Score:      store.BonusScore,
			})
			switch {
			case errors.Is(err, pgx.ErrNoRows):
				score = store.BonusScore
			case err != nil:
				return fmt.Errorf("failed to load bonus holder: %w", err)
			case entry.ResponseTimeMs < holder.ResponseTimeMs:
				if err := tx.UpdateResponseScore(ctx, store.UpdateResponseScoreParams{ID: holder.ID, Score: 1}); err != nil {
					return fmt.Errorf("failed to demote bonus holder: %w", err)
				}
				score = store.BonusScore
			}
		}

		resp, err := tx.CreateResponse(ctx, store.CreateResponseParams{
			RoomID:         entry.RoomID,
			QuestionID:     entry.QuestionID,
			UserID:         entry.UserID,
			Score:          score,
			ResponseTimeMs: entry.ResponseTimeMs,
		})
		if err != nil {
			return err
		}
		recorded = resp
		return nil
	})
	if isUniqueViolation(err) {
		e.logger.Warn("Duplicate response ignored",
			"user_id", entry.UserID, "room_id", entry.RoomID, "question_id", entry.QuestionID)
		return store.Response{}, ErrDuplicateResponse
	}
	if err != nil {
		return store.Response{}, fmt.Errorf("failed to record response: %w", err)
	}

	e.logger.Debug("Response recorded",
		"user_id", recorded.UserID, "room_id", recorded.RoomID,
		"question_id", recorded.QuestionID, "score", recorded.Score)
	return recorded, nil
}

// GetRoomStats returns the room leaderboard, highest summed score first.
func (e *Engine) GetRoomStats(ctx context.Context, roomID int64) ([]store.UserRoomStat, error) {
	stats, err := e.store.GroupResponsesByUser(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stats of room %d: %w", roomID, err)
	}
	return stats, nil
}

// StatFor picks userID's row from a leaderboard.
func StatFor(stats []store.UserRoomStat, userID int64) (store.UserRoomStat, bool) {
	for _, s := range stats {
		if s.UserID == userID {
			return s, true
		}
	}
	return store.UserRoomStat{}, false
}
