package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store adds multi-statement transactions on top of Queries.
type Store struct {
	*Queries
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{
		Queries: New(db),
		db:      db,
	}
}

// ExecTx runs fn inside a transaction and commits when it returns nil.
func (s *Store) ExecTx(ctx context.Context, fn func(*Queries) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(s.Queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ResponseTx is the query surface available to a scoring transaction.
type ResponseTx interface {
	LockQuestionSlot(ctx context.Context, arg LockQuestionSlotParams) error
	GetBonusHolder(ctx context.Context, arg GetBonusHolderParams) (Response, error)
	UpdateResponseScore(ctx context.Context, arg UpdateResponseScoreParams) error
	CreateResponse(ctx context.Context, arg CreateResponseParams) (Response, error)
}

func (s *Store) InResponseTx(ctx context.Context, fn func(ResponseTx) error) error {
	return s.ExecTx(ctx, func(q *Queries) error {
		return fn(q)
	})
}

// CreateRoomIfNoneWaiting returns the category's waiting room, creating it when
// there is none. created reports whether this call inserted the room.
func (s *Store) CreateRoomIfNoneWaiting(ctx context.Context, category string) (room Room, created bool, err error) {
	err = s.ExecTx(ctx, func(q *Queries) error {
		existing, err := q.FindWaitingRoom(ctx, category)
		if err == nil {
			room = existing
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to find waiting room: %w", err)
		}

		room, err = q.CreateRoom(ctx, CreateRoomParams{Category: category})
		if err != nil {
			return fmt.Errorf("failed to create room: %w", err)
		}
		created = true
		return nil
	})
	return room, created, err
}

type CreateSuccessorRoomParams struct {
	Category       string
	IdempotencyKey string
	MaxWaiting     int64
}

// CreateSuccessorRoom creates an extra waiting room for a category unless the
// idempotency key was already used or MaxWaiting rooms are already waiting.
func (s *Store) CreateSuccessorRoom(ctx context.Context, arg CreateSuccessorRoomParams) (room Room, created bool, err error) {
	err = s.ExecTx(ctx, func(q *Queries) error {
		if arg.IdempotencyKey != "" {
			_, err := q.GetRoomByIdempotencyKey(ctx, arg.IdempotencyKey)
			if err == nil {
				return nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("failed to check idempotency key: %w", err)
			}
		}

		waiting, err := q.CountWaitingRooms(ctx, arg.Category)
		if err != nil {
			return fmt.Errorf("failed to count waiting rooms: %w", err)
		}
		if waiting >= arg.MaxWaiting {
			return nil
		}

		room, err = q.CreateRoom(ctx, CreateRoomParams{
			Category:       arg.Category,
			IdempotencyKey: pgtype.Text{String: arg.IdempotencyKey, Valid: arg.IdempotencyKey != ""},
		})
		if err != nil {
			return fmt.Errorf("failed to create successor room: %w", err)
		}
		created = true
		return nil
	})
	return room, created, err
}

// AddParticipant seats a user in a room. Re-adding a seated user returns the
// existing membership with created=false.
func (s *Store) AddParticipant(ctx context.Context, arg CreateRoomParticipantParams) (p RoomParticipant, created bool, err error) {
	err = s.ExecTx(ctx, func(q *Queries) error {
		p, err = q.CreateRoomParticipant(ctx, arg)
		if err == nil {
			created = true
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to create participant: %w", err)
		}

		p, err = q.GetRoomParticipant(ctx, GetRoomParticipantParams{RoomID: arg.RoomID, UserID: arg.UserID})
		if err != nil {
			return fmt.Errorf("failed to load existing participant: %w", err)
		}
		return nil
	})
	return p, created, err
}

// FindOrCreateMessage de-duplicates chat messages by client id and system
// messages by text within the room.
func (s *Store) FindOrCreateMessage(ctx context.Context, arg CreateMessageParams) (msg Message, created bool, err error) {
	err = s.ExecTx(ctx, func(q *Queries) error {
		var existing Message
		var err error
		switch {
		case arg.IsSystem:
			existing, err = q.GetSystemMessageByText(ctx, GetSystemMessageByTextParams{
				RoomID: arg.RoomID,
				UserID: arg.UserID,
				Text:   arg.Text,
			})
		case arg.ClientID.Valid:
			existing, err = q.GetMessageByClientID(ctx, GetMessageByClientIDParams{
				RoomID:   arg.RoomID,
				UserID:   arg.UserID,
				ClientID: arg.ClientID.String,
			})
		default:
			err = pgx.ErrNoRows
		}
		if err == nil {
			msg = existing
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to look up message: %w", err)
		}

		msg, err = q.CreateMessage(ctx, arg)
		if err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}
		created = true
		return nil
	})
	return msg, created, err
}

// CreateSpecialRoomIfNoneWaiting returns the oldest waiting room of a special
// trivia, creating one when none is waiting.
func (s *Store) CreateSpecialRoomIfNoneWaiting(ctx context.Context, specialID int64) (room SpecialRoom, created bool, err error) {
	err = s.ExecTx(ctx, func(q *Queries) error {
		waiting, err := q.ListWaitingSpecialRooms(ctx, specialID)
		if err != nil {
			return fmt.Errorf("failed to list special rooms: %w", err)
		}
		if len(waiting) > 0 {
			room = waiting[0]
			return nil
		}

		room, err = q.CreateSpecialRoom(ctx, specialID)
		if err != nil {
			return fmt.Errorf("failed to create special room: %w", err)
		}
		created = true
		return nil
	})
	return room, created, err
}

// AddSpecialPlayer seats a user in a special room, returning the existing seat
// with created=false when already present.
func (s *Store) AddSpecialPlayer(ctx context.Context, arg CreateSpecialPlayerParams) (p SpecialPlayer, created bool, err error) {
	err = s.ExecTx(ctx, func(q *Queries) error {
		p, err = q.CreateSpecialPlayer(ctx, arg)
		if err == nil {
			created = true
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to create special player: %w", err)
		}

		p, err = q.GetSpecialPlayer(ctx, GetSpecialPlayerParams{SpecialRoomID: arg.SpecialRoomID, UserID: arg.UserID})
		if err != nil {
			return fmt.Errorf("failed to load existing special player: %w", err)
		}
		return nil
	})
	return p, created, err
}
