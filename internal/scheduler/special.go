package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gidbecxa/triviarush-server/internal/events"
	"github.com/gidbecxa/triviarush-server/internal/queue"
	"github.com/gidbecxa/triviarush-server/internal/rooms"
	"github.com/gidbecxa/triviarush-server/internal/store"
)

// SpecialRoomManager is implemented by *rooms.Manager.
type SpecialRoomManager interface {
	GetSpecialRoom(ctx context.Context, specialRoomID int64) (store.SpecialRoomSnapshot, error)
	CreateSpecialRoom(ctx context.Context, specialID int64) (store.SpecialRoom, error)
	AdmitSpecialPlayer(ctx context.Context, specialRoomID, userID int64, username string) (rooms.SpecialAdmission, error)
}

const msgAlreadyInRoom = "You are already in this room"

type SpecialJoinScheduler struct {
	queue     *queue.FIFO[queue.SpecialJoinEntry]
	rooms     SpecialRoomManager
	notifier  Notifier
	batchSize int
	ticker    *Ticker
	logger    *slog.Logger
}

func NewSpecialJoinScheduler(q *queue.FIFO[queue.SpecialJoinEntry], rm SpecialRoomManager, n Notifier, interval time.Duration, batchSize int, logger *slog.Logger) *SpecialJoinScheduler {
	return &SpecialJoinScheduler{
		queue:     q,
		rooms:     rm,
		notifier:  n,
		batchSize: batchSize,
		ticker:    NewTicker("special-join", interval, logger),
		logger:    logger,
	}
}

func (s *SpecialJoinScheduler) Run(ctx context.Context) {
	s.ticker.Run(ctx, func(ctx context.Context) { s.Tick(ctx) })
}

func (s *SpecialJoinScheduler) Tick(ctx context.Context) int {
	batch := s.queue.Drain(s.batchSize)
	for _, entry := range batch {
		if err := s.process(ctx, entry); err != nil {
			s.logger.Warn("Special join failed",
				"user_id", entry.UserID,
				"special_room_id", entry.SpecialRoomID,
				"error", err)
		}
	}
	return len(batch)
}

func (s *SpecialJoinScheduler) reject(ctx context.Context, userID int64, message string) {
	s.notifier.SendToUser(ctx, userID, events.ERROR, events.Error{Message: message})
}

func (s *SpecialJoinScheduler) process(ctx context.Context, entry queue.SpecialJoinEntry) error {
	if !s.notifier.IsConnected(entry.UserID) {
		s.logger.Debug("Session gone, dropping special join", "user_id", entry.UserID)
		return nil
	}

	snap, err := s.rooms.GetSpecialRoom(ctx, entry.SpecialRoomID)
	if errors.Is(err, rooms.ErrRoomNotFound) {
		s.reject(ctx, entry.UserID, msgRoomNotFound)
		return nil
	}
	if err != nil {
		return err
	}

	for _, p := range snap.Players {
		if p.UserID == entry.UserID {
			s.reject(ctx, entry.UserID, msgAlreadyInRoom)
			return nil
		}
	}
	if snap.State != store.RoomStateWaiting || len(snap.Players) >= int(snap.PlayersPerRoom) {
		return s.redirect(ctx, entry)
	}

	_, err = s.rooms.AdmitSpecialPlayer(ctx, entry.SpecialRoomID, entry.UserID, entry.Username)
	switch {
	case errors.Is(err, rooms.ErrRoomFull):
		return s.redirect(ctx, entry)
	case errors.Is(err, rooms.ErrAlreadyParticipant):
		s.reject(ctx, entry.UserID, msgAlreadyInRoom)
		return nil
	case err != nil:
		return fmt.Errorf("admit: %w", err)
	}
	return nil
}

// redirect re-queues entry for the special trivia's current waiting room,
// opening one when the full room was the last.
func (s *SpecialJoinScheduler) redirect(ctx context.Context, entry queue.SpecialJoinEntry) error {
	next, err := s.rooms.CreateSpecialRoom(ctx, entry.SpecialID)
	if err != nil {
		return fmt.Errorf("open next special room: %w", err)
	}
	if next.ID == entry.SpecialRoomID {
		s.reject(ctx, entry.UserID, msgRoomFull)
		return nil
	}

	entry.SpecialRoomID = next.ID
	s.queue.Push(entry)
	s.logger.Info("Special room full, re-queued player",
		"user_id", entry.UserID,
		"special_id", entry.SpecialID,
		"special_room_id", next.ID)
	return nil
}
