package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gidbecxa/triviarush-server/internal/events"
	"github.com/gidbecxa/triviarush-server/internal/hub"
	"github.com/gidbecxa/triviarush-server/internal/queue"
	"github.com/gidbecxa/triviarush-server/internal/rooms"
	"github.com/gidbecxa/triviarush-server/internal/store"
)

// Notifier is the part of the session hub the schedulers talk to.
type Notifier interface {
	IsConnected(userID int64) bool
	Join(userID int64, label string)
	SendToUser(ctx context.Context, userID int64, eventType events.EventType, payload any)
	BroadcastToRoom(ctx context.Context, label string, eventType events.EventType, payload any)
}

// RoomManager is implemented by *rooms.Manager.
type RoomManager interface {
	Config() rooms.Config
	GetRoom(ctx context.Context, roomID int64) (store.RoomSnapshot, error)
	RefreshRoom(ctx context.Context, roomID int64) (store.RoomSnapshot, error)
	AdmitParticipant(ctx context.Context, roomID, userID int64, username string) (rooms.Admission, error)
	SpawnSuccessorIfNeeded(ctx context.Context, room store.Room, participantCount int, idempotencyKey string) (bool, error)
	PromoteIfFull(ctx context.Context, roomID int64, participantCount int) (bool, error)
}

const (
	msgRoomFull     = "Room is full"
	msgRoomNotFound = "Room not found"
)

type JoinScheduler struct {
	queue     *queue.FIFO[queue.JoinEntry]
	rooms     RoomManager
	notifier  Notifier
	batchSize int
	ticker    *Ticker
	logger    *slog.Logger
}

func NewJoinScheduler(q *queue.FIFO[queue.JoinEntry], rm RoomManager, n Notifier, interval time.Duration, batchSize int, logger *slog.Logger) *JoinScheduler {
	return &JoinScheduler{
		queue:     q,
		rooms:     rm,
		notifier:  n,
		batchSize: batchSize,
		ticker:    NewTicker("join", interval, logger),
		logger:    logger,
	}
}

func (s *JoinScheduler) Run(ctx context.Context) {
	s.ticker.Run(ctx, func(ctx context.Context) { s.Tick(ctx) })
}

// Tick drains one batch and processes it in order. It returns the number of
// entries taken from the queue.
func (s *JoinScheduler) Tick(ctx context.Context) int {
	batch := s.queue.Drain(s.batchSize)
	for _, entry := range batch {
		if err := s.process(ctx, entry); err != nil {
			s.logger.Warn("Join failed",
				"user_id", entry.UserID,
				"room_id", entry.RoomID,
				"error", err)
		}
	}
	return len(batch)
}

func (s *JoinScheduler) reject(ctx context.Context, userID int64, message string) {
	s.notifier.SendToUser(ctx, userID, events.ERROR, events.Error{Message: message})
}

func (s *JoinScheduler) process(ctx context.Context, entry queue.JoinEntry) error {
	snap, err := s.rooms.GetRoom(ctx, entry.RoomID)
	if errors.Is(err, rooms.ErrRoomNotFound) {
		s.reject(ctx, entry.UserID, msgRoomNotFound)
		return nil
	}
	if err != nil {
		return err
	}

	if !s.notifier.IsConnected(entry.UserID) {
		s.logger.Debug("Session gone, dropping join", "user_id", entry.UserID, "room_id", entry.RoomID)
		return nil
	}

	for _, p := range snap.Participants {
		if p.UserID == entry.UserID {
			s.logger.Debug("User already in room", "user_id", entry.UserID, "room_id", entry.RoomID)
			return nil
		}
	}
	if snap.State != store.RoomStateWaiting || len(snap.Participants) >= s.rooms.Config().Capacity {
		s.reject(ctx, entry.UserID, msgRoomFull)
		return nil
	}

	admission, err := s.rooms.AdmitParticipant(ctx, entry.RoomID, entry.UserID, entry.Username)
	if errors.Is(err, rooms.ErrRoomFull) {
		s.reject(ctx, entry.UserID, msgRoomFull)
		return nil
	}
	if err != nil {
		return fmt.Errorf("admit: %w", err)
	}
	if !admission.Admitted {
		return nil
	}

	s.notifier.Join(entry.UserID, hub.RoomLabel(entry.RoomID))

	snap, err = s.rooms.RefreshRoom(ctx, entry.RoomID)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	s.notifier.SendToUser(ctx, entry.UserID, events.JOINED_ROOM, events.RoomPayload{Room: snap})
	s.notifier.BroadcastToRoom(ctx, hub.RoomLabel(entry.RoomID), events.ROOM_UPDATED, events.RoomPayload{Room: snap})

	count := len(admission.Participants)
	if _, err := s.rooms.SpawnSuccessorIfNeeded(ctx, snap.Room, count, entry.IdempotencyKey); err != nil {
		s.logger.Warn("Successor room not created", "category", snap.Category, "error", err)
	}
	if _, err := s.rooms.PromoteIfFull(ctx, entry.RoomID, count); err != nil {
		return fmt.Errorf("promote: %w", err)
	}
	return nil
}
