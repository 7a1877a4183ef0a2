package rooms

import (
	"context"
	"errors"
	"fmt"

	"github.com/gidbecxa/triviarush-server/internal/cache"
	"github.com/gidbecxa/triviarush-server/internal/events"
	"github.com/gidbecxa/triviarush-server/internal/hub"
	"github.com/gidbecxa/triviarush-server/internal/store"
	"github.com/jackc/pgx/v5"
)

// GetSpecialRooms returns the waiting rooms of a special trivia, oldest first.
func (m *Manager) GetSpecialRooms(ctx context.Context, specialID int64) ([]store.SpecialRoom, error) {
	rooms, err := m.store.ListWaitingSpecialRooms(ctx, specialID)
	if err != nil {
		return nil, fmt.Errorf("failed to list special rooms of %d: %w", specialID, err)
	}
	return rooms, nil
}

func (m *Manager) OpenSpecialTrivias(ctx context.Context) ([]store.SpecialTrivia, error) {
	trivias, err := m.store.ListOpenSpecialTrivias(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list special trivias: %w", err)
	}
	return trivias, nil
}

// CreateSpecialRoom returns a waiting room for specialID, creating one under
// the special trivia's lock when none is waiting.
func (m *Manager) CreateSpecialRoom(ctx context.Context, specialID int64) (store.SpecialRoom, error) {
	if _, err := m.store.GetSpecialTrivia(ctx, specialID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.SpecialRoom{}, ErrRoomNotFound
		}
		return store.SpecialRoom{}, fmt.Errorf("failed to load special trivia %d: %w", specialID, err)
	}

	var room store.SpecialRoom
	key := fmt.Sprintf("create-special-room:%d", specialID)
	err := m.locker.WithLock(ctx, []string{key}, m.cfg.RoomLease, func(ctx context.Context) error {
		r, created, err := m.store.CreateSpecialRoomIfNoneWaiting(ctx, specialID)
		if err != nil {
			return err
		}
		room = r
		if created {
			m.logger.Info("Created special room", "special_room_id", r.ID, "special_id", specialID)
		}
		return nil
	})
	if err != nil {
		return store.SpecialRoom{}, fmt.Errorf("failed to create special room for %d: %w", specialID, err)
	}
	return room, nil
}

// GetSpecialRoom is a cache-through read of a special room with its players.
func (m *Manager) GetSpecialRoom(ctx context.Context, specialRoomID int64) (store.SpecialRoomSnapshot, error) {
	var snap store.SpecialRoomSnapshot
	found, err := m.cache.Get(ctx, cache.SpecialRoomKey(specialRoomID), &snap)
	if err != nil {
		m.logger.Warn("Special room cache read failed, loading from store", "special_room_id", specialRoomID, "error", err)
	}
	if found {
		return snap, nil
	}
	return m.refreshSpecialRoom(ctx, specialRoomID)
}

func (m *Manager) loadSpecialRoom(ctx context.Context, specialRoomID int64) (store.SpecialRoomSnapshot, error) {
	room, err := m.store.GetSpecialRoom(ctx, specialRoomID)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.SpecialRoomSnapshot{}, ErrRoomNotFound
	}
	if err != nil {
		return store.SpecialRoomSnapshot{}, fmt.Errorf("failed to load special room %d: %w", specialRoomID, err)
	}

	trivia, err := m.store.GetSpecialTrivia(ctx, room.SpecialID)
	if err != nil {
		return store.SpecialRoomSnapshot{}, fmt.Errorf("failed to load special trivia %d: %w", room.SpecialID, err)
	}

	players, err := m.store.ListSpecialPlayers(ctx, specialRoomID)
	if err != nil {
		return store.SpecialRoomSnapshot{}, fmt.Errorf("failed to load special players: %w", err)
	}

	return store.SpecialRoomSnapshot{SpecialRoom: room, PlayersPerRoom: trivia.PlayersPerRoom, Players: players}, nil
}

func (m *Manager) refreshSpecialRoom(ctx context.Context, specialRoomID int64) (store.SpecialRoomSnapshot, error) {
	snap, err := m.loadSpecialRoom(ctx, specialRoomID)
	if err != nil {
		return store.SpecialRoomSnapshot{}, err
	}
	if err := m.cache.Set(ctx, cache.SpecialRoomKey(specialRoomID), snap, m.cfg.CacheTTL); err != nil {
		m.logger.Warn("Failed to cache special room", "special_room_id", specialRoomID, "error", err)
	}
	return snap, nil
}

// SpecialAdmission is the outcome of AdmitSpecialPlayer.
type SpecialAdmission struct {
	Room      store.SpecialRoomSnapshot
	Admitted  bool
	Activated bool
}

// AdmitSpecialPlayer seats userID in a special room, announces the updated
// player list and activates the room once it reaches playersPerRoom. A full or
// already active room yields ErrRoomFull and a seated user ErrAlreadyParticipant,
// both without mutation.
func (m *Manager) AdmitSpecialPlayer(ctx context.Context, specialRoomID, userID int64, username string) (SpecialAdmission, error) {
	var result SpecialAdmission
	key := fmt.Sprintf("new-special-player:%d", specialRoomID)
	err := m.locker.WithLock(ctx, []string{key}, m.cfg.ParticipantLease, func(ctx context.Context) error {
		snap, err := m.loadSpecialRoom(ctx, specialRoomID)
		if err != nil {
			return err
		}
		for _, p := range snap.Players {
			if p.UserID == userID {
				return ErrAlreadyParticipant
			}
		}
		if snap.State != store.RoomStateWaiting || len(snap.Players) >= int(snap.PlayersPerRoom) {
			return ErrRoomFull
		}

		_, created, err := m.store.AddSpecialPlayer(ctx, store.CreateSpecialPlayerParams{
			SpecialRoomID: specialRoomID,
			UserID:        userID,
			Username:      username,
		})
		if err != nil {
			return err
		}

		players, err := m.store.ListSpecialPlayers(ctx, specialRoomID)
		if err != nil {
			return fmt.Errorf("failed to reload special players: %w", err)
		}
		snap.Players = players
		result = SpecialAdmission{Room: snap, Admitted: created}

		if err := m.cache.Set(ctx, cache.SpecialRoomPlayersKey(specialRoomID), players, m.cfg.CacheTTL); err != nil {
			m.logger.Warn("Failed to cache special players", "special_room_id", specialRoomID, "error", err)
		}

		if len(players) < int(snap.PlayersPerRoom) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		activated, err := m.store.ActivateSpecialRoom(ctx, specialRoomID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to activate special room: %w", err)
		}
		result.Room.SpecialRoom = activated
		result.Activated = true
		return nil
	})
	if err != nil {
		return SpecialAdmission{}, err
	}

	if err := m.cache.Set(ctx, cache.SpecialRoomKey(specialRoomID), result.Room, m.cfg.CacheTTL); err != nil {
		m.logger.Warn("Failed to cache special room", "special_room_id", specialRoomID, "error", err)
	}

	label := hub.SpecialRoomLabel(specialRoomID)
	if result.Admitted {
		m.notifier.Join(userID, label)
		m.notifier.BroadcastToRoom(ctx, label, events.SPECIAL_PLAYERS, events.SpecialPlayers{
			SpecialRoomID: specialRoomID,
			Players:       result.Room.Players,
		})
		m.logger.Info("Special player admitted", "special_room_id", specialRoomID, "user_id", userID, "players", len(result.Room.Players))
	}
	m.notifier.SendToUser(ctx, userID, events.JOINED_SPECIAL_ROOM, events.JoinedSpecialRoom{Room: result.Room})
	if result.Activated {
		m.notifier.BroadcastToRoom(ctx, label, events.ROOM_STATUS, events.RoomStatus{RoomID: specialRoomID, Status: store.RoomStateActive})
		m.logger.Info("Special room activated", "special_room_id", specialRoomID)
	}
	return result, nil
}
