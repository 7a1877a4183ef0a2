// Package rooms owns room creation, capacity enforcement and the
// waiting -> active transition for regular and special rooms. Every mutation
// runs under a distributed lock keyed by the category, room or special trivia
// it touches, so several instances can run the schedulers side by side.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gidbecxa/triviarush-server/internal/cache"
	"github.com/gidbecxa/triviarush-server/internal/events"
	"github.com/gidbecxa/triviarush-server/internal/hub"
	"github.com/gidbecxa/triviarush-server/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

var (
	ErrRoomFull           = errors.New("room is full")
	ErrRoomNotFound       = errors.New("room not found")
	ErrAlreadyParticipant = errors.New("user already in room")
)

// Store is the persistence surface used by the manager. *store.Store implements it.
type Store interface {
	GetRoom(ctx context.Context, id int64) (store.Room, error)
	ListRoomParticipants(ctx context.Context, roomID int64) ([]store.RoomParticipant, error)
	ListRoomMessages(ctx context.Context, roomID int64) ([]store.Message, error)
	ActivateRoom(ctx context.Context, id int64) (store.Room, error)
	FindRandomQuestions(ctx context.Context, arg store.FindRandomQuestionsParams) ([]store.Question, error)
	CreateRoomIfNoneWaiting(ctx context.Context, category string) (store.Room, bool, error)
	CreateSuccessorRoom(ctx context.Context, arg store.CreateSuccessorRoomParams) (store.Room, bool, error)
	AddParticipant(ctx context.Context, arg store.CreateRoomParticipantParams) (store.RoomParticipant, bool, error)
	FindOrCreateMessage(ctx context.Context, arg store.CreateMessageParams) (store.Message, bool, error)
	GetUserTopics(ctx context.Context, userID int64) ([]string, error)
	ListWaitingRoomsByCategories(ctx context.Context, categories []string) ([]store.WaitingRoom, error)

	GetSpecialTrivia(ctx context.Context, id int64) (store.SpecialTrivia, error)
	ListOpenSpecialTrivias(ctx context.Context) ([]store.SpecialTrivia, error)
	GetSpecialRoom(ctx context.Context, id int64) (store.SpecialRoom, error)
	ListWaitingSpecialRooms(ctx context.Context, specialID int64) ([]store.SpecialRoom, error)
	CreateSpecialRoomIfNoneWaiting(ctx context.Context, specialID int64) (store.SpecialRoom, bool, error)
	ListSpecialPlayers(ctx context.Context, specialRoomID int64) ([]store.SpecialPlayer, error)
	AddSpecialPlayer(ctx context.Context, arg store.CreateSpecialPlayerParams) (store.SpecialPlayer, bool, error)
	ActivateSpecialRoom(ctx context.Context, id int64) (store.SpecialRoom, error)
}

// Locker runs fn while holding an exclusive lease over keys. *lock.Manager implements it.
type Locker interface {
	WithLock(ctx context.Context, keys []string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Notifier fans events out to sessions. *hub.Hub implements it.
type Notifier interface {
	IsConnected(userID int64) bool
	Join(userID int64, label string)
	SendToUser(ctx context.Context, userID int64, eventType events.EventType, payload any)
	BroadcastToRoom(ctx context.Context, label string, eventType events.EventType, payload any)
	BroadcastGlobal(ctx context.Context, eventType events.EventType, payload any)
}

type Config struct {
	Capacity         int
	MaxWaitingRooms  int
	QuestionsPerRoom int
	SystemUserID     int64
	RoomLease        time.Duration
	ParticipantLease time.Duration
	MessageLease     time.Duration
	CacheTTL         time.Duration
	FlagTTL          time.Duration
}

func DefaultConfig() Config {
	return Config{
		Capacity:         2,
		MaxWaitingRooms:  3,
		QuestionsPerRoom: 10,
		SystemUserID:     1,
		RoomLease:        5 * time.Second,
		ParticipantLease: 5 * time.Second,
		MessageLease:     time.Second,
		CacheTTL:         60 * time.Second,
		FlagTTL:          5 * time.Second,
	}
}

type Manager struct {
	store    Store
	cache    cache.Store
	locker   Locker
	notifier Notifier
	cfg      Config
	logger   *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewManager(s Store, c cache.Store, locker Locker, notifier Notifier, cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		store:    s,
		cache:    c,
		locker:   locker,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// WithRand replaces the option shuffler's random source.
func (m *Manager) WithRand(rng *rand.Rand) *Manager {
	m.rngMu.Lock()
	m.rng = rng
	m.rngMu.Unlock()
	return m
}

func (m *Manager) Config() Config {
	return m.cfg
}

func welcomeText(category string) string {
	return fmt.Sprintf("Welcome to the %s trivia room! The game starts once the room is full.", category)
}

func joinedText(username string) string {
	return fmt.Sprintf("%s joined the room", username)
}

// GetRoom is a cache-through read of the room snapshot.
func (m *Manager) GetRoom(ctx context.Context, roomID int64) (store.RoomSnapshot, error) {
	var snap store.RoomSnapshot
	found, err := m.cache.Get(ctx, cache.RoomKey(roomID), &snap)
	if err != nil {
		m.logger.Warn("Room cache read failed, loading from store", "room_id", roomID, "error", err)
	}
	if found {
		return snap, nil
	}
	return m.RefreshRoom(ctx, roomID)
}

// RefreshRoom reloads the snapshot from the store and rewrites the cache.
func (m *Manager) RefreshRoom(ctx context.Context, roomID int64) (store.RoomSnapshot, error) {
	room, err := m.store.GetRoom(ctx, roomID)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.RoomSnapshot{}, ErrRoomNotFound
	}
	if err != nil {
		return store.RoomSnapshot{}, fmt.Errorf("failed to load room %d: %w", roomID, err)
	}

	participants, err := m.store.ListRoomParticipants(ctx, roomID)
	if err != nil {
		return store.RoomSnapshot{}, fmt.Errorf("failed to load participants of room %d: %w", roomID, err)
	}

	messages, err := m.store.ListRoomMessages(ctx, roomID)
	if err != nil {
		return store.RoomSnapshot{}, fmt.Errorf("failed to load messages of room %d: %w", roomID, err)
	}

	snap := store.RoomSnapshot{Room: room, Participants: participants, Messages: messages}
	if err := m.cache.Set(ctx, cache.RoomKey(roomID), snap, m.cfg.CacheTTL); err != nil {
		m.logger.Warn("Failed to cache room snapshot", "room_id", roomID, "error", err)
	}
	return snap, nil
}

// EnsureWaitingRoom returns the waiting room of category, creating it (with a
// welcome message) when none exists. Concurrent callers converge on one room.
func (m *Manager) EnsureWaitingRoom(ctx context.Context, category string) (store.Room, error) {
	var room store.Room
	err := m.locker.WithLock(ctx, []string{"new-room:" + category}, m.cfg.RoomLease, func(ctx context.Context) error {
		r, created, err := m.store.CreateRoomIfNoneWaiting(ctx, category)
		if err != nil {
			return err
		}
		room = r
		if !created {
			return nil
		}

		m.logger.Info("Created waiting room", "room_id", r.ID, "category", category)
		if err := ctx.Err(); err != nil {
			return err
		}
		return m.postSystemMessage(ctx, r.ID, welcomeText(category))
	})
	if err != nil {
		return store.Room{}, fmt.Errorf("failed to ensure waiting room for %s: %w", category, err)
	}
	return room, nil
}

func (m *Manager) postSystemMessage(ctx context.Context, roomID int64, text string) error {
	_, _, err := m.store.FindOrCreateMessage(ctx, store.CreateMessageParams{
		RoomID:   roomID,
		UserID:   m.cfg.SystemUserID,
		Text:     text,
		IsSystem: true,
	})
	if err != nil {
		return fmt.Errorf("failed to post system message: %w", err)
	}
	return nil
}

func seated(participants []store.RoomParticipant, userID int64) bool {
	for _, p := range participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Admission is the outcome of AdmitParticipant.
type Admission struct {
	Participants []store.RoomParticipant
	// Admitted is false when the user was already seated.
	Admitted bool
}

// AdmitParticipant seats userID in roomID. A full room yields ErrRoomFull
// without mutation; re-admitting a seated user is a no-op.
func (m *Manager) AdmitParticipant(ctx context.Context, roomID, userID int64, username string) (Admission, error) {
	participants, err := m.store.ListRoomParticipants(ctx, roomID)
	if err != nil {
		return Admission{}, fmt.Errorf("failed to load participants: %w", err)
	}
	if seated(participants, userID) {
		return Admission{Participants: participants}, nil
	}
	if len(participants) >= m.cfg.Capacity {
		return Admission{}, ErrRoomFull
	}

	var result Admission
	err = m.locker.WithLock(ctx, []string{fmt.Sprintf("new-participant:%d", roomID)}, m.cfg.ParticipantLease, func(ctx context.Context) error {
		current, err := m.store.ListRoomParticipants(ctx, roomID)
		if err != nil {
			return fmt.Errorf("failed to reload participants: %w", err)
		}
		if seated(current, userID) {
			result = Admission{Participants: current}
			return nil
		}
		if len(current) >= m.cfg.Capacity {
			return ErrRoomFull
		}

		_, created, err := m.store.AddParticipant(ctx, store.CreateRoomParticipantParams{
			RoomID:   roomID,
			UserID:   userID,
			Username: username,
		})
		if err != nil {
			return err
		}

		updated, err := m.store.ListRoomParticipants(ctx, roomID)
		if err != nil {
			return fmt.Errorf("failed to reload participants: %w", err)
		}
		result = Admission{Participants: updated, Admitted: created}
		if !created {
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		msg, isNew, err := m.store.FindOrCreateMessage(ctx, store.CreateMessageParams{
			RoomID:   roomID,
			UserID:   m.cfg.SystemUserID,
			Text:     joinedText(username),
			IsSystem: true,
		})
		if err != nil {
			return fmt.Errorf("failed to post join message: %w", err)
		}
		if isNew {
			m.notifier.BroadcastToRoom(ctx, hub.RoomLabel(roomID), events.NEW_MESSAGE, events.NewMessage{Message: msg})
		}
		return nil
	})
	if err != nil {
		return Admission{}, err
	}

	if result.Admitted {
		m.logger.Info("Participant admitted", "room_id", roomID, "user_id", userID, "participants", len(result.Participants))
	}
	return result, nil
}

// PromoteIfFull activates the room once participantCount reaches capacity and
// distributes shuffled questions. It reports whether this call performed the
// transition; a room that is already active is left alone. Questions are
// loaded before the state flip, so a failed fetch leaves the room waiting.
func (m *Manager) PromoteIfFull(ctx context.Context, roomID int64, participantCount int) (bool, error) {
	if participantCount != m.cfg.Capacity {
		return false, nil
	}

	current, err := m.store.GetRoom(ctx, roomID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load room %d: %w", roomID, err)
	}
	if current.State != store.RoomStateWaiting {
		return false, nil
	}

	questions, err := m.store.FindRandomQuestions(ctx, store.FindRandomQuestionsParams{
		Category: current.Category,
		Limit:    int32(m.cfg.QuestionsPerRoom),
	})
	if err != nil {
		return false, fmt.Errorf("failed to load questions for room %d: %w", roomID, err)
	}
	m.ShuffleOptions(questions)

	room, err := m.store.ActivateRoom(ctx, roomID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to activate room %d: %w", roomID, err)
	}

	if _, err := m.RefreshRoom(ctx, roomID); err != nil {
		m.logger.Warn("Failed to refresh room after activation", "room_id", roomID, "error", err)
	}

	label := hub.RoomLabel(roomID)
	m.notifier.BroadcastToRoom(ctx, label, events.ROOM_STATUS, events.RoomStatus{RoomID: roomID, Status: store.RoomStateActive})
	m.notifier.BroadcastToRoom(ctx, label, events.TRIVIA_QUESTIONS, events.TriviaQuestions{RoomID: roomID, Questions: questions})
	m.logger.Info("Room activated", "room_id", roomID, "category", room.Category, "questions", len(questions))
	return true, nil
}

// SpawnSuccessorIfNeeded opens another waiting room for the category when the
// first participant sits down, so later players do not queue behind a room
// that is about to start. It reports whether a room was created.
func (m *Manager) SpawnSuccessorIfNeeded(ctx context.Context, room store.Room, participantCount int, idempotencyKey string) (bool, error) {
	if participantCount != 1 {
		return false, nil
	}

	flag := cache.CreateRoomFlagKey(room.Category)
	claimed, err := m.cache.Claim(ctx, flag, m.cfg.FlagTTL)
	if err != nil {
		return false, fmt.Errorf("failed to claim successor flag: %w", err)
	}
	if !claimed {
		m.logger.Debug("Successor room being created, skipping", "category", room.Category)
		return false, nil
	}
	defer func() {
		if err := m.cache.Delete(context.WithoutCancel(ctx), flag); err != nil {
			m.logger.Warn("Failed to clear successor flag", "category", room.Category, "error", err)
		}
	}()

	var successor store.Room
	var created bool
	err = m.locker.WithLock(ctx, []string{"next-room:" + room.Category}, m.cfg.RoomLease, func(ctx context.Context) error {
		r, ok, err := m.store.CreateSuccessorRoom(ctx, store.CreateSuccessorRoomParams{
			Category:       room.Category,
			IdempotencyKey: idempotencyKey,
			MaxWaiting:     int64(m.cfg.MaxWaitingRooms),
		})
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		successor, created = r, true

		if err := ctx.Err(); err != nil {
			return err
		}
		return m.postSystemMessage(ctx, r.ID, welcomeText(r.Category))
	})
	if err != nil {
		return false, fmt.Errorf("failed to spawn successor for %s: %w", room.Category, err)
	}
	if !created {
		return false, nil
	}

	m.notifier.BroadcastGlobal(ctx, events.NEW_ROOM, events.NewRoom{Room: successor})
	if _, err := m.RefreshRoom(ctx, successor.ID); err != nil {
		m.logger.Warn("Failed to cache successor room", "room_id", successor.ID, "error", err)
	}
	m.logger.Info("Spawned successor room", "room_id", successor.ID, "category", successor.Category)
	return true, nil
}

// WaitingRoomsForUser makes sure every topic the user follows has a waiting
// room and returns those rooms, fullest first.
func (m *Manager) WaitingRoomsForUser(ctx context.Context, userID int64) ([]store.WaitingRoom, error) {
	topics, err := m.store.GetUserTopics(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load topics of user %d: %w", userID, err)
	}

	for _, topic := range topics {
		if _, err := m.EnsureWaitingRoom(ctx, topic); err != nil {
			m.logger.Warn("Could not ensure waiting room", "category", topic, "error", err)
		}
	}

	rooms, err := m.store.ListWaitingRoomsByCategories(ctx, topics)
	if err != nil {
		return nil, fmt.Errorf("failed to list waiting rooms: %w", err)
	}
	return rooms, nil
}

// PostMessage stores a chat message once per client id and broadcasts it to the room.
func (m *Manager) PostMessage(ctx context.Context, userID, roomID int64, clientID, text string) (store.Message, error) {
	var msg store.Message
	key := fmt.Sprintf("send-message:%d-%d", userID, roomID)
	err := m.locker.WithLock(ctx, []string{key}, m.cfg.MessageLease, func(ctx context.Context) error {
		var created bool
		var err error
		msg, created, err = m.store.FindOrCreateMessage(ctx, store.CreateMessageParams{
			RoomID:   roomID,
			UserID:   userID,
			ClientID: pgtype.Text{String: clientID, Valid: clientID != ""},
			Text:     text,
		})
		if err != nil {
			return err
		}
		if created {
			m.notifier.BroadcastToRoom(ctx, hub.RoomLabel(roomID), events.NEW_MESSAGE, events.NewMessage{Message: msg})
		}
		return nil
	})
	if err != nil {
		return store.Message{}, fmt.Errorf("failed to post message: %w", err)
	}
	return msg, nil
}
