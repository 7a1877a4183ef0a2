package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/gidbecxa/triviarush-server/internal/events"
	"github.com/google/uuid"
)

// The hub keeps every session connected to this instance and the room labels
// each user has joined. Queue entries are scheduled on the instance that holds
// the user's session, so IsConnected and Join stay local. When a publisher is
// configured every notification goes through the fanout exchange first and all
// instances (this one included) deliver it to their own sessions via Dispatch.

const (
	DefaultSessionBuffer = 64

	routingUser   = "user"
	routingRoom   = "room"
	routingGlobal = "global"
)

// Publisher sends a notification to every instance.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// Session is one connected client. The transport drains Outbound.
type Session struct {
	ID       uuid.UUID
	UserID   int64
	Username string
	outbound chan events.Event
	closed   bool
}

func NewSession(userID int64, username string, buffer int) *Session {
	return &Session{
		ID:       uuid.New(),
		UserID:   userID,
		Username: username,
		outbound: make(chan events.Event, buffer),
	}
}

func (s *Session) Outbound() <-chan events.Event {
	return s.outbound
}

type Hub struct {
	logger    *slog.Logger
	publisher Publisher
	exchange  string

	mu       sync.RWMutex
	sessions map[int64]map[uuid.UUID]*Session // userID -> sessionID -> session
	rooms    map[string]map[int64]struct{}    // label -> userIDs
}

// New creates a hub. A nil publisher keeps delivery local to this instance.
func New(logger *slog.Logger, publisher Publisher, exchange string) *Hub {
	return &Hub{
		logger:    logger,
		publisher: publisher,
		exchange:  exchange,
		sessions:  make(map[int64]map[uuid.UUID]*Session),
		rooms:     make(map[string]map[int64]struct{}),
	}
}

func RoomLabel(roomID int64) string {
	return fmt.Sprintf("room-%d", roomID)
}

func SpecialRoomLabel(specialRoomID int64) string {
	return fmt.Sprintf("special-room-%d", specialRoomID)
}

func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sessions[s.UserID] == nil {
		h.sessions[s.UserID] = make(map[uuid.UUID]*Session)
	}
	h.sessions[s.UserID][s.ID] = s
	h.logger.Info("Session registered", "user_id", s.UserID, "session_id", s.ID)
}

// Unregister removes the session and closes its outbound channel. A user
// without remaining sessions leaves every room label.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userSessions := h.sessions[s.UserID]
	if _, ok := userSessions[s.ID]; !ok {
		return
	}
	delete(userSessions, s.ID)
	if !s.closed {
		s.closed = true
		close(s.outbound)
	}

	if len(userSessions) == 0 {
		delete(h.sessions, s.UserID)
		for label, members := range h.rooms {
			delete(members, s.UserID)
			if len(members) == 0 {
				delete(h.rooms, label)
			}
		}
	}
	h.logger.Info("Session unregistered", "user_id", s.UserID, "session_id", s.ID)
}

// IsConnected reports whether userID has a session on this instance.
func (h *Hub) IsConnected(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID]) > 0
}

// Join adds a connected user to a room label.
func (h *Hub) Join(userID int64, label string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.sessions[userID]) == 0 {
		return
	}
	if h.rooms[label] == nil {
		h.rooms[label] = make(map[int64]struct{})
	}
	h.rooms[label][userID] = struct{}{}
}

func (h *Hub) SendToUser(ctx context.Context, userID int64, eventType events.EventType, payload any) {
	h.notify(ctx, routingUser+"."+strconv.FormatInt(userID, 10), events.Event{EventType: eventType, Data: payload})
}

func (h *Hub) BroadcastToRoom(ctx context.Context, label string, eventType events.EventType, payload any) {
	h.notify(ctx, routingRoom+"."+label, events.Event{EventType: eventType, Data: payload})
}

func (h *Hub) BroadcastGlobal(ctx context.Context, eventType events.EventType, payload any) {
	h.notify(ctx, routingGlobal, events.Event{EventType: eventType, Data: payload})
}

func (h *Hub) notify(ctx context.Context, routingKey string, event events.Event) {
	if h.publisher == nil {
		h.deliver(routingKey, event)
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal notification", "error", err, "routing_key", routingKey)
		return
	}

	if err := h.publisher.Publish(ctx, h.exchange, routingKey, body); err != nil {
		h.logger.Error("Failed to publish notification, delivering locally only",
			"error", err,
			"routing_key", routingKey)
		h.deliver(routingKey, event)
	}
}

// Dispatch delivers a notification received from the fanout exchange to the
// sessions of this instance.
func (h *Hub) Dispatch(routingKey string, body []byte) error {
	var inbound events.Inbound
	if err := json.Unmarshal(body, &inbound); err != nil {
		return fmt.Errorf("failed to unmarshal notification: %w", err)
	}

	h.deliver(routingKey, events.Event{EventType: inbound.EventType, Data: inbound.Data})
	return nil
}

func (h *Hub) deliver(routingKey string, event events.Event) {
	kind, target, _ := strings.Cut(routingKey, ".")

	h.mu.RLock()
	var targets []*Session
	switch kind {
	case routingUser:
		userID, err := strconv.ParseInt(target, 10, 64)
		if err != nil {
			h.mu.RUnlock()
			h.logger.Warn("Invalid user routing key", "routing_key", routingKey)
			return
		}
		for _, s := range h.sessions[userID] {
			targets = append(targets, s)
		}
	case routingRoom:
		for userID := range h.rooms[target] {
			for _, s := range h.sessions[userID] {
				targets = append(targets, s)
			}
		}
	case routingGlobal:
		for _, userSessions := range h.sessions {
			for _, s := range userSessions {
				targets = append(targets, s)
			}
		}
	default:
		h.mu.RUnlock()
		h.logger.Warn("Unknown routing key", "routing_key", routingKey)
		return
	}

	// Sends happen under the read lock so Unregister cannot close a channel mid-send.
	for _, s := range targets {
		select {
		case s.outbound <- event:
		default:
			h.logger.Warn("Session buffer full, dropping event",
				"user_id", s.UserID,
				"session_id", s.ID,
				"event", event.EventType)
		}
	}
	h.mu.RUnlock()
}
