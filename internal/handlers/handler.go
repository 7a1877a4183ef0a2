package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gidbecxa/triviarush-server/internal/cache"
	"github.com/gidbecxa/triviarush-server/internal/events"
	"github.com/gidbecxa/triviarush-server/internal/hub"
	"github.com/gidbecxa/triviarush-server/internal/queue"
	"github.com/gidbecxa/triviarush-server/internal/store"
	"github.com/gorilla/websocket"
)

// SessionHub tracks websocket sessions and sends them events. *hub.Hub implements it.
type SessionHub interface {
	Register(s *hub.Session)
	Unregister(s *hub.Session)
	SendToUser(ctx context.Context, userID int64, eventType events.EventType, payload any)
}

// RoomService is the part of *rooms.Manager the gateway calls directly.
type RoomService interface {
	WaitingRoomsForUser(ctx context.Context, userID int64) ([]store.WaitingRoom, error)
	OpenSpecialTrivias(ctx context.Context) ([]store.SpecialTrivia, error)
	GetSpecialRooms(ctx context.Context, specialID int64) ([]store.SpecialRoom, error)
	CreateSpecialRoom(ctx context.Context, specialID int64) (store.SpecialRoom, error)
	PostMessage(ctx context.Context, userID, roomID int64, clientID, text string) (store.Message, error)
}

// StatsReader is implemented by *scoring.Engine.
type StatsReader interface {
	GetRoomStats(ctx context.Context, roomID int64) ([]store.UserRoomStat, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Dependencies struct {
	Sessions SessionHub
	Rooms    RoomService
	Queues   *queue.Service
	Stats    StatsReader
	Cache    cache.Store
	// JoinGuard is how long a repeated joinRoom for the same room is ignored.
	JoinGuard time.Duration
	Checks    map[string]HealthCheck
}

// HandlerRepo holds all the dependencies required by the HTTP handlers and
// the websocket session gateway.
type HandlerRepo struct {
	logger    *slog.Logger
	sessions  SessionHub
	rooms     RoomService
	queues    *queue.Service
	stats     StatsReader
	cache     cache.Store
	joinGuard time.Duration
	checks    map[string]HealthCheck
	upgrader  websocket.Upgrader
}

func NewHandlerRepo(logger *slog.Logger, deps Dependencies) *HandlerRepo {
	return &HandlerRepo{
		logger:    logger,
		sessions:  deps.Sessions,
		rooms:     deps.Rooms,
		queues:    deps.Queues,
		stats:     deps.Stats,
		cache:     deps.Cache,
		joinGuard: deps.JoinGuard,
		checks:    deps.Checks,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			// Browsers connect from the game client's origin; CORS is open on the HTTP side too.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}
