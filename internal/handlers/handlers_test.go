package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gidbecxa/triviarush-server/internal/cache"
	"github.com/gidbecxa/triviarush-server/internal/events"
	"github.com/gidbecxa/triviarush-server/internal/hub"
	"github.com/gidbecxa/triviarush-server/internal/lock"
	"github.com/gidbecxa/triviarush-server/internal/queue"
	"github.com/gidbecxa/triviarush-server/internal/rooms"
	"github.com/gidbecxa/triviarush-server/internal/rooms/roomstest"
	"github.com/gidbecxa/triviarush-server/internal/store"
	"github.com/gidbecxa/triviarush-server/internal/testutils"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockStatsReader implements StatsReader for testing
type MockStatsReader struct {
	mock.Mock
}

func (m *MockStatsReader) GetRoomStats(ctx context.Context, roomID int64) ([]store.UserRoomStat, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.UserRoomStat), args.Error(1)
}

type testEnv struct {
	handler *HandlerRepo
	hub     *hub.Hub
	store   *roomstest.FakeStore
	queues  *queue.Service
	stats   *MockStatsReader
}

func newTestHandler(t *testing.T, checks map[string]HealthCheck) *testEnv {
	t.Helper()
	logger := testutils.Logger()
	lockOpts := lock.Options{
		RetryCount:      50,
		RetryDelay:      5 * time.Millisecond,
		RetryJitter:     2 * time.Millisecond,
		ExtendThreshold: 100 * time.Millisecond,
	}

	h := hub.New(logger, nil, "")
	fs := roomstest.NewFakeStore()
	locker := lock.NewManager(lock.NewMemoryBackend(), lockOpts, logger)
	manager := rooms.NewManager(fs, cache.NewMemoryStore(), locker, h, rooms.DefaultConfig(), logger)
	queues := queue.NewService(logger)
	stats := new(MockStatsReader)

	hr := NewHandlerRepo(logger, Dependencies{
		Sessions:  h,
		Rooms:     manager,
		Queues:    queues,
		Stats:     stats,
		Cache:     cache.NewMemoryStore(),
		JoinGuard: time.Second,
		Checks:    checks,
	})
	return &testEnv{handler: hr, hub: h, store: fs, queues: queues, stats: stats}
}

// connect registers a hub session for userID and returns it.
func (e *testEnv) connect(userID int64) *hub.Session {
	s := hub.NewSession(userID, "player", hub.DefaultSessionBuffer)
	e.hub.Register(s)
	return s
}

func inbound(t *testing.T, eventType events.EventType, data any) events.Inbound {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return events.Inbound{EventType: eventType, Data: raw}
}

// received returns every event already buffered for the session.
func received(s *hub.Session) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-s.Outbound():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func errorMessages(evs []events.Event) []string {
	var out []string
	for _, ev := range evs {
		if ev.EventType == events.ERROR {
			out = append(out, ev.Data.(events.Error).Message)
		}
	}
	return out
}

func TestHandleInboundJoinRoom(t *testing.T) {
	tests := []struct {
		name          string
		testCaseID    string
		payload       events.JoinRoomRequest
		expectedQueue int
		expectedError string
	}{
		{
			name:          "UTCID01_ValidJoin",
			testCaseID:    "UTCID01",
			payload:       events.JoinRoomRequest{RoomID: 4, IdempotencyKey: "abc"},
			expectedQueue: 1,
		},
		{
			name:          "UTCID02_ZeroRoomID",
			testCaseID:    "UTCID02",
			payload:       events.JoinRoomRequest{RoomID: 0},
			expectedQueue: 0,
			expectedError: "RoomId must be a positive integer",
		},
		{
			name:          "UTCID03_NegativeRoomID",
			testCaseID:    "UTCID03",
			payload:       events.JoinRoomRequest{RoomID: -2},
			expectedQueue: 0,
			expectedError: "RoomId must be a positive integer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestHandler(t, nil)
			session := env.connect(7)
			identity := Identity{UserID: 7, Username: "ada"}

			env.handler.HandleInbound(context.Background(), identity, inbound(t, events.JOIN_ROOM, tt.payload))

			assert.Equal(t, tt.expectedQueue, env.queues.Joins.Size(), "Test case %s", tt.testCaseID)
			errs := errorMessages(received(session))
			if tt.expectedError == "" {
				assert.Empty(t, errs)
				return
			}
			assert.Equal(t, []string{tt.expectedError}, errs)
		})
	}
}

func TestJoinRoomDropsRepeatedClicks(t *testing.T) {
	env := newTestHandler(t, nil)
	identity := Identity{UserID: 7, Username: "ada"}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		env.handler.HandleInbound(ctx, identity, inbound(t, events.JOIN_ROOM, events.JoinRoomRequest{RoomID: 4}))
	}
	env.handler.HandleInbound(ctx, identity, inbound(t, events.JOIN_ROOM, events.JoinRoomRequest{RoomID: 5}))

	entries := env.queues.Joins.Drain(10)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(4), entries[0].RoomID)
	assert.Equal(t, int64(5), entries[1].RoomID)
	assert.Equal(t, "ada", entries[0].Username)
	assert.NotEmpty(t, entries[0].IdempotencyKey, "a missing idempotency key is generated")
	assert.NotEqual(t, entries[0].IdempotencyKey, entries[1].IdempotencyKey)
}

func TestHandleInboundSubmitResponse(t *testing.T) {
	tests := []struct {
		name          string
		testCaseID    string
		payload       events.SubmitResponseRequest
		expectedQueue int
		expectedError string
	}{
		{
			name:          "UTCID01_CorrectAnswer",
			testCaseID:    "UTCID01",
			payload:       events.SubmitResponseRequest{RoomID: 1, QuestionID: 2, Score: 1, ResponseTime: 900},
			expectedQueue: 1,
		},
		{
			name:          "UTCID02_WrongAnswer",
			testCaseID:    "UTCID02",
			payload:       events.SubmitResponseRequest{RoomID: 1, QuestionID: 2, Score: 0, ResponseTime: 0},
			expectedQueue: 1,
		},
		{
			name:          "UTCID03_InvalidScore",
			testCaseID:    "UTCID03",
			payload:       events.SubmitResponseRequest{RoomID: 1, QuestionID: 2, Score: 11, ResponseTime: 900},
			expectedError: "Score must be 0 or 1",
		},
		{
			name:          "UTCID04_NegativeResponseTime",
			testCaseID:    "UTCID04",
			payload:       events.SubmitResponseRequest{RoomID: 1, QuestionID: 2, Score: 1, ResponseTime: -1},
			expectedError: "ResponseTime must not be negative",
		},
		{
			name:          "UTCID05_MissingQuestion",
			testCaseID:    "UTCID05",
			payload:       events.SubmitResponseRequest{RoomID: 1, Score: 1, ResponseTime: 10},
			expectedError: "QuestionId must be a positive integer",
		},
		{
			name:          "UTCID06_MissingRoom",
			testCaseID:    "UTCID06",
			payload:       events.SubmitResponseRequest{QuestionID: 2, Score: 1, ResponseTime: 10},
			expectedError: "RoomId must be a positive integer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestHandler(t, nil)
			session := env.connect(3)

			env.handler.HandleInbound(context.Background(), Identity{UserID: 3, Username: "bo"}, inbound(t, events.SUBMIT_RESPONSE, tt.payload))

			assert.Equal(t, tt.expectedQueue, env.queues.Responses.Size(), "Test case %s", tt.testCaseID)
			errs := errorMessages(received(session))
			if tt.expectedError == "" {
				assert.Empty(t, errs)
				entry := env.queues.Responses.Drain(1)[0]
				assert.Equal(t, int64(3), entry.UserID)
				assert.Equal(t, tt.payload.ResponseTime, entry.ResponseTimeMs)
				return
			}
			assert.Equal(t, []string{tt.expectedError}, errs)
		})
	}
}

func TestHandleInboundRejectsMalformedEvents(t *testing.T) {
	env := newTestHandler(t, nil)
	session := env.connect(3)
	identity := Identity{UserID: 3, Username: "bo"}
	ctx := context.Background()

	env.handler.HandleInbound(ctx, identity, events.Inbound{EventType: events.JOIN_ROOM})
	env.handler.HandleInbound(ctx, identity, events.Inbound{EventType: events.JOIN_ROOM, Data: json.RawMessage(`"nope"`)})
	env.handler.HandleInbound(ctx, identity, events.Inbound{EventType: "dance"})

	errs := errorMessages(received(session))
	require.Len(t, errs, 3)
	assert.Equal(t, "Event data is required", errs[0])
	assert.True(t, strings.HasPrefix(errs[1], "Malformed event data"))
	assert.Equal(t, `Unknown event "dance"`, errs[2])
	assert.Zero(t, env.queues.Joins.Size())
}

func TestFetchRoomsSendsWaitingRoomsAndSpecialTrivias(t *testing.T) {
	env := newTestHandler(t, nil)
	env.store.SetUserTopics(7, "science", "history")
	trivia := env.store.SeedSpecialTrivia("friday night", 4)
	session := env.connect(7)

	env.handler.HandleInbound(context.Background(), Identity{UserID: 7, Username: "ada"}, inbound(t, events.FETCH_ROOMS, struct{}{}))

	evs := received(session)
	require.Len(t, evs, 2)
	assert.Equal(t, events.WAITING_ROOMS, evs[0].EventType)
	waiting := evs[0].Data.(events.WaitingRooms).Rooms
	require.Len(t, waiting, 2)
	categories := []string{waiting[0].Category, waiting[1].Category}
	assert.ElementsMatch(t, []string{"science", "history"}, categories)

	assert.Equal(t, events.SPECIAL_TRIVIAS, evs[1].EventType)
	assert.Equal(t, []store.SpecialTrivia{trivia}, evs[1].Data.(events.SpecialTrivias).Trivias)
}

func TestHandleInboundSendMessage(t *testing.T) {
	env := newTestHandler(t, nil)
	room := env.store.SeedRoom("science", store.RoomStateWaiting)
	session := env.connect(7)
	env.hub.Join(7, hub.RoomLabel(room.ID))
	identity := Identity{UserID: 7, Username: "ada"}
	ctx := context.Background()

	msg := events.SendMessageRequest{RoomID: room.ID, ClientID: "c-1", Text: "  hello  "}
	env.handler.HandleInbound(ctx, identity, inbound(t, events.SEND_MESSAGE, msg))
	env.handler.HandleInbound(ctx, identity, inbound(t, events.SEND_MESSAGE, msg))
	env.handler.HandleInbound(ctx, identity, inbound(t, events.SEND_MESSAGE, events.SendMessageRequest{RoomID: room.ID, Text: "   "}))
	env.handler.HandleInbound(ctx, identity, inbound(t, events.SEND_MESSAGE, events.SendMessageRequest{RoomID: room.ID, Text: strings.Repeat("a", maxMessageLength+1)}))

	stored := env.store.Messages(room.ID)
	require.Len(t, stored, 1)
	assert.Equal(t, "hello", stored[0].Text)

	evs := received(session)
	var broadcasts int
	for _, ev := range evs {
		if ev.EventType == events.NEW_MESSAGE {
			broadcasts++
		}
	}
	assert.Equal(t, 1, broadcasts)
	assert.Equal(t, []string{"Text must not be empty", "Text must not be longer than 500 characters"}, errorMessages(evs))
}

func TestHandleInboundJoinSpecialTrivia(t *testing.T) {
	env := newTestHandler(t, nil)
	trivia := env.store.SeedSpecialTrivia("friday night", 3)
	session := env.connect(9)
	identity := Identity{UserID: 9, Username: "cy"}
	ctx := context.Background()

	env.handler.HandleInbound(ctx, identity, inbound(t, events.JOIN_SPECIAL_TRIVIA, events.JoinSpecialTriviaRequest{SpecialID: trivia.ID}))
	env.handler.HandleInbound(ctx, identity, inbound(t, events.JOIN_SPECIAL_TRIVIA, events.JoinSpecialTriviaRequest{SpecialID: trivia.ID}))

	entries := env.queues.SpecialJoins.Drain(10)
	require.Len(t, entries, 2)
	assert.NotZero(t, entries[0].SpecialRoomID)
	assert.Equal(t, entries[0].SpecialRoomID, entries[1].SpecialRoomID, "the waiting room is reused")
	assert.Equal(t, trivia.ID, entries[0].SpecialID)

	env.handler.HandleInbound(ctx, identity, inbound(t, events.JOIN_SPECIAL_TRIVIA, events.JoinSpecialTriviaRequest{SpecialID: 999}))
	assert.Equal(t, []string{"Room not found"}, errorMessages(received(session)))
	assert.Zero(t, env.queues.SpecialJoins.Size())
}

func TestSubmitResponseHandler(t *testing.T) {
	tests := []struct {
		name           string
		testCaseID     string
		userID         string
		body           string
		expectedStatus int
		expectedQueue  int
	}{
		{
			name:           "UTCID01_Accepted",
			testCaseID:     "UTCID01",
			userID:         "5",
			body:           `{"roomId":1,"questionId":2,"score":1,"responseTime":300}`,
			expectedStatus: http.StatusAccepted,
			expectedQueue:  1,
		},
		{
			name:           "UTCID02_MissingIdentity",
			testCaseID:     "UTCID02",
			body:           `{"roomId":1,"questionId":2,"score":1,"responseTime":300}`,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "UTCID03_InvalidIdentity",
			testCaseID:     "UTCID03",
			userID:         "abc",
			body:           `{"roomId":1,"questionId":2,"score":1,"responseTime":300}`,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "UTCID04_UnknownField",
			testCaseID:     "UTCID04",
			userID:         "5",
			body:           `{"roomId":1,"questionId":2,"score":1,"responseTime":300,"bonus":true}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "UTCID05_InvalidScore",
			testCaseID:     "UTCID05",
			userID:         "5",
			body:           `{"roomId":1,"questionId":2,"score":3,"responseTime":300}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "UTCID06_EmptyBody",
			testCaseID:     "UTCID06",
			userID:         "5",
			body:           ``,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestHandler(t, nil)
			handler := env.handler.IdentityMiddleware(http.HandlerFunc(env.handler.SubmitResponseHandler))

			req := httptest.NewRequest(http.MethodPost, "/responses", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			if tt.userID != "" {
				req.Header.Set("X-User-Id", tt.userID)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code, "Test case %s", tt.testCaseID)
			assert.Equal(t, tt.expectedQueue, env.queues.Responses.Size())

			var body map[string]any
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.expectedStatus < http.StatusBadRequest, body["success"])
		})
	}
}

func TestRoomStatsHandler(t *testing.T) {
	tests := []struct {
		name           string
		testCaseID     string
		roomID         string
		setupMock      func(m *MockStatsReader)
		expectedStatus int
	}{
		{
			name:       "UTCID01_Leaderboard",
			testCaseID: "UTCID01",
			roomID:     "12",
			setupMock: func(m *MockStatsReader) {
				m.On("GetRoomStats", mock.Anything, int64(12)).Return([]store.UserRoomStat{
					{UserID: 1, Score: 12, ResponseTime: 700},
					{UserID: 2, Score: 11, ResponseTime: 400},
				}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "UTCID02_InvalidRoomID",
			testCaseID:     "UTCID02",
			roomID:         "twelve",
			setupMock:      func(m *MockStatsReader) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:       "UTCID03_StoreFailure",
			testCaseID: "UTCID03",
			roomID:     "12",
			setupMock: func(m *MockStatsReader) {
				m.On("GetRoomStats", mock.Anything, int64(12)).Return(nil, errors.New("connection refused"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestHandler(t, nil)
			tt.setupMock(env.stats)

			router := chi.NewRouter()
			router.Get("/rooms/{room_id}/stats", env.handler.RoomStatsHandler)

			req := httptest.NewRequest(http.MethodGet, "/rooms/"+tt.roomID+"/stats", nil)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code, "Test case %s", tt.testCaseID)
			env.stats.AssertExpectations(t)

			if tt.expectedStatus == http.StatusOK {
				var body struct {
					Data []store.UserRoomStat `json:"data"`
				}
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
				require.Len(t, body.Data, 2)
				assert.Equal(t, int64(12), body.Data[0].Score)
			}
		})
	}
}

func TestQueueDepthsHandler(t *testing.T) {
	env := newTestHandler(t, nil)
	env.queues.Joins.Push(queue.JoinEntry{UserID: 1, RoomID: 1})
	env.queues.Responses.Push(queue.ResponseEntry{UserID: 1})
	env.queues.Responses.Push(queue.ResponseEntry{UserID: 2})

	rr := httptest.NewRecorder()
	env.handler.QueueDepthsHandler(rr, httptest.NewRequest(http.MethodGet, "/queues", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Data queue.Depths `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, queue.Depths{Joins: 1, Responses: 2}, body.Data)
}

func TestHealthHandler(t *testing.T) {
	healthy := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("dial tcp: refused") }

	env := newTestHandler(t, map[string]HealthCheck{"postgres": healthy, "redis": healthy})
	rr := httptest.NewRecorder()
	env.handler.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	env = newTestHandler(t, map[string]HealthCheck{"postgres": healthy, "redis": down})
	rr = httptest.NewRecorder()
	env.handler.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var body struct {
		Success bool              `json:"success"`
		Data    map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "ok", body.Data["postgres"])
	assert.Equal(t, "dial tcp: refused", body.Data["redis"])
}

func TestIdentityFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?userId=42&username=ada", nil)
	identity, err := identityFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: 42, Username: "ada"}, identity)

	req = httptest.NewRequest(http.MethodGet, "/ws?userId=1", nil)
	req.Header.Set("X-User-Id", "8")
	identity, err = identityFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: 8, Username: "player-8"}, identity)

	_, err = identityFromRequest(httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.ErrorIs(t, err, ErrMissingIdentity)

	_, err = identityFromRequest(httptest.NewRequest(http.MethodGet, "/ws?userId=-3", nil))
	assert.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestSessionHandlerRoundTrip(t *testing.T) {
	env := newTestHandler(t, nil)
	env.store.SetUserTopics(11, "science")
	server := httptest.NewServer(env.handler.IdentityMiddleware(http.HandlerFunc(env.handler.SessionHandler)))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?userId=11&username=dee"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"event": events.FETCH_ROOMS, "data": map[string]any{}}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var first events.Inbound
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, events.WAITING_ROOMS, first.EventType)

	var waiting events.WaitingRooms
	require.NoError(t, json.Unmarshal(first.Data, &waiting))
	require.Len(t, waiting.Rooms, 1)
	assert.Equal(t, "science", waiting.Rooms[0].Category)

	var second events.Inbound
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, events.SPECIAL_TRIVIAS, second.EventType)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"event": events.SUBMIT_RESPONSE,
		"data":  events.SubmitResponseRequest{RoomID: 1, QuestionID: 1, Score: 1, ResponseTime: 250},
	}))
	assert.Eventually(t, func() bool { return env.queues.Responses.Size() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, env.hub.IsConnected(11))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return !env.hub.IsConnected(11) }, 2*time.Second, 10*time.Millisecond)
}
