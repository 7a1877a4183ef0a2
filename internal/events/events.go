package events

import (
	"encoding/json"

	"github.com/gidbecxa/triviarush-server/internal/store"
)

type EventType string

// Events sent to sessions.
const (
	JOINED_ROOM         EventType = "joinedRoom"
	ROOM_UPDATED        EventType = "roomUpdated"
	NEW_ROOM            EventType = "newRoom"
	ROOM_STATUS         EventType = "roomStatus"
	TRIVIA_QUESTIONS    EventType = "triviaQuestions"
	USER_STATS          EventType = "userStats"
	LEADING_PLAYER      EventType = "leadingPlayer"
	ERROR               EventType = "error"
	NEW_MESSAGE         EventType = "newMessage"
	SPECIAL_PLAYERS     EventType = "specialPlayers"
	JOINED_SPECIAL_ROOM EventType = "joinedSpecialRoom"
	WAITING_ROOMS       EventType = "waitingRooms"
	SPECIAL_TRIVIAS     EventType = "specialTrivias"
)

// Events received from sessions.
const (
	FETCH_ROOMS         EventType = "fetchRooms"
	JOIN_ROOM           EventType = "joinRoom"
	SEND_MESSAGE        EventType = "sendMessage"
	SUBMIT_RESPONSE     EventType = "submitResponse"
	JOIN_SPECIAL_TRIVIA EventType = "joinSpecialTrivia"
)

// Event is the envelope written to a session.
type Event struct {
	EventType EventType `json:"event"`
	Data      any       `json:"data"`
}

// Inbound is the envelope read from a session; Data is decoded per EventType.
type Inbound struct {
	EventType EventType       `json:"event"`
	Data      json.RawMessage `json:"data"`
}

type RoomPayload struct {
	Room store.RoomSnapshot `json:"room"`
}

type NewRoom struct {
	Room store.Room `json:"room"`
}

type RoomStatus struct {
	RoomID int64           `json:"roomId"`
	Status store.RoomState `json:"status"`
}

type TriviaQuestions struct {
	RoomID    int64            `json:"roomId"`
	Questions []store.Question `json:"questions"`
}

type UserStats struct {
	UserID       int64 `json:"userId"`
	Score        int64 `json:"score"`
	ResponseTime int64 `json:"responseTime"`
}

type LeadingPlayer struct {
	UserID int64 `json:"userId"`
	Score  int64 `json:"score"`
}

type Error struct {
	Message string `json:"message"`
}

type NewMessage struct {
	Message store.Message `json:"message"`
}

type SpecialPlayers struct {
	SpecialRoomID int64                 `json:"specialRoomId"`
	Players       []store.SpecialPlayer `json:"players"`
}

type JoinedSpecialRoom struct {
	Room store.SpecialRoomSnapshot `json:"room"`
}

type WaitingRooms struct {
	Rooms []store.WaitingRoom `json:"rooms"`
}

type SpecialTrivias struct {
	Trivias []store.SpecialTrivia `json:"trivias"`
}

type JoinRoomRequest struct {
	RoomID         int64  `json:"roomId"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type SendMessageRequest struct {
	RoomID   int64  `json:"roomId"`
	ClientID string `json:"clientId"`
	Text     string `json:"text"`
}

type SubmitResponseRequest struct {
	RoomID       int64 `json:"roomId"`
	QuestionID   int64 `json:"questionId"`
	Score        int32 `json:"score"`
	ResponseTime int64 `json:"responseTime"`
}

type JoinSpecialTriviaRequest struct {
	SpecialID int64 `json:"specialId"`
}
