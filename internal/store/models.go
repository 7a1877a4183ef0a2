package store

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

type RoomState string

const (
	RoomStateWaiting RoomState = "waiting"
	RoomStateActive  RoomState = "active"
)

// BonusScore is held by the fastest correct response to a question in a room.
const BonusScore int32 = 11

type Room struct {
	ID             int64       `json:"id"`
	Category       string      `json:"category"`
	State          RoomState   `json:"state"`
	IdempotencyKey pgtype.Text `json:"idempotencyKey"`
	CreatedAt      time.Time   `json:"createdAt"`
}

type RoomParticipant struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"roomId"`
	UserID    int64     `json:"userId"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

type Message struct {
	ID        int64       `json:"id"`
	RoomID    int64       `json:"roomId"`
	UserID    int64       `json:"userId"`
	ClientID  pgtype.Text `json:"clientId"`
	Text      string      `json:"text"`
	IsSystem  bool        `json:"isSystem"`
	CreatedAt time.Time   `json:"createdAt"`
}

type Question struct {
	ID       int64    `json:"id"`
	Category string   `json:"category"`
	Text     string   `json:"text"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
}

type Response struct {
	ID             int64     `json:"id"`
	RoomID         int64     `json:"roomId"`
	QuestionID     int64     `json:"questionId"`
	UserID         int64     `json:"userId"`
	Score          int32     `json:"score"`
	ResponseTimeMs int64     `json:"responseTime"`
	CreatedAt      time.Time `json:"createdAt"`
}

// UserRoomStat is one leaderboard row: a user's summed score and response time in a room.
type UserRoomStat struct {
	UserID       int64 `json:"userId"`
	Score        int64 `json:"score"`
	ResponseTime int64 `json:"responseTime"`
}

type SpecialTrivia struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	PlayersPerRoom int32  `json:"playersPerRoom"`
	Open           bool   `json:"open"`
}

type SpecialRoom struct {
	ID        int64     `json:"id"`
	SpecialID int64     `json:"specialId"`
	State     RoomState `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
}

type SpecialPlayer struct {
	ID            int64     `json:"id"`
	SpecialRoomID int64     `json:"specialRoomId"`
	UserID        int64     `json:"userId"`
	Username      string    `json:"username"`
	PlayerTime    time.Time `json:"playerTime"`
}

// RoomSnapshot is the denormalized view of a room that is cached and sent to sessions.
type RoomSnapshot struct {
	Room
	Participants []RoomParticipant `json:"participants"`
	Messages     []Message         `json:"messages"`
}

// SpecialRoomSnapshot is the cached view of a special room with its capacity.
type SpecialRoomSnapshot struct {
	SpecialRoom
	PlayersPerRoom int32           `json:"playersPerRoom"`
	Players        []SpecialPlayer `json:"players"`
}

type WaitingRoom struct {
	Room
	ParticipantCount int64 `json:"participantCount"`
}
