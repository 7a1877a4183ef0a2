package queue

import (
	"log/slog"
)

type JoinEntry struct {
	UserID         int64  `json:"userId"`
	RoomID         int64  `json:"roomId"`
	Username       string `json:"username"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type ResponseEntry struct {
	UserID         int64 `json:"userId"`
	RoomID         int64 `json:"roomId"`
	QuestionID     int64 `json:"questionId"`
	Score          int32 `json:"score"`
	ResponseTimeMs int64 `json:"responseTime"`
}

type SpecialJoinEntry struct {
	UserID        int64  `json:"userId"`
	Username      string `json:"username"`
	SpecialID     int64  `json:"specialId"`
	SpecialRoomID int64  `json:"specialRoomId"`
}

// Service owns the three ingestion queues for the lifetime of the process.
type Service struct {
	Joins        *FIFO[JoinEntry]
	Responses    *FIFO[ResponseEntry]
	SpecialJoins *FIFO[SpecialJoinEntry]
	logger       *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	return &Service{
		Joins:        NewFIFO[JoinEntry](),
		Responses:    NewFIFO[ResponseEntry](),
		SpecialJoins: NewFIFO[SpecialJoinEntry](),
		logger:       logger,
	}
}

type Depths struct {
	Joins        int `json:"joins"`
	Responses    int `json:"responses"`
	SpecialJoins int `json:"specialJoins"`
}

func (s *Service) Depths() Depths {
	return Depths{
		Joins:        s.Joins.Size(),
		Responses:    s.Responses.Size(),
		SpecialJoins: s.SpecialJoins.Size(),
	}
}

// Close empties every queue at shutdown and logs how many entries were abandoned.
func (s *Service) Close() Depths {
	abandoned := Depths{
		Joins:        len(s.Joins.Drain(s.Joins.Size())),
		Responses:    len(s.Responses.Drain(s.Responses.Size())),
		SpecialJoins: len(s.SpecialJoins.Drain(s.SpecialJoins.Size())),
	}
	if abandoned.Joins+abandoned.Responses+abandoned.SpecialJoins > 0 {
		s.logger.Warn("Abandoning queued entries at shutdown",
			"joins", abandoned.Joins,
			"responses", abandoned.Responses,
			"special_joins", abandoned.SpecialJoins)
	}
	return abandoned
}
