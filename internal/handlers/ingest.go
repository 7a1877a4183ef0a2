package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gidbecxa/triviarush-server/internal/cache"
	"github.com/gidbecxa/triviarush-server/internal/events"
	"github.com/gidbecxa/triviarush-server/internal/queue"
	"github.com/gidbecxa/triviarush-server/internal/rooms"
	"github.com/gidbecxa/triviarush-server/pkg/request"
	"github.com/gidbecxa/triviarush-server/pkg/response"
	"github.com/google/uuid"
)

const maxMessageLength = 500

var (
	ErrInvalidRoomID     = errors.New("roomId must be a positive integer")
	ErrInvalidQuestionID = errors.New("questionId must be a positive integer")
	ErrInvalidScore      = errors.New("score must be 0 or 1")
	ErrInvalidTime       = errors.New("responseTime must not be negative")
	ErrInvalidSpecialID  = errors.New("specialId must be a positive integer")
	ErrEmptyMessage      = errors.New("text must not be empty")
	ErrMessageTooLong    = fmt.Errorf("text must not be longer than %d characters", maxMessageLength)
)

// HandleInbound validates one event read from a session and routes it. Join
// and response events only reach a queue here; the schedulers do the work.
func (hr *HandlerRepo) HandleInbound(ctx context.Context, identity Identity, inbound events.Inbound) {
	var err error
	switch inbound.EventType {
	case events.FETCH_ROOMS:
		err = hr.fetchRooms(ctx, identity)
	case events.JOIN_ROOM:
		var req events.JoinRoomRequest
		if err = decodeData(inbound.Data, &req); err == nil {
			err = hr.joinRoom(ctx, identity, req)
		}
	case events.SEND_MESSAGE:
		var req events.SendMessageRequest
		if err = decodeData(inbound.Data, &req); err == nil {
			err = hr.sendMessage(ctx, identity, req)
		}
	case events.SUBMIT_RESPONSE:
		var req events.SubmitResponseRequest
		if err = decodeData(inbound.Data, &req); err == nil {
			err = hr.submitResponse(identity, req)
		}
	case events.JOIN_SPECIAL_TRIVIA:
		var req events.JoinSpecialTriviaRequest
		if err = decodeData(inbound.Data, &req); err == nil {
			err = hr.joinSpecialTrivia(ctx, identity, req)
		}
	default:
		err = fmt.Errorf("unknown event %q", inbound.EventType)
	}

	if err != nil {
		hr.logger.Warn("Rejected inbound event",
			"user_id", identity.UserID,
			"event", inbound.EventType,
			"error", err)
		hr.rejectInbound(ctx, identity, clientMessage(err))
	}
}

func decodeData(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return errors.New("event data is required")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("malformed event data: %w", err)
	}
	return nil
}

// clientMessage hides internal failures from the session; validation,
// capacity and not-found errors are passed through.
func clientMessage(err error) string {
	switch {
	case errors.Is(err, rooms.ErrRoomFull):
		return "Room is full"
	case errors.Is(err, rooms.ErrRoomNotFound):
		return "Room not found"
	case errors.Is(err, ErrInternalServer):
		return "Internal server error"
	}
	msg := err.Error()
	return strings.ToUpper(msg[:1]) + msg[1:]
}

func (hr *HandlerRepo) rejectInbound(ctx context.Context, identity Identity, message string) {
	hr.sessions.SendToUser(ctx, identity.UserID, events.ERROR, events.Error{Message: message})
}

func (hr *HandlerRepo) fetchRooms(ctx context.Context, identity Identity) error {
	waiting, err := hr.rooms.WaitingRoomsForUser(ctx, identity.UserID)
	if err != nil {
		hr.logger.Error("Failed to load waiting rooms", "user_id", identity.UserID, "error", err)
		return ErrInternalServer
	}
	hr.sessions.SendToUser(ctx, identity.UserID, events.WAITING_ROOMS, events.WaitingRooms{Rooms: waiting})

	trivias, err := hr.rooms.OpenSpecialTrivias(ctx)
	if err != nil {
		hr.logger.Error("Failed to load special trivias", "user_id", identity.UserID, "error", err)
		return ErrInternalServer
	}
	hr.sessions.SendToUser(ctx, identity.UserID, events.SPECIAL_TRIVIAS, events.SpecialTrivias{Trivias: trivias})
	return nil
}

func (hr *HandlerRepo) joinRoom(ctx context.Context, identity Identity, req events.JoinRoomRequest) error {
	if req.RoomID <= 0 {
		return ErrInvalidRoomID
	}

	claimed, err := hr.cache.Claim(ctx, cache.JoinFlagKey(identity.UserID, req.RoomID), hr.joinGuard)
	if err != nil {
		hr.logger.Error("Failed to claim join flag", "user_id", identity.UserID, "room_id", req.RoomID, "error", err)
		return ErrInternalServer
	}
	if !claimed {
		hr.logger.Debug("Dropped repeated join", "user_id", identity.UserID, "room_id", req.RoomID)
		return nil
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}
	hr.queues.Joins.Push(queue.JoinEntry{
		UserID:         identity.UserID,
		RoomID:         req.RoomID,
		Username:       identity.Username,
		IdempotencyKey: key,
	})
	return nil
}

func (hr *HandlerRepo) sendMessage(ctx context.Context, identity Identity, req events.SendMessageRequest) error {
	if req.RoomID <= 0 {
		return ErrInvalidRoomID
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > maxMessageLength {
		return ErrMessageTooLong
	}

	if _, err := hr.rooms.PostMessage(ctx, identity.UserID, req.RoomID, req.ClientID, text); err != nil {
		hr.logger.Error("Failed to post message", "user_id", identity.UserID, "room_id", req.RoomID, "error", err)
		return ErrInternalServer
	}
	return nil
}

func validateResponse(req events.SubmitResponseRequest) error {
	switch {
	case req.RoomID <= 0:
		return ErrInvalidRoomID
	case req.QuestionID <= 0:
		return ErrInvalidQuestionID
	case req.Score != 0 && req.Score != 1:
		return ErrInvalidScore
	case req.ResponseTime < 0:
		return ErrInvalidTime
	}
	return nil
}

func (hr *HandlerRepo) submitResponse(identity Identity, req events.SubmitResponseRequest) error {
	if err := validateResponse(req); err != nil {
		return err
	}
	hr.queues.Responses.Push(queue.ResponseEntry{
		UserID:         identity.UserID,
		RoomID:         req.RoomID,
		QuestionID:     req.QuestionID,
		Score:          req.Score,
		ResponseTimeMs: req.ResponseTime,
	})
	return nil
}

// joinSpecialTrivia queues the user for the oldest waiting room of the special
// trivia, opening one when none is waiting.
func (hr *HandlerRepo) joinSpecialTrivia(ctx context.Context, identity Identity, req events.JoinSpecialTriviaRequest) error {
	if req.SpecialID <= 0 {
		return ErrInvalidSpecialID
	}

	waiting, err := hr.rooms.GetSpecialRooms(ctx, req.SpecialID)
	if err != nil {
		hr.logger.Error("Failed to load special rooms", "special_id", req.SpecialID, "error", err)
		return ErrInternalServer
	}

	var specialRoomID int64
	if len(waiting) > 0 {
		specialRoomID = waiting[0].ID
	} else {
		room, err := hr.rooms.CreateSpecialRoom(ctx, req.SpecialID)
		if err != nil {
			if errors.Is(err, rooms.ErrRoomNotFound) {
				return err
			}
			hr.logger.Error("Failed to create special room", "special_id", req.SpecialID, "error", err)
			return ErrInternalServer
		}
		specialRoomID = room.ID
	}

	hr.queues.SpecialJoins.Push(queue.SpecialJoinEntry{
		UserID:        identity.UserID,
		Username:      identity.Username,
		SpecialID:     req.SpecialID,
		SpecialRoomID: specialRoomID,
	})
	return nil
}

// SubmitResponseHandler is the HTTP twin of the submitResponse event.
func (hr *HandlerRepo) SubmitResponseHandler(w http.ResponseWriter, r *http.Request) {
	identity, err := GetIdentity(r.Context())
	if err != nil {
		hr.unauthorized(w, r)
		return
	}

	var req events.SubmitResponseRequest
	if err := request.DecodeJSON(w, r, &req); err != nil {
		hr.badRequest(w, r, err)
		return
	}

	if err := hr.submitResponse(identity, req); err != nil {
		hr.badRequest(w, r, err)
		return
	}

	err = response.JSON(w, response.JSONResponseParameters{
		Status: http.StatusAccepted,
		Msg:    "Response queued",
	})
	if err != nil {
		hr.serverError(w, r, err)
	}
}
