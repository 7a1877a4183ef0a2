package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gidbecxa/triviarush-server/pkg/response"
	"github.com/go-chi/chi/v5"
)

const healthTimeout = 2 * time.Second

// RoomStatsHandler returns the leaderboard of a room: per-user score and
// response time totals, highest score first.
func (hr *HandlerRepo) RoomStatsHandler(w http.ResponseWriter, r *http.Request) {
	roomID, err := strconv.ParseInt(chi.URLParam(r, "room_id"), 10, 64)
	if err != nil || roomID <= 0 {
		hr.badRequest(w, r, ErrInvalidRoomID)
		return
	}

	stats, err := hr.stats.GetRoomStats(r.Context(), roomID)
	if err != nil {
		hr.serverError(w, r, err)
		return
	}

	hr.logger.Debug("Room stats", "room_id", roomID, "entries", len(stats))
	err = response.JSON(w, response.JSONResponseParameters{
		Status: http.StatusOK,
		Data:   stats,
		Msg:    "Room stats retrieved successfully",
	})
	if err != nil {
		hr.serverError(w, r, err)
	}
}

// QueueDepthsHandler reports the current depth of each ingestion queue.
func (hr *HandlerRepo) QueueDepthsHandler(w http.ResponseWriter, r *http.Request) {
	err := response.JSON(w, response.JSONResponseParameters{
		Status: http.StatusOK,
		Data:   hr.queues.Depths(),
	})
	if err != nil {
		hr.serverError(w, r, err)
	}
}

func (hr *HandlerRepo) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	results := make(map[string]string, len(hr.checks))
	healthy := true
	for name, check := range hr.checks {
		if err := check(ctx); err != nil {
			hr.logger.Warn("Health check failed", "dependency", name, "error", err)
			results[name] = err.Error()
			healthy = false
			continue
		}
		results[name] = "ok"
	}

	if !healthy {
		hr.unavailable(w, r, results)
		return
	}

	err := response.JSON(w, response.JSONResponseParameters{
		Status: http.StatusOK,
		Data:   results,
	})
	if err != nil {
		hr.serverError(w, r, err)
	}
}
