package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gidbecxa/triviarush-server/internal/events"
	"github.com/gidbecxa/triviarush-server/internal/hub"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
)

// SessionHandler upgrades the request to a websocket session for the caller's
// identity. Outbound events come from the hub; inbound events are validated
// and pushed onto the ingestion queues.
func (hr *HandlerRepo) SessionHandler(w http.ResponseWriter, r *http.Request) {
	identity, err := GetIdentity(r.Context())
	if err != nil {
		hr.unauthorized(w, r)
		return
	}

	conn, err := hr.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error to the client.
		hr.logger.Warn("Websocket upgrade failed", "user_id", identity.UserID, "error", err)
		return
	}

	session := hub.NewSession(identity.UserID, identity.Username, hub.DefaultSessionBuffer)
	hr.sessions.Register(session)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		hr.writePump(conn, session)
	}()

	hr.readPump(ctx, conn, identity)

	hr.sessions.Unregister(session)
	<-done
	conn.Close()
}

func (hr *HandlerRepo) readPump(ctx context.Context, conn *websocket.Conn, identity Identity) {
	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		hr.logger.Error("Failed to set read deadline", "error", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				hr.logger.Warn("Websocket read error", "user_id", identity.UserID, "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var inbound events.Inbound
		if err := json.Unmarshal(message, &inbound); err != nil {
			hr.rejectInbound(ctx, identity, "Malformed event")
			continue
		}
		hr.HandleInbound(ctx, identity, inbound)
	}
}

// writePump owns every write on conn. It returns once the hub closes the
// session's outbound channel or a write fails; closing conn on failure ends
// readPump too. The hub never blocks on a full outbound buffer.
func (hr *HandlerRepo) writePump(conn *websocket.Conn, session *hub.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-session.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				hr.logger.Warn("Websocket write failed", "user_id", session.UserID, "event", event.EventType, "error", err)
				conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}
