package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
)

type Key string

const (
	IdentityKey Key = "identity"
)

var (
	ErrMissingIdentity = errors.New("unauthorized: no userId provided")
	ErrInvalidIdentity = errors.New("unauthorized: invalid userId")
)

// Identity is who a request or session acts for. Authentication happens
// upstream; the gateway trusts the userId it is handed.
type Identity struct {
	UserID   int64
	Username string
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func identityFromRequest(r *http.Request) (Identity, error) {
	// Browsers cannot set headers on a websocket handshake, so the query string is accepted too.
	raw := firstNonEmpty(r.Header.Get("X-User-Id"), r.URL.Query().Get("userId"))
	if raw == "" {
		return Identity{}, ErrMissingIdentity
	}

	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return Identity{}, ErrInvalidIdentity
	}

	username := firstNonEmpty(r.Header.Get("X-Username"), r.URL.Query().Get("username"))
	if username == "" {
		username = "player-" + raw
	}
	return Identity{UserID: userID, Username: username}, nil
}

// IdentityMiddleware rejects requests without a valid userId and stores the
// Identity in the request context.
func (hr *HandlerRepo) IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := identityFromRequest(r)
		if err != nil {
			hr.logger.Warn("Rejected request without identity", "path", r.URL.Path, "error", err)
			hr.unauthorized(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), IdentityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetIdentity extracts the Identity stored by IdentityMiddleware.
func GetIdentity(ctx context.Context) (Identity, error) {
	identity, ok := ctx.Value(IdentityKey).(Identity)
	if !ok {
		return Identity{}, ErrMissingIdentity
	}
	return identity, nil
}
