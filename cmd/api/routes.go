package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

func (app *Application) routes() http.Handler {
	mux := chi.NewRouter()

	mux.Use(cors.AllowAll().Handler)
	mux.NotFound(app.handlers.NotFoundHandler)
	mux.MethodNotAllowed(app.handlers.MethodNotAllowedHandler)

	// Public routes
	mux.Get("/healthz", app.handlers.HealthHandler)
	mux.Get("/queues", app.handlers.QueueDepthsHandler)
	mux.Get("/rooms/{room_id}/stats", app.handlers.RoomStatsHandler)

	// Routes acting on behalf of a user
	mux.Group(func(r chi.Router) {
		r.Use(app.handlers.IdentityMiddleware)
		r.Get("/ws", app.handlers.SessionHandler)
		r.Post("/responses", app.handlers.SubmitResponseHandler)
	})
	return mux
}
