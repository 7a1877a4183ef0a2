package api

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gidbecxa/triviarush-server/internal/handlers"
)

type Application struct {
	wg       sync.WaitGroup
	cfg      *Config
	handlers *handlers.HandlerRepo
	logger   *slog.Logger
}

func NewApplication(cfg *Config, logger *slog.Logger, handlerRepo *handlers.HandlerRepo) *Application {
	return &Application{
		cfg:      cfg,
		logger:   logger,
		handlers: handlerRepo,
	}
}

type Config struct {
	HttpPort int
}

// Background runs fn in a goroutine that Run waits for after the HTTP server
// has shut down. fn must return once ctx is cancelled.
func (app *Application) Background(ctx context.Context, name string, fn func(ctx context.Context)) {
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				app.logger.Error("Background task panicked", "task", name, "panic", rec)
			}
		}()
		fn(ctx)
		app.logger.Info("Background task stopped", "task", name)
	}()
}
