package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const shutdownTimeout = 10 * time.Second

// Run serves HTTP until ctx is cancelled, then drains in-flight requests and
// waits for every background task to stop.
func (app *Application) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.HttpPort),
		Handler:           app.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       time.Minute,
	}

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		app.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownErr <- srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info("HTTP server started", "addr", srv.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	if err := <-shutdownErr; err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}

	app.wg.Wait()
	app.logger.Info("HTTP server stopped")
	return nil
}
