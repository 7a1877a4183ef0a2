// Package scheduler drains the ingestion queues on timers. The join and
// special-join schedulers run on a fixed period; the response scheduler
// re-plans its own period from the queue depth on every tick.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type State int

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

// Ticker calls a tick function every interval. Ticks never overlap: the next
// one is only taken after the handler returns. Reconfigure changes the period
// of a running ticker in place.
type Ticker struct {
	name   string
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	interval time.Duration
	ticker   *time.Ticker
}

func NewTicker(name string, interval time.Duration, logger *slog.Logger) *Ticker {
	return &Ticker{name: name, interval: interval, logger: logger}
}

func (t *Ticker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Ticker) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// Reconfigure switches to interval d. The pending tick is dropped and the
// next one fires d from now.
func (t *Ticker) Reconfigure(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if d == t.interval {
		return
	}
	t.logger.Debug("Rescheduling", "scheduler", t.name, "from", t.interval, "to", d)
	t.interval = d
	if t.state == StateRunning {
		t.ticker.Reset(d)
	}
}

// Run blocks, calling tick on every period until ctx is done.
func (t *Ticker) Run(ctx context.Context, tick func(ctx context.Context)) {
	t.mu.Lock()
	if t.state == StateRunning {
		t.mu.Unlock()
		t.logger.Warn("Scheduler already running", "scheduler", t.name)
		return
	}
	t.state = StateRunning
	t.ticker = time.NewTicker(t.interval)
	c := t.ticker.C
	t.mu.Unlock()

	t.logger.Info("Scheduler started", "scheduler", t.name, "interval", t.Interval())

	defer func() {
		t.mu.Lock()
		t.ticker.Stop()
		t.ticker = nil
		t.state = StateIdle
		t.mu.Unlock()
		t.logger.Info("Scheduler stopped", "scheduler", t.name)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c:
			tick(ctx)
		}
	}
}

// sleep waits for d or until ctx is done, reporting whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
