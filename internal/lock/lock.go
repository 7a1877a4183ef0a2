// Package lock provides named, time-bounded exclusive leases shared by every
// process instance. A Manager acquires a lease over a set of keys with jittered
// retries, keeps it alive while the guarded function runs and cancels the
// function's context when the lease can no longer be extended.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

var (
	// ErrNotAcquired means retries were exhausted while another owner held a key.
	ErrNotAcquired = errors.New("lock not acquired")
	// ErrLeaseLost means the lease expired or could not be extended before the
	// guarded function finished. Work done after that point may be partial.
	ErrLeaseLost = errors.New("lock lease lost")
)

const keyPrefix = "lock:"

// Backend is the coordinator that stores leases. Every operation applies to
// the whole key set atomically.
type Backend interface {
	Acquire(ctx context.Context, keys []string, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, keys []string, token string) (bool, error)
	Extend(ctx context.Context, keys []string, token string, ttl time.Duration) (bool, error)
	IsHeld(ctx context.Context, keys []string, token string) (bool, error)
}

type Options struct {
	RetryCount  int
	RetryDelay  time.Duration
	RetryJitter time.Duration
	// ExtendThreshold is how long before expiry a held lease is extended.
	ExtendThreshold time.Duration
}

func DefaultOptions() Options {
	return Options{
		RetryCount:      10,
		RetryDelay:      200 * time.Millisecond,
		RetryJitter:     100 * time.Millisecond,
		ExtendThreshold: 500 * time.Millisecond,
	}
}

type Manager struct {
	backend Backend
	opts    Options
	logger  *slog.Logger
}

func NewManager(backend Backend, opts Options, logger *slog.Logger) *Manager {
	return &Manager{
		backend: backend,
		opts:    opts,
		logger:  logger,
	}
}

// Lease is a held claim over a key set.
type Lease struct {
	keys    []string
	token   string
	ttl     time.Duration
	backend Backend
}

func (l *Lease) Token() string {
	return l.token
}

// IsHeld reports whether the lease is still owned by this holder.
func (l *Lease) IsHeld(ctx context.Context) (bool, error) {
	return l.backend.IsHeld(ctx, l.keys, l.token)
}

func (l *Lease) Release(ctx context.Context) error {
	if _, err := l.backend.Release(ctx, l.keys, l.token); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

func (l *Lease) extend(ctx context.Context) (bool, error) {
	return l.backend.Extend(ctx, l.keys, l.token, l.ttl)
}

func (m *Manager) retryPolicy(ctx context.Context) backoff.BackOffContext {
	factor := 0.0
	if m.opts.RetryDelay > 0 {
		factor = float64(m.opts.RetryJitter) / float64(m.opts.RetryDelay)
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     m.opts.RetryDelay,
		RandomizationFactor: factor,
		Multiplier:          1,
		MaxInterval:         m.opts.RetryDelay + m.opts.RetryJitter,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(m.opts.RetryCount, 0))), ctx)
}

// Acquire claims keys for ttl, retrying with jittered delay up to RetryCount
// times. It returns ErrNotAcquired when every attempt found a key taken.
func (m *Manager) Acquire(ctx context.Context, keys []string, ttl time.Duration) (*Lease, error) {
	if len(keys) == 0 {
		return nil, errors.New("lock requires at least one key")
	}

	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = keyPrefix + k
	}
	token := uuid.NewString()

	var lastErr error
	attempt := func() error {
		ok, err := m.backend.Acquire(ctx, namespaced, token, ttl)
		if err != nil {
			lastErr = err
			return err
		}
		if !ok {
			return ErrNotAcquired
		}
		return nil
	}

	if err := backoff.Retry(attempt, m.retryPolicy(ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %v: last backend error: %w", ErrNotAcquired, keys, lastErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrNotAcquired, keys)
	}

	return &Lease{keys: namespaced, token: token, ttl: ttl, backend: m.backend}, nil
}

// WithLock runs fn while holding keys. The context passed to fn is cancelled
// with cause ErrLeaseLost if the lease cannot be kept alive; fn must stop
// mutating state once it observes that. The lease is released when fn returns.
func (m *Manager) WithLock(ctx context.Context, keys []string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lease, err := m.Acquire(ctx, keys, ttl)
	if err != nil {
		return err
	}

	lockCtx, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.keepAlive(lockCtx, lease, cancel, stop)
	}()

	fnErr := fn(lockCtx)

	close(stop)
	wg.Wait()
	lost := errors.Is(context.Cause(lockCtx), ErrLeaseLost)
	cancel(nil)

	releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer releaseCancel()
	if err := lease.Release(releaseCtx); err != nil {
		m.logger.Warn("Failed to release lock, it will expire on its own", "keys", keys, "error", err)
	}

	if lost {
		if fnErr != nil && !errors.Is(fnErr, ErrLeaseLost) {
			return fmt.Errorf("%w: %v: %w", ErrLeaseLost, keys, fnErr)
		}
		return fmt.Errorf("%w: %v", ErrLeaseLost, keys)
	}
	return fnErr
}

// keepAlive extends the lease ExtendThreshold before it expires until stop is
// closed, cancelling ctx with ErrLeaseLost on the first failed extension.
func (m *Manager) keepAlive(ctx context.Context, lease *Lease, cancel context.CancelCauseFunc, stop <-chan struct{}) {
	threshold := m.opts.ExtendThreshold
	if threshold <= 0 || threshold >= lease.ttl {
		threshold = lease.ttl / 2
	}
	interval := lease.ttl - threshold

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			ok, err := lease.extend(ctx)
			if err != nil || !ok {
				m.logger.Warn("Lock lease could not be extended", "token", lease.token, "error", err)
				cancel(ErrLeaseLost)
				return
			}
			timer.Reset(interval)
		}
	}
}
