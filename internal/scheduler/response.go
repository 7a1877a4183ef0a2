package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gidbecxa/triviarush-server/internal/cache"
	"github.com/gidbecxa/triviarush-server/internal/events"
	"github.com/gidbecxa/triviarush-server/internal/hub"
	"github.com/gidbecxa/triviarush-server/internal/queue"
	"github.com/gidbecxa/triviarush-server/internal/scoring"
	"github.com/gidbecxa/triviarush-server/internal/store"
	"golang.org/x/sync/errgroup"
)

// Scorer is implemented by *scoring.Engine.
type Scorer interface {
	RecordResponse(ctx context.Context, entry queue.ResponseEntry) (store.Response, error)
	GetRoomStats(ctx context.Context, roomID int64) ([]store.UserRoomStat, error)
}

type ResponseOptions struct {
	Steps StepTable
	// Pacing is the pause between two batches of the same tick.
	Pacing      time.Duration
	FlagTTL     time.Duration
	Concurrency int
}

func DefaultResponseOptions() ResponseOptions {
	return ResponseOptions{
		Steps:       DefaultStepTable(),
		Pacing:      250 * time.Millisecond,
		FlagTTL:     5 * time.Second,
		Concurrency: 64,
	}
}

// ResponseScheduler scores queued answers. Each tick it derives a Plan from
// the queue depth, reprograms its own ticker to the plan's interval and then
// drains up to MaxBatches batches, scoring the entries of a batch concurrently.
type ResponseScheduler struct {
	queue    *queue.FIFO[queue.ResponseEntry]
	scorer   Scorer
	cache    cache.Store
	notifier Notifier
	opts     ResponseOptions
	ticker   *Ticker
	logger   *slog.Logger
}

func NewResponseScheduler(q *queue.FIFO[queue.ResponseEntry], scorer Scorer, c cache.Store, n Notifier, opts ResponseOptions, logger *slog.Logger) *ResponseScheduler {
	initial := opts.Steps.PlanFor(0).Interval
	return &ResponseScheduler{
		queue:    q,
		scorer:   scorer,
		cache:    c,
		notifier: n,
		opts:     opts,
		ticker:   NewTicker("response", initial, logger),
		logger:   logger,
	}
}

func (s *ResponseScheduler) Run(ctx context.Context) {
	s.ticker.Run(ctx, func(ctx context.Context) { s.Tick(ctx) })
}

// Interval is the currently programmed tick period.
func (s *ResponseScheduler) Interval() time.Duration {
	return s.ticker.Interval()
}

// Tick processes one scheduling round and returns the plan it used and the
// number of entries drained. An empty queue yields a zero Plan.
func (s *ResponseScheduler) Tick(ctx context.Context) (Plan, int) {
	depth := s.queue.Size()
	if depth == 0 {
		return Plan{}, 0
	}

	plan := s.opts.Steps.PlanFor(depth)
	s.ticker.Reconfigure(plan.Interval)
	s.logger.Debug("Response tick",
		"depth", depth,
		"interval", plan.Interval,
		"batch_size", plan.BatchSize,
		"max_batches", plan.MaxBatches)

	drained := 0
	for i := 0; i < plan.MaxBatches; i++ {
		if i > 0 && !sleep(ctx, s.opts.Pacing) {
			break
		}
		batch := s.queue.Drain(plan.BatchSize)
		if len(batch) == 0 {
			break
		}
		drained += len(batch)
		s.processBatch(ctx, batch)
	}
	return plan, drained
}

func (s *ResponseScheduler) processBatch(ctx context.Context, batch []queue.ResponseEntry) {
	var g errgroup.Group
	if s.opts.Concurrency > 0 {
		g.SetLimit(s.opts.Concurrency)
	}
	for _, entry := range batch {
		g.Go(func() error {
			s.safeProcess(ctx, entry)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *ResponseScheduler) safeProcess(ctx context.Context, entry queue.ResponseEntry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Response processing panicked",
				"user_id", entry.UserID,
				"room_id", entry.RoomID,
				"panic", fmt.Sprint(r))
		}
	}()
	if err := s.process(ctx, entry); err != nil {
		s.logger.Error("Response failed",
			"user_id", entry.UserID,
			"room_id", entry.RoomID,
			"question_id", entry.QuestionID,
			"error", err)
	}
}

func (s *ResponseScheduler) process(ctx context.Context, entry queue.ResponseEntry) error {
	flag := cache.CreateResponseFlagKey(entry.UserID)
	claimed, err := s.cache.Claim(ctx, flag, s.opts.FlagTTL)
	if err != nil {
		return fmt.Errorf("claim in-flight flag: %w", err)
	}
	if !claimed {
		// Another answer of this user is being scored; retry after it.
		s.logger.Warn("Response already in flight for user, requeueing",
			"user_id", entry.UserID,
			"question_id", entry.QuestionID)
		s.queue.Push(entry)
		return nil
	}
	defer func() {
		if err := s.cache.Delete(context.WithoutCancel(ctx), flag); err != nil {
			s.logger.Warn("Failed to clear in-flight flag", "user_id", entry.UserID, "error", err)
		}
	}()

	if _, err := s.scorer.RecordResponse(ctx, entry); err != nil {
		if errors.Is(err, scoring.ErrDuplicateResponse) {
			return nil
		}
		return err
	}

	stats, err := s.scorer.GetRoomStats(ctx, entry.RoomID)
	if err != nil {
		return err
	}
	if own, ok := scoring.StatFor(stats, entry.UserID); ok {
		s.notifier.SendToUser(ctx, entry.UserID, events.USER_STATS, events.UserStats{
			UserID:       own.UserID,
			Score:        own.Score,
			ResponseTime: own.ResponseTime,
		})
	}
	if len(stats) > 0 {
		s.notifier.BroadcastToRoom(ctx, hub.RoomLabel(entry.RoomID), events.LEADING_PLAYER, events.LeadingPlayer{
			UserID: stats[0].UserID,
			Score:  stats[0].Score,
		})
	}
	return nil
}
