package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/gidbecxa/triviarush-server/internal/cache"
	"github.com/gidbecxa/triviarush-server/internal/events"
	"github.com/gidbecxa/triviarush-server/internal/hub"
	"github.com/gidbecxa/triviarush-server/internal/queue"
	"github.com/gidbecxa/triviarush-server/internal/rooms/roomstest"
	"github.com/gidbecxa/triviarush-server/internal/scheduler"
	"github.com/gidbecxa/triviarush-server/internal/scoring"
	"github.com/gidbecxa/triviarush-server/internal/scoring/scoringtest"
	"github.com/gidbecxa/triviarush-server/internal/store"
	"github.com/gidbecxa/triviarush-server/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type responseEnv struct {
	queue    *queue.FIFO[queue.ResponseEntry]
	store    *scoringtest.FakeStore
	cache    *cache.MemoryStore
	notifier *roomstest.RecordingNotifier
	sched    *scheduler.ResponseScheduler
}

func newResponseEnv(opts scheduler.ResponseOptions) *responseEnv {
	fs := scoringtest.NewFakeStore()
	e := &responseEnv{
		queue:    queue.NewFIFO[queue.ResponseEntry](),
		store:    fs,
		cache:    cache.NewMemoryStore(),
		notifier: roomstest.NewRecordingNotifier(),
	}
	engine := scoring.NewEngine(fs, testutils.Logger())
	e.sched = scheduler.NewResponseScheduler(e.queue, engine, e.cache, e.notifier, opts, testutils.Logger())
	return e
}

func fastOptions() scheduler.ResponseOptions {
	opts := scheduler.DefaultResponseOptions()
	opts.Pacing = time.Millisecond
	return opts
}

func TestResponseTickEmptyQueue(t *testing.T) {
	e := newResponseEnv(fastOptions())
	plan, drained := e.sched.Tick(context.Background())
	assert.Zero(t, drained)
	assert.Equal(t, scheduler.Plan{}, plan)
	assert.Equal(t, 10*time.Second, e.sched.Interval())
}

func TestResponseTickPlansFromDepth(t *testing.T) {
	e := newResponseEnv(fastOptions())
	for i := int64(1); i <= 50; i++ {
		e.queue.Push(queue.ResponseEntry{UserID: i, RoomID: 1, QuestionID: 1, Score: 0, ResponseTimeMs: 100 * i})
	}

	plan, drained := e.sched.Tick(context.Background())
	assert.Equal(t, scheduler.Plan{Interval: 10 * time.Second, BatchSize: 20, MaxBatches: 4}, plan)
	assert.Equal(t, 50, drained)
	assert.Zero(t, e.queue.Size())
	assert.Len(t, e.store.Responses(), 50)
}

func TestResponseTickReconfiguresInterval(t *testing.T) {
	e := newResponseEnv(fastOptions())
	for i := int64(1); i <= 900; i++ {
		e.queue.Push(queue.ResponseEntry{UserID: i, RoomID: 1, QuestionID: 1, ResponseTimeMs: i})
	}

	plan, drained := e.sched.Tick(context.Background())
	assert.Equal(t, 4750*time.Millisecond, plan.Interval)
	assert.Equal(t, 900, drained)
	assert.Equal(t, 4750*time.Millisecond, e.sched.Interval())
}

func TestResponseTickStopsAtMaxBatches(t *testing.T) {
	opts := fastOptions()
	opts.Steps = scheduler.StepTable{
		Tiers:    []scheduler.Tier{{MaxDepth: 1000, Interval: time.Second, BatchSize: 2, MaxBatches: 3}},
		Overflow: scheduler.DefaultStepTable().Overflow,
	}
	e := newResponseEnv(opts)
	for i := int64(1); i <= 10; i++ {
		e.queue.Push(queue.ResponseEntry{UserID: i, RoomID: 1, QuestionID: 1, ResponseTimeMs: i})
	}

	_, drained := e.sched.Tick(context.Background())
	assert.Equal(t, 6, drained)
	assert.Equal(t, 4, e.queue.Size())
}

func TestResponseSchedulerBonusAndStats(t *testing.T) {
	e := newResponseEnv(fastOptions())
	ctx := context.Background()

	e.queue.Push(queue.ResponseEntry{UserID: 1, RoomID: 7, QuestionID: 3, Score: 1, ResponseTimeMs: 500})
	e.sched.Tick(ctx)
	e.queue.Push(queue.ResponseEntry{UserID: 2, RoomID: 7, QuestionID: 3, Score: 1, ResponseTimeMs: 300})
	e.sched.Tick(ctx)

	assert.Equal(t, int32(1), e.store.Score(7, 3, 1))
	assert.Equal(t, store.BonusScore, e.store.Score(7, 3, 2))

	stats := e.notifier.ToUser(2, events.USER_STATS)
	require.Len(t, stats, 1)
	assert.Equal(t, events.UserStats{UserID: 2, Score: 11, ResponseTime: 300}, stats[0].Payload)

	leaders := e.notifier.Deliveries(events.LEADING_PLAYER)
	require.Len(t, leaders, 2)
	assert.Equal(t, hub.RoomLabel(7), leaders[1].Label)
	assert.Equal(t, events.LeadingPlayer{UserID: 2, Score: 11}, leaders[1].Payload)

	held, err := e.cache.Claim(ctx, cache.CreateResponseFlagKey(2), time.Second)
	require.NoError(t, err)
	assert.True(t, held, "flag is cleared after processing")
}

func TestResponseSchedulerRequeuesInFlightUser(t *testing.T) {
	e := newResponseEnv(fastOptions())
	ctx := context.Background()

	claimed, err := e.cache.Claim(ctx, cache.CreateResponseFlagKey(4), time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	e.queue.Push(queue.ResponseEntry{UserID: 4, RoomID: 1, QuestionID: 1, Score: 1, ResponseTimeMs: 100})
	e.queue.Push(queue.ResponseEntry{UserID: 5, RoomID: 1, QuestionID: 1, Score: 1, ResponseTimeMs: 200})
	e.sched.Tick(ctx)

	assert.Equal(t, int32(-1), e.store.Score(1, 1, 4))
	assert.Equal(t, store.BonusScore, e.store.Score(1, 1, 5))
	assert.Empty(t, e.notifier.ToUser(4, events.USER_STATS))
	assert.Equal(t, 1, e.queue.Size(), "the held entry waits in the queue")

	require.NoError(t, e.cache.Delete(ctx, cache.CreateResponseFlagKey(4)))
	e.sched.Tick(ctx)

	assert.Equal(t, int32(1), e.store.Score(1, 1, 4))
	assert.Zero(t, e.queue.Size())
	assert.NotEmpty(t, e.notifier.ToUser(4, events.USER_STATS))
}

func TestResponseSchedulerScoresEveryAnswerOfOneUser(t *testing.T) {
	e := newResponseEnv(fastOptions())
	ctx := context.Background()

	e.queue.Push(queue.ResponseEntry{UserID: 1, RoomID: 1, QuestionID: 1, Score: 1, ResponseTimeMs: 300})
	e.queue.Push(queue.ResponseEntry{UserID: 1, RoomID: 1, QuestionID: 2, Score: 1, ResponseTimeMs: 400})
	e.sched.Tick(ctx)

	assert.Equal(t, store.BonusScore, e.store.Score(1, 1, 1))
	assert.Equal(t, store.BonusScore, e.store.Score(1, 2, 1))
	assert.Len(t, e.store.Responses(), 2)
	assert.Zero(t, e.queue.Size())
}

func TestResponseSchedulerDuplicateIsNotFatal(t *testing.T) {
	e := newResponseEnv(fastOptions())
	ctx := context.Background()

	e.queue.Push(queue.ResponseEntry{UserID: 1, RoomID: 1, QuestionID: 1, Score: 1, ResponseTimeMs: 100})
	e.sched.Tick(ctx)
	e.queue.Push(queue.ResponseEntry{UserID: 1, RoomID: 1, QuestionID: 1, Score: 1, ResponseTimeMs: 50})
	e.queue.Push(queue.ResponseEntry{UserID: 2, RoomID: 1, QuestionID: 1, Score: 1, ResponseTimeMs: 80})
	e.sched.Tick(ctx)

	assert.Len(t, e.store.Responses(), 2)
	assert.Equal(t, int32(1), e.store.Score(1, 1, 1))
	assert.Equal(t, store.BonusScore, e.store.Score(1, 1, 2))
}
