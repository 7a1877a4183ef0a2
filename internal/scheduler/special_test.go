package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/gidbecxa/triviarush-server/internal/events"
	"github.com/gidbecxa/triviarush-server/internal/queue"
	"github.com/gidbecxa/triviarush-server/internal/scheduler"
	"github.com/gidbecxa/triviarush-server/internal/store"
	"github.com/gidbecxa/triviarush-server/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecialJoinSchedulerRedirectsWhenFull(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	trivia := e.store.SeedSpecialTrivia("finals", 2)
	first, err := e.rooms.CreateSpecialRoom(ctx, trivia.ID)
	require.NoError(t, err)
	e.notifier.Connect(1, 2, 3)

	for _, uid := range []int64{1, 2, 3} {
		e.queues.SpecialJoins.Push(queue.SpecialJoinEntry{UserID: uid, Username: "p", SpecialID: trivia.ID, SpecialRoomID: first.ID})
	}

	s := scheduler.NewSpecialJoinScheduler(e.queues.SpecialJoins, e.rooms, e.notifier, time.Hour, 10, testutils.Logger())
	assert.Equal(t, 3, s.Tick(ctx))

	room, err := e.rooms.GetSpecialRoom(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RoomStateActive, room.State)
	assert.Len(t, room.Players, 2)

	require.Equal(t, 1, e.queues.SpecialJoins.Size(), "third player re-queued")
	assert.Equal(t, 1, s.Tick(ctx))

	waiting, err := e.rooms.GetSpecialRooms(ctx, trivia.ID)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.NotEqual(t, first.ID, waiting[0].ID)

	second, err := e.rooms.GetSpecialRoom(ctx, waiting[0].ID)
	require.NoError(t, err)
	require.Len(t, second.Players, 1)
	assert.Equal(t, int64(3), second.Players[0].UserID)
	assert.Len(t, e.notifier.ToUser(3, events.JOINED_SPECIAL_ROOM), 1)
}

func TestSpecialJoinSchedulerRejectsSeatedPlayer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	trivia := e.store.SeedSpecialTrivia("finals", 3)
	room, err := e.rooms.CreateSpecialRoom(ctx, trivia.ID)
	require.NoError(t, err)
	e.notifier.Connect(1)

	entry := queue.SpecialJoinEntry{UserID: 1, Username: "ada", SpecialID: trivia.ID, SpecialRoomID: room.ID}
	e.queues.SpecialJoins.Push(entry)
	e.queues.SpecialJoins.Push(entry)

	s := scheduler.NewSpecialJoinScheduler(e.queues.SpecialJoins, e.rooms, e.notifier, time.Hour, 10, testutils.Logger())
	s.Tick(ctx)

	assert.Equal(t, []string{"You are already in this room"}, errorMessages(e.notifier, 1))
	players, err := e.store.ListSpecialPlayers(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, players, 1)
}
