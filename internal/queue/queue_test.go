package queue

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrainPreservesOrderAcrossBatches(t *testing.T) {
	testCases := []struct {
		name  string
		total int
		batch int
	}{
		{name: "exact multiple", total: 40, batch: 10},
		{name: "remainder", total: 23, batch: 10},
		{name: "batch larger than queue", total: 5, batch: 20},
		{name: "single entry batches", total: 7, batch: 1},
		{name: "empty", total: 0, batch: 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			q := NewFIFO[int]()
			for i := range tc.total {
				q.Push(i)
			}

			var drained []int
			drains := 0
			for q.Size() > 0 {
				batch := q.Drain(tc.batch)
				require.NotEmpty(t, batch)
				assert.LessOrEqual(t, len(batch), tc.batch)
				drained = append(drained, batch...)
				drains++
			}

			assert.Equal(t, (tc.total+tc.batch-1)/tc.batch, drains)
			require.Len(t, drained, tc.total)
			for i, v := range drained {
				assert.Equal(t, i, v)
			}
			assert.Empty(t, q.Drain(tc.batch))
		})
	}
}

func TestInterleavedPushAndDrain(t *testing.T) {
	q := NewFIFO[int]()
	next := 0
	var got []int
	for round := range 50 {
		for range round%7 + 1 {
			q.Push(next)
			next++
		}
		got = append(got, q.Drain(3)...)
	}
	got = append(got, q.Drain(q.Size())...)

	require.Len(t, got, next)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestConcurrentPushDrainLosesNothing(t *testing.T) {
	q := NewFIFO[int]()
	const producers, perProducer = 8, 500

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				q.Push(p*perProducer + i)
			}
		}()
	}

	seen := make(map[int]bool)
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			batch := q.Drain(25)
			mu.Lock()
			for _, v := range batch {
				seen[v] = true
			}
			n := len(seen)
			mu.Unlock()
			if n == producers*perProducer {
				return
			}
		}
	}()

	wg.Wait()
	<-done
	assert.Len(t, seen, producers*perProducer)
	assert.Zero(t, q.Size())
}

func TestServiceClose(t *testing.T) {
	s := NewService(slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Joins.Push(JoinEntry{UserID: 1, RoomID: 2})
	s.Responses.Push(ResponseEntry{UserID: 1})
	s.Responses.Push(ResponseEntry{UserID: 2})

	assert.Equal(t, Depths{Joins: 1, Responses: 2}, s.Depths())
	assert.Equal(t, Depths{Joins: 1, Responses: 2}, s.Close())
	assert.Equal(t, Depths{}, s.Depths())
}
