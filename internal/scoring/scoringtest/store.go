// Package scoringtest holds an in-memory response store whose transactions
// are serialised and which enforces one response per user, question and room.
package scoringtest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/gidbecxa/triviarush-server/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type FakeStore struct {
	txMu sync.Mutex

	mu        sync.Mutex
	nextID    int64
	responses []store.Response
}

func NewFakeStore() *FakeStore {
	return &FakeStore{}
}

// InResponseTx runs fn against a staged copy and commits it only when fn succeeds.
func (s *FakeStore) InResponseTx(ctx context.Context, fn func(store.ResponseTx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	tx := &fakeTx{staged: slices.Clone(s.responses), nextID: s.nextID}
	s.mu.Unlock()

	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.responses = tx.staged
	s.nextID = tx.nextID
	s.mu.Unlock()
	return nil
}

func (s *FakeStore) Responses() []store.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.responses)
}

// Score returns the persisted score of userID's answer, or -1 when absent.
func (s *FakeStore) Score(roomID, questionID, userID int64) int32 {
	for _, r := range s.Responses() {
		if r.RoomID == roomID && r.QuestionID == questionID && r.UserID == userID {
			return r.Score
		}
	}
	return -1
}

func (s *FakeStore) GroupResponsesByUser(_ context.Context, roomID int64) ([]store.UserRoomStat, error) {
	byUser := make(map[int64]*store.UserRoomStat)
	for _, r := range s.Responses() {
		if r.RoomID != roomID {
			continue
		}
		stat, ok := byUser[r.UserID]
		if !ok {
			stat = &store.UserRoomStat{UserID: r.UserID}
			byUser[r.UserID] = stat
		}
		stat.Score += int64(r.Score)
		stat.ResponseTime += r.ResponseTimeMs
	}

	out := make([]store.UserRoomStat, 0, len(byUser))
	for _, stat := range byUser {
		out = append(out, *stat)
	}
	slices.SortFunc(out, func(a, b store.UserRoomStat) int {
		switch {
		case a.Score != b.Score:
			return int(b.Score - a.Score)
		case a.ResponseTime != b.ResponseTime:
			return int(a.ResponseTime - b.ResponseTime)
		default:
			return int(a.UserID - b.UserID)
		}
	})
	return out, nil
}

type fakeTx struct {
	staged []store.Response
	nextID int64
}

func (t *fakeTx) LockQuestionSlot(context.Context, store.LockQuestionSlotParams) error {
	return nil
}

func (t *fakeTx) GetBonusHolder(_ context.Context, arg store.GetBonusHolderParams) (store.Response, error) {
	var holder *store.Response
	for i := range t.staged {
		r := &t.staged[i]
		if r.RoomID != arg.RoomID || r.QuestionID != arg.QuestionID || r.Score != arg.Score {
			continue
		}
		if holder == nil || r.ResponseTimeMs < holder.ResponseTimeMs {
			holder = r
		}
	}
	if holder == nil {
		return store.Response{}, pgx.ErrNoRows
	}
	return *holder, nil
}

func (t *fakeTx) UpdateResponseScore(_ context.Context, arg store.UpdateResponseScoreParams) error {
	for i := range t.staged {
		if t.staged[i].ID == arg.ID {
			t.staged[i].Score = arg.Score
		}
	}
	return nil
}

func (t *fakeTx) CreateResponse(_ context.Context, arg store.CreateResponseParams) (store.Response, error) {
	for _, r := range t.staged {
		if r.RoomID == arg.RoomID && r.QuestionID == arg.QuestionID && r.UserID == arg.UserID {
			return store.Response{}, &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
		}
	}
	t.nextID++
	r := store.Response{
		ID:             t.nextID,
		RoomID:         arg.RoomID,
		QuestionID:     arg.QuestionID,
		UserID:         arg.UserID,
		Score:          arg.Score,
		ResponseTimeMs: arg.ResponseTimeMs,
		CreatedAt:      time.Now(),
	}
	t.staged = append(t.staged, r)
	return r, nil
}
