// Package roomstest provides in-memory stand-ins for the rooms package's
// store and notifier, used by scheduler and handler tests as well.
package roomstest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/gidbecxa/triviarush-server/internal/store"
	"github.com/jackc/pgx/v5"
)

// FakeStore keeps rooms, participants, messages and special rooms in memory.
// CreateRoomIfNoneWaiting checks and inserts in two separate critical
// sections (with CreateDelay in between), so callers must serialise it.
type FakeStore struct {
	CreateDelay time.Duration
	// QuestionsErr, when set, is returned by FindRandomQuestions.
	QuestionsErr error

	mu             sync.Mutex
	nextID         int64
	rooms          map[int64]store.Room
	participants   map[int64][]store.RoomParticipant
	messages       map[int64][]store.Message
	questions      []store.Question
	topics         map[int64][]string
	trivias        map[int64]store.SpecialTrivia
	specialRooms   map[int64]store.SpecialRoom
	specialPlayers map[int64][]store.SpecialPlayer
	activations    int
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		rooms:          make(map[int64]store.Room),
		participants:   make(map[int64][]store.RoomParticipant),
		messages:       make(map[int64][]store.Message),
		topics:         make(map[int64][]string),
		trivias:        make(map[int64]store.SpecialTrivia),
		specialRooms:   make(map[int64]store.SpecialRoom),
		specialPlayers: make(map[int64][]store.SpecialPlayer),
	}
}

func (s *FakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

// AddQuestions seeds the question bank.
func (s *FakeStore) AddQuestions(qs ...store.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range qs {
		if q.ID == 0 {
			q.ID = s.id()
		}
		s.questions = append(s.questions, q)
	}
}

func (s *FakeStore) SetUserTopics(userID int64, topics ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[userID] = topics
}

// SeedRoom inserts a room directly and returns it.
func (s *FakeStore) SeedRoom(category string, state store.RoomState) store.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := store.Room{ID: s.id(), Category: category, State: state, CreatedAt: time.Now()}
	s.rooms[r.ID] = r
	return r
}

func (s *FakeStore) SeedSpecialTrivia(name string, playersPerRoom int32) store.SpecialTrivia {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := store.SpecialTrivia{ID: s.id(), Name: name, PlayersPerRoom: playersPerRoom, Open: true}
	s.trivias[t.ID] = t
	return t
}

// Rooms returns every room of category in creation order.
func (s *FakeStore) Rooms(category string) []store.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Room
	for _, r := range s.rooms {
		if r.Category == category {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b store.Room) int { return int(a.ID - b.ID) })
	return out
}

func (s *FakeStore) Messages(roomID int64) []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages[roomID])
}

// Activations counts successful waiting -> active transitions of regular rooms.
func (s *FakeStore) Activations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activations
}

func (s *FakeStore) GetRoom(_ context.Context, id int64) (store.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return store.Room{}, pgx.ErrNoRows
	}
	return r, nil
}

func (s *FakeStore) ListRoomParticipants(_ context.Context, roomID int64) ([]store.RoomParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.participants[roomID]), nil
}

func (s *FakeStore) ListRoomMessages(_ context.Context, roomID int64) ([]store.Message, error) {
	return s.Messages(roomID), nil
}

func (s *FakeStore) ActivateRoom(_ context.Context, id int64) (store.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok || r.State != store.RoomStateWaiting {
		return store.Room{}, pgx.ErrNoRows
	}
	r.State = store.RoomStateActive
	s.rooms[id] = r
	s.activations++
	return r, nil
}

func (s *FakeStore) FindRandomQuestions(_ context.Context, arg store.FindRandomQuestionsParams) ([]store.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.QuestionsErr != nil {
		return nil, s.QuestionsErr
	}
	var out []store.Question
	for _, q := range s.questions {
		if q.Category != arg.Category {
			continue
		}
		q.Options = slices.Clone(q.Options)
		out = append(out, q)
		if len(out) == int(arg.Limit) {
			break
		}
	}
	return out, nil
}

func (s *FakeStore) waitingRooms(category string) []store.Room {
	var out []store.Room
	for _, r := range s.rooms {
		if r.Category == category && r.State == store.RoomStateWaiting {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b store.Room) int { return int(a.ID - b.ID) })
	return out
}

func (s *FakeStore) CreateRoomIfNoneWaiting(_ context.Context, category string) (store.Room, bool, error) {
	s.mu.Lock()
	waiting := s.waitingRooms(category)
	s.mu.Unlock()
	if len(waiting) > 0 {
		return waiting[0], false, nil
	}

	if s.CreateDelay > 0 {
		time.Sleep(s.CreateDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r := store.Room{ID: s.id(), Category: category, State: store.RoomStateWaiting, CreatedAt: time.Now()}
	s.rooms[r.ID] = r
	return r, true, nil
}

func (s *FakeStore) CreateSuccessorRoom(_ context.Context, arg store.CreateSuccessorRoomParams) (store.Room, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if arg.IdempotencyKey != "" {
		for _, r := range s.rooms {
			if r.IdempotencyKey.Valid && r.IdempotencyKey.String == arg.IdempotencyKey {
				return store.Room{}, false, nil
			}
		}
	}
	if int64(len(s.waitingRooms(arg.Category))) >= arg.MaxWaiting {
		return store.Room{}, false, nil
	}
	r := store.Room{ID: s.id(), Category: arg.Category, State: store.RoomStateWaiting, CreatedAt: time.Now()}
	r.IdempotencyKey.String, r.IdempotencyKey.Valid = arg.IdempotencyKey, arg.IdempotencyKey != ""
	s.rooms[r.ID] = r
	return r, true, nil
}

func (s *FakeStore) AddParticipant(_ context.Context, arg store.CreateRoomParticipantParams) (store.RoomParticipant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participants[arg.RoomID] {
		if p.UserID == arg.UserID {
			return p, false, nil
		}
	}
	p := store.RoomParticipant{ID: s.id(), RoomID: arg.RoomID, UserID: arg.UserID, Username: arg.Username, CreatedAt: time.Now()}
	s.participants[arg.RoomID] = append(s.participants[arg.RoomID], p)
	return p, true, nil
}

func (s *FakeStore) FindOrCreateMessage(_ context.Context, arg store.CreateMessageParams) (store.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[arg.RoomID] {
		if m.UserID != arg.UserID {
			continue
		}
		if arg.IsSystem && m.IsSystem && m.Text == arg.Text {
			return m, false, nil
		}
		if !arg.IsSystem && arg.ClientID.Valid && m.ClientID == arg.ClientID {
			return m, false, nil
		}
	}
	m := store.Message{
		ID:        s.id(),
		RoomID:    arg.RoomID,
		UserID:    arg.UserID,
		ClientID:  arg.ClientID,
		Text:      arg.Text,
		IsSystem:  arg.IsSystem,
		CreatedAt: time.Now(),
	}
	s.messages[arg.RoomID] = append(s.messages[arg.RoomID], m)
	return m, true, nil
}

func (s *FakeStore) GetUserTopics(_ context.Context, userID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.topics[userID]), nil
}

func (s *FakeStore) ListWaitingRoomsByCategories(_ context.Context, categories []string) ([]store.WaitingRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.WaitingRoom
	for _, c := range categories {
		for _, r := range s.waitingRooms(c) {
			out = append(out, store.WaitingRoom{Room: r, ParticipantCount: int64(len(s.participants[r.ID]))})
		}
	}
	slices.SortStableFunc(out, func(a, b store.WaitingRoom) int { return int(b.ParticipantCount - a.ParticipantCount) })
	return out, nil
}

func (s *FakeStore) GetSpecialTrivia(_ context.Context, id int64) (store.SpecialTrivia, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trivias[id]
	if !ok {
		return store.SpecialTrivia{}, pgx.ErrNoRows
	}
	return t, nil
}

func (s *FakeStore) ListOpenSpecialTrivias(_ context.Context) ([]store.SpecialTrivia, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.SpecialTrivia
	for _, t := range s.trivias {
		if t.Open {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b store.SpecialTrivia) int { return int(a.ID - b.ID) })
	return out, nil
}

func (s *FakeStore) GetSpecialRoom(_ context.Context, id int64) (store.SpecialRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.specialRooms[id]
	if !ok {
		return store.SpecialRoom{}, pgx.ErrNoRows
	}
	return r, nil
}

func (s *FakeStore) waitingSpecialRooms(specialID int64) []store.SpecialRoom {
	var out []store.SpecialRoom
	for _, r := range s.specialRooms {
		if r.SpecialID == specialID && r.State == store.RoomStateWaiting {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b store.SpecialRoom) int { return int(a.ID - b.ID) })
	return out
}

func (s *FakeStore) ListWaitingSpecialRooms(_ context.Context, specialID int64) ([]store.SpecialRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitingSpecialRooms(specialID), nil
}

func (s *FakeStore) CreateSpecialRoomIfNoneWaiting(_ context.Context, specialID int64) (store.SpecialRoom, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if waiting := s.waitingSpecialRooms(specialID); len(waiting) > 0 {
		return waiting[0], false, nil
	}
	r := store.SpecialRoom{ID: s.id(), SpecialID: specialID, State: store.RoomStateWaiting, CreatedAt: time.Now()}
	s.specialRooms[r.ID] = r
	return r, true, nil
}

func (s *FakeStore) ListSpecialPlayers(_ context.Context, specialRoomID int64) ([]store.SpecialPlayer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.specialPlayers[specialRoomID]), nil
}

func (s *FakeStore) AddSpecialPlayer(_ context.Context, arg store.CreateSpecialPlayerParams) (store.SpecialPlayer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.specialPlayers[arg.SpecialRoomID] {
		if p.UserID == arg.UserID {
			return p, false, nil
		}
	}
	p := store.SpecialPlayer{ID: s.id(), SpecialRoomID: arg.SpecialRoomID, UserID: arg.UserID, Username: arg.Username, PlayerTime: time.Now()}
	s.specialPlayers[arg.SpecialRoomID] = append(s.specialPlayers[arg.SpecialRoomID], p)
	return p, true, nil
}

func (s *FakeStore) ActivateSpecialRoom(_ context.Context, id int64) (store.SpecialRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.specialRooms[id]
	if !ok || r.State != store.RoomStateWaiting {
		return store.SpecialRoom{}, pgx.ErrNoRows
	}
	r.State = store.RoomStateActive
	s.specialRooms[id] = r
	return r, nil
}
