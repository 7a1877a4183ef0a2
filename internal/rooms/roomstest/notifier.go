package roomstest

import (
	"context"
	"sync"

	"github.com/gidbecxa/triviarush-server/internal/events"
)

// Delivery is one recorded notification. UserID is set for direct sends and
// Label for room broadcasts.
type Delivery struct {
	Kind    string
	UserID  int64
	Label   string
	Type    events.EventType
	Payload any
}

const (
	KindUser   = "user"
	KindRoom   = "room"
	KindGlobal = "global"
)

// RecordingNotifier records every event instead of delivering it.
type RecordingNotifier struct {
	mu        sync.Mutex
	connected map[int64]bool
	labels    map[string]map[int64]bool
	sent      []Delivery
}

func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{
		connected: make(map[int64]bool),
		labels:    make(map[string]map[int64]bool),
	}
}

func (n *RecordingNotifier) Connect(userIDs ...int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, id := range userIDs {
		n.connected[id] = true
	}
}

func (n *RecordingNotifier) IsConnected(userID int64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected[userID]
}

func (n *RecordingNotifier) Join(userID int64, label string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.labels[label] == nil {
		n.labels[label] = make(map[int64]bool)
	}
	n.labels[label][userID] = true
}

// InRoom reports whether userID joined label.
func (n *RecordingNotifier) InRoom(userID int64, label string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.labels[label][userID]
}

func (n *RecordingNotifier) record(d Delivery) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, d)
}

func (n *RecordingNotifier) SendToUser(_ context.Context, userID int64, eventType events.EventType, payload any) {
	n.record(Delivery{Kind: KindUser, UserID: userID, Type: eventType, Payload: payload})
}

func (n *RecordingNotifier) BroadcastToRoom(_ context.Context, label string, eventType events.EventType, payload any) {
	n.record(Delivery{Kind: KindRoom, Label: label, Type: eventType, Payload: payload})
}

func (n *RecordingNotifier) BroadcastGlobal(_ context.Context, eventType events.EventType, payload any) {
	n.record(Delivery{Kind: KindGlobal, Type: eventType, Payload: payload})
}

// Deliveries returns the recorded events of the given type, in order.
func (n *RecordingNotifier) Deliveries(eventType events.EventType) []Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Delivery
	for _, d := range n.sent {
		if d.Type == eventType {
			out = append(out, d)
		}
	}
	return out
}

func (n *RecordingNotifier) ToUser(userID int64, eventType events.EventType) []Delivery {
	var out []Delivery
	for _, d := range n.Deliveries(eventType) {
		if d.Kind == KindUser && d.UserID == userID {
			out = append(out, d)
		}
	}
	return out
}
