package client

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Notification is a dismissable user-facing failure report. Action names
// what failed, e.g. "send message" or "call".
type Notification struct {
	ID        string
	Action    string
	Message   string
	CreatedAt time.Time
}

// Notifications collects failures until the user dismisses them.
type Notifications struct {
	mu     sync.Mutex
	items  []Notification
	subs   map[int]func(Notification)
	nextID int
}

func NewNotifications() *Notifications {
	return &Notifications{subs: make(map[int]func(Notification))}
}

// Push records a notification and hands it to every subscriber.
func (n *Notifications) Push(action, message string) Notification {
	note := Notification{
		ID:        uuid.New().String(),
		Action:    action,
		Message:   message,
		CreatedAt: time.Now(),
	}

	n.mu.Lock()
	n.items = append(n.items, note)
	subs := make([]func(Notification), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.Unlock()

	for _, fn := range subs {
		fn(note)
	}
	return note
}

func (n *Notifications) List() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.items...)
}

func (n *Notifications) Dismiss(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, note := range n.items {
		if note.ID == id {
			n.items = append(n.items[:i], n.items[i+1:]...)
			return true
		}
	}
	return false
}

// Subscribe calls fn for every future notification until the returned
// function is called.
func (n *Notifications) Subscribe(fn func(Notification)) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}
