package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/msniranjan18/chit-call/pkg/events"
	"github.com/msniranjan18/chit-call/pkg/models"
)

type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusSent      DeliveryStatus = "sent"
	StatusFailed    DeliveryStatus = "failed"
	StatusDelivered DeliveryStatus = "delivered" // received from the server
)

var (
	ErrUnknownMessage = errors.New("unknown message")
	ErrNotFailed      = errors.New("message has not failed")
)

// Entry is one row of a conversation view. Until the server confirms a send
// the entry is keyed by ClientID and Message.ID is empty.
type Entry struct {
	models.Message
	ClientID string
	Status   DeliveryStatus
	Err      error
}

func (e Entry) key() string {
	if e.ID != "" {
		return e.ID
	}
	return "local:" + e.ClientID
}

// MessageList is the message set of one conversation, keyed by server id.
// Pending sends live under their client id until confirmed.
type MessageList struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewMessageList() *MessageList {
	return &MessageList{entries: make(map[string]*Entry)}
}

// Upsert inserts server messages. A message whose id is already present
// replaces the stored one in place, keeping the union of both ReadBy sets.
// It returns how many ids were new.
func (l *MessageList) Upsert(msgs ...models.Message) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	added := 0
	for _, m := range msgs {
		if l.upsertLocked(m, "", StatusDelivered) {
			added++
		}
	}
	return added
}

func (l *MessageList) upsertLocked(m models.Message, clientID string, status DeliveryStatus) bool {
	m.ReadBy = append([]string(nil), m.ReadBy...)
	if existing, ok := l.entries[m.ID]; ok {
		for _, r := range existing.ReadBy {
			m.AddReader(r)
		}
		existing.Message = m
		if clientID != "" {
			existing.ClientID = clientID
			existing.Status = status
		}
		return false
	}
	l.entries[m.ID] = &Entry{Message: m, ClientID: clientID, Status: status}
	return true
}

// AddPending inserts an optimistic entry for a send that has not been
// confirmed yet.
func (l *MessageList) AddPending(clientID string, msg models.Message) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg.ID = ""
	e := &Entry{Message: msg, ClientID: clientID, Status: StatusPending}
	l.entries[e.key()] = e
	return *e
}

// Confirm swaps the pending entry for clientID with the server message. If
// the server message already arrived by push, the pending entry simply
// disappears.
func (l *MessageList) Confirm(clientID string, msg models.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, Entry{ClientID: clientID}.key())
	l.upsertLocked(msg, clientID, StatusSent)
}

// Fail marks the pending entry for clientID as failed. Failed entries stay
// visible until retried.
func (l *MessageList) Fail(clientID string, err error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[Entry{ClientID: clientID}.key()]
	if !ok {
		return false
	}
	e.Status = StatusFailed
	e.Err = err
	return true
}

// Resend moves a failed entry back to pending and returns it.
func (l *MessageList) Resend(clientID string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[Entry{ClientID: clientID}.key()]
	if !ok {
		return Entry{}, ErrUnknownMessage
	}
	if e.Status != StatusFailed {
		return Entry{}, ErrNotFailed
	}
	e.Status = StatusPending
	e.Err = nil
	return *e, nil
}

// ApplyReceipt adds the reader to the named messages it did not author.
func (l *MessageList) ApplyReceipt(r models.ReadReceipt) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	changed := 0
	for _, id := range r.MessageIDs {
		e, ok := l.entries[id]
		if !ok || e.SenderID == r.ReadBy {
			continue
		}
		if e.AddReader(r.ReadBy) {
			changed++
		}
	}
	return changed
}

// MarkReadBy adds reader to every stored message it did not author and
// returns the ids that changed.
func (l *MessageList) MarkReadBy(reader string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ids []string
	for _, e := range l.entries {
		if e.ID == "" || e.SenderID == reader {
			continue
		}
		if e.AddReader(reader) {
			ids = append(ids, e.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

func (l *MessageList) Get(id string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (l *MessageList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns confirmed messages in chronological order followed by
// unconfirmed sends in the order they were made.
func (l *MessageList) Entries() []Entry {
	l.mu.RLock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		cp := *e
		cp.ReadBy = append([]string(nil), e.ReadBy...)
		out = append(out, cp)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].ID == "", out[j].ID == ""
		if pi != pj {
			return pj
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].key() < out[j].key()
	})
	return out
}

// ConversationList keeps the sidebar ordering: most recent activity first. A
// conversation that gains a newer last message ranks just above the current
// top, regardless of server timestamps.
type ConversationList struct {
	mu     sync.RWMutex
	byID   map[string]*models.Conversation
	bumped map[string]time.Time
	owner  string
}

func NewConversationList(ownerID string) *ConversationList {
	return &ConversationList{
		byID:   make(map[string]*models.Conversation),
		bumped: make(map[string]time.Time),
		owner:  ownerID,
	}
}

// Replace loads a fresh server listing. Local bumps are dropped.
func (c *ConversationList) Replace(convs []models.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.byID = make(map[string]*models.Conversation, len(convs))
	c.bumped = make(map[string]time.Time)
	for i := range convs {
		conv := convs[i]
		c.byID[conv.ID] = &conv
	}
}

func (c *ConversationList) Upsert(conv models.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[conv.ID] = &conv
}

// ApplyMessage makes msg the latest message of its conversation when it is
// newer, and moves the conversation to the top without a refetch. The
// confirmation of an optimistic message only replaces the preview.
func (c *ConversationList) ApplyMessage(msg models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conv, ok := c.byID[msg.ConversationID]
	if !ok {
		conv = &models.Conversation{ID: msg.ConversationID, UpdatedAt: msg.CreatedAt}
		c.byID[msg.ConversationID] = conv
	}
	// A confirmed message always displaces an optimistic one; the server
	// clock may be behind ours.
	last := conv.LastMessage
	confirming := last != nil && last.ID == "" && msg.ID != ""
	if last == nil || confirming || !msg.CreatedAt.Before(last.CreatedAt) {
		m := msg
		conv.LastMessage = &m
		if !confirming {
			c.bumpLocked(conv.ID, msg.CreatedAt)
		}
	}
	if msg.ID != "" && msg.SenderID != c.owner && !msg.IsReadBy(c.owner) {
		conv.UnreadCount++
	}
}

// bumpLocked orders conversationID above every other conversation.
func (c *ConversationList) bumpLocked(conversationID string, at time.Time) {
	top := at
	for id, other := range c.byID {
		if id == conversationID {
			continue
		}
		if a := c.activityLocked(other); !a.Before(top) {
			top = a.Add(time.Nanosecond)
		}
	}
	c.bumped[conversationID] = top
}

func (c *ConversationList) activityLocked(conv *models.Conversation) time.Time {
	a := conv.ActivityAt()
	if b, ok := c.bumped[conv.ID]; ok && b.After(a) {
		return b
	}
	return a
}

func (c *ConversationList) ClearUnread(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conv, ok := c.byID[conversationID]; ok {
		conv.UnreadCount = 0
	}
}

func (c *ConversationList) Get(conversationID string) (models.Conversation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conv, ok := c.byID[conversationID]
	if !ok {
		return models.Conversation{}, false
	}
	return *conv, true
}

func (c *ConversationList) Ordered() []models.Conversation {
	type ranked struct {
		conv models.Conversation
		at   time.Time
	}

	c.mu.RLock()
	rows := make([]ranked, 0, len(c.byID))
	for _, conv := range c.byID {
		rows = append(rows, ranked{conv: *conv, at: c.activityLocked(conv)})
	}
	c.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].at.Equal(rows[j].at) {
			return rows[i].at.After(rows[j].at)
		}
		return rows[i].conv.ID < rows[j].conv.ID
	})

	out := make([]models.Conversation, len(rows))
	for i, r := range rows {
		out[i] = r.conv
	}
	return out
}

// MessageSender is the part of API that Delivery needs.
type MessageSender interface {
	SendMessage(ctx context.Context, req models.MessageRequest) (*models.MessageResponse, error)
}

// Delivery sends messages optimistically and merges server pushes into the
// per-conversation lists.
type Delivery struct {
	api    MessageSender
	userID string
	convs  *ConversationList
	notes  *Notifications
	clock  clock.Clock
	logger *slog.Logger

	mu    sync.Mutex
	lists map[string]*MessageList
	views map[string]*Pager
}

func NewDelivery(api MessageSender, userID string, convs *ConversationList, notes *Notifications, clk clock.Clock, logger *slog.Logger) *Delivery {
	if clk == nil {
		clk = clock.New()
	}
	return &Delivery{
		api:    api,
		userID: userID,
		convs:  convs,
		notes:  notes,
		clock:  clk,
		logger: logger,
		lists:  make(map[string]*MessageList),
		views:  make(map[string]*Pager),
	}
}

// List returns the message list for conversationID, creating it if needed.
func (d *Delivery) List(conversationID string) *MessageList {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.lists[conversationID]
	if !ok {
		l = NewMessageList()
		d.lists[conversationID] = l
	}
	return l
}

func (d *Delivery) Conversations() *ConversationList { return d.convs }

// Send shows the message immediately and posts it. On failure the entry is
// marked failed and a notification is raised; nothing is retried
// automatically. The returned client id identifies the entry for Retry.
func (d *Delivery) Send(ctx context.Context, conversationID, content string, replyTo *string) (string, error) {
	clientID := uuid.New().String()
	pending := models.Message{
		ConversationID: conversationID,
		SenderID:       d.userID,
		Content:        content,
		CreatedAt:      d.clock.Now().UTC(),
		ReadBy:         []string{d.userID},
		ReplyTo:        replyTo,
	}

	d.List(conversationID).AddPending(clientID, pending)
	d.convs.ApplyMessage(pending)

	return clientID, d.post(ctx, conversationID, clientID, pending)
}

// Retry resends a failed message under the same client id.
func (d *Delivery) Retry(ctx context.Context, conversationID, clientID string) error {
	entry, err := d.List(conversationID).Resend(clientID)
	if err != nil {
		return err
	}
	return d.post(ctx, conversationID, clientID, entry.Message)
}

func (d *Delivery) post(ctx context.Context, conversationID, clientID string, msg models.Message) error {
	resp, err := d.api.SendMessage(ctx, models.MessageRequest{
		ConversationID: conversationID,
		Content:        msg.Content,
		ReplyTo:        msg.ReplyTo,
		ClientID:       clientID,
	})
	if err == nil && resp.ClientID != "" && resp.ClientID != clientID {
		err = fmt.Errorf("send message: response for %q, expected %q", resp.ClientID, clientID)
	}
	if err != nil {
		d.List(conversationID).Fail(clientID, err)
		if d.notes != nil {
			d.notes.Push("send message", err.Error())
		}
		d.logger.Warn("Message send failed", "conversation_id", conversationID, "client_id", clientID, "error", err)
		return err
	}

	d.List(conversationID).Confirm(clientID, resp.Message)
	d.convs.ApplyMessage(resp.Message)
	return nil
}

// Watch routes pushed messages of conversationID through p so the open view
// can follow them. p must page over List(conversationID).
func (d *Delivery) Watch(conversationID string, p *Pager) {
	d.mu.Lock()
	d.views[conversationID] = p
	d.mu.Unlock()
}

func (d *Delivery) Unwatch(conversationID string) {
	d.mu.Lock()
	delete(d.views, conversationID)
	d.mu.Unlock()
}

// HandleNewMessage merges a pushed message.
func (d *Delivery) HandleNewMessage(msg models.Message) {
	d.mu.Lock()
	view := d.views[msg.ConversationID]
	d.mu.Unlock()

	var added bool
	if view != nil {
		added = view.Live(msg)
	} else {
		added = d.List(msg.ConversationID).Upsert(msg) > 0
	}
	if added {
		d.convs.ApplyMessage(msg)
	}
}

// HandleMessagesRead applies a read receipt from the peer.
func (d *Delivery) HandleMessagesRead(r models.ReadReceipt) {
	d.List(r.ConversationID).ApplyReceipt(r)
}

// MarkReadLocal applies the local user's read to the cached list ahead of
// the server round trip.
func (d *Delivery) MarkReadLocal(conversationID string) []string {
	d.convs.ClearUnread(conversationID)
	return d.List(conversationID).MarkReadBy(d.userID)
}

// Bind routes new-message and messages-read pushes from s into d.
func (d *Delivery) Bind(s *Socket) {
	s.On(events.TypeNewMessage, func(env events.Envelope) {
		var msg events.NewMessage
		if err := env.Decode(&msg); err != nil {
			d.logger.Warn("Bad new-message push", "error", err)
			return
		}
		d.HandleNewMessage(msg)
	})
	s.On(events.TypeMessagesRead, func(env events.Envelope) {
		var r events.MessagesRead
		if err := env.Decode(&r); err != nil {
			d.logger.Warn("Bad messages-read push", "error", err)
			return
		}
		d.HandleMessagesRead(r)
	})
}
