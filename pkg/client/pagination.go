package client

import (
	"context"
	"sync"

	"github.com/msniranjan18/chit-call/pkg/models"
)

// Viewport is the scrollable message view. ScrollHeight must reflect the
// MessageList as soon as it changes.
type Viewport interface {
	ScrollTop() float64
	SetScrollTop(top float64)
	ScrollHeight() float64
	ClientHeight() float64
}

// PageLoader fetches one page of history. Page 1 is the newest.
type PageLoader interface {
	Messages(ctx context.Context, conversationID string, page, limit int) (*models.MessagePage, error)
}

const (
	DefaultBottomThreshold = 80.0
	DefaultTopThreshold    = 0.0
)

type PagerOption func(*Pager)

func WithPageSize(n int) PagerOption {
	return func(p *Pager) { p.limit = n }
}

// WithBottomThreshold sets how close to the bottom (in viewport units) the
// view must be for a live message to scroll it.
func WithBottomThreshold(px float64) PagerOption {
	return func(p *Pager) { p.bottomThreshold = px }
}

// Pager loads older history when the view reaches the top and keeps the
// view anchored while content changes.
type Pager struct {
	loader          PageLoader
	list            *MessageList
	view            Viewport
	conversationID  string
	limit           int
	bottomThreshold float64

	mu      sync.Mutex
	loaded  int
	hasMore bool
	loading bool
	unread  int
	started bool
}

func NewPager(loader PageLoader, list *MessageList, view Viewport, conversationID string, opts ...PagerOption) *Pager {
	p := &Pager{
		loader:          loader,
		list:            list,
		view:            view,
		conversationID:  conversationID,
		limit:           20,
		bottomThreshold: DefaultBottomThreshold,
		hasMore:         true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LoadInitial fetches the newest page and scrolls to the bottom.
func (p *Pager) LoadInitial(ctx context.Context) error {
	if _, err := p.load(ctx, false); err != nil {
		return err
	}
	p.scrollToBottom()
	return nil
}

// OnScroll reacts to a scroll position change. Reaching the top loads the
// next older page; reaching the bottom clears the unread indicator. It
// reports whether a page was loaded.
func (p *Pager) OnScroll(ctx context.Context) (bool, error) {
	if p.nearBottom() {
		p.mu.Lock()
		p.unread = 0
		p.mu.Unlock()
	}
	if p.view.ScrollTop() > DefaultTopThreshold {
		return false, nil
	}
	return p.LoadOlder(ctx)
}

// LoadOlder prepends the next older page and shifts the scroll offset by
// the added height so the visible content stays put. Calls made while a
// load is in flight, or after the server reported no more pages, do
// nothing.
func (p *Pager) LoadOlder(ctx context.Context) (bool, error) {
	return p.load(ctx, true)
}

func (p *Pager) load(ctx context.Context, anchor bool) (bool, error) {
	p.mu.Lock()
	if p.loading || (p.started && !p.hasMore) {
		p.mu.Unlock()
		return false, nil
	}
	p.loading = true
	page := p.loaded + 1
	p.mu.Unlock()

	result, err := p.loader.Messages(ctx, p.conversationID, page, p.limit)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.loading = false
	if err != nil {
		return false, err
	}

	before := p.view.ScrollHeight()
	p.list.Upsert(result.Messages...)
	if anchor {
		if delta := p.view.ScrollHeight() - before; delta > 0 {
			p.view.SetScrollTop(p.view.ScrollTop() + delta)
		}
	}

	p.started = true
	p.loaded = page
	p.hasMore = result.HasMore
	return true, nil
}

// Live inserts a message that arrived in real time and reports whether it was
// new. The view follows it only if it was already near the bottom; otherwise
// the unread count grows.
func (p *Pager) Live(msg models.Message) bool {
	follow := p.nearBottom()
	if p.list.Upsert(msg) == 0 {
		return false
	}
	if follow {
		p.scrollToBottom()
		return true
	}
	p.mu.Lock()
	p.unread++
	p.mu.Unlock()
	return true
}

// JumpToBottom scrolls down and clears the unread indicator.
func (p *Pager) JumpToBottom() {
	p.scrollToBottom()
	p.mu.Lock()
	p.unread = 0
	p.mu.Unlock()
}

func (p *Pager) nearBottom() bool {
	gap := p.view.ScrollHeight() - p.view.ScrollTop() - p.view.ClientHeight()
	return gap <= p.bottomThreshold
}

func (p *Pager) scrollToBottom() {
	p.view.SetScrollTop(max(p.view.ScrollHeight()-p.view.ClientHeight(), 0))
}

func (p *Pager) Unread() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unread
}

func (p *Pager) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

func (p *Pager) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}
