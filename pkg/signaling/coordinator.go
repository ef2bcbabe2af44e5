// Package signaling relays WebRTC offers, answers and ICE candidates between
// two users and enforces the call lifecycle around them: one live attempt per
// caller, a ring timeout, and idempotent termination.
package signaling

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/msniranjan18/chit-call/pkg/events"
	"github.com/msniranjan18/chit-call/pkg/models"
)

const DefaultRingTimeout = 30 * time.Second

// Directory is the view of the session registry the coordinator needs.
type Directory interface {
	IsOnline(userID string) bool
	SendTo(userID string, data []byte) bool
}

type call struct {
	attempt models.CallAttempt
	timer   *clock.Timer
}

// Coordinator owns every in-flight CallAttempt, keyed by caller. Attempts are
// never persisted; a restart drops them.
type Coordinator struct {
	dir         Directory
	clock       clock.Clock
	ringTimeout time.Duration
	logger      *slog.Logger

	mu    sync.Mutex
	calls map[string]*call
}

type Option func(*Coordinator)

func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

func WithRingTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.ringTimeout = d
		}
	}
}

func NewCoordinator(dir Directory, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		dir:         dir,
		clock:       clock.New(),
		ringTimeout: DefaultRingTimeout,
		logger:      logger,
		calls:       make(map[string]*call),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initiate starts a ringing attempt from callerID to calleeID and relays the
// offer. An offline callee fails fast with ErrCalleeOffline; nothing is
// created and no timer is armed. A live attempt already owned by callerID is
// ended with reason "superseded" first.
func (c *Coordinator) Initiate(callerID, calleeID string, offer json.RawMessage) (models.CallAttempt, error) {
	if callerID == calleeID {
		return models.CallAttempt{}, ErrSelfCall
	}
	if !c.dir.IsOnline(calleeID) {
		c.logger.Info("Call to offline user", "caller_id", callerID, "callee_id", calleeID)
		return models.CallAttempt{}, ErrCalleeOffline
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.calls[callerID]; ok {
		c.logger.Info("Superseding previous call",
			"call_id", prev.attempt.ID, "caller_id", callerID, "callee_id", prev.attempt.CalleeID)
		c.finishLocked(prev, models.EndReasonSuperseded)
		c.notify(prev.attempt.CalleeID, events.TypeCallEnd, callerID,
			events.CallEnd{Reason: models.EndReasonSuperseded})
	}

	attempt := models.CallAttempt{
		ID:        uuid.NewString(),
		CallerID:  callerID,
		CalleeID:  calleeID,
		Offer:     offer,
		State:     models.CallStateRinging,
		CreatedAt: c.clock.Now(),
	}

	if !c.notify(calleeID, events.TypeCallInitiate, callerID,
		events.CallInitiate{CallID: attempt.ID, Offer: offer}) {
		c.logger.Info("Callee went away before the offer was relayed",
			"caller_id", callerID, "callee_id", calleeID)
		return models.CallAttempt{}, ErrCalleeOffline
	}

	cl := &call{attempt: attempt}
	callID := attempt.ID
	cl.timer = c.clock.AfterFunc(c.ringTimeout, func() { c.expire(callerID, callID) })
	c.calls[callerID] = cl

	c.logger.Info("Call ringing", "call_id", callID, "caller_id", callerID, "callee_id", calleeID)
	return cloneAttempt(attempt), nil
}

// Answer accepts the ringing attempt addressed to calleeID. callerID narrows
// the match when the callee has several calls ringing; empty picks the most
// recent. The ring timeout is cleared before the answer is relayed.
func (c *Coordinator) Answer(calleeID, callerID string, answer json.RawMessage) (models.CallAttempt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl := c.ringingForLocked(calleeID, callerID)
	if cl == nil {
		return models.CallAttempt{}, ErrNoPendingCall
	}

	c.stopTimerLocked(cl)
	cl.attempt.State = models.CallStateAnswered
	cl.attempt.Answer = answer
	cl.attempt.AnsweredAt = c.clock.Now()

	if !c.notify(cl.attempt.CallerID, events.TypeCallAnswer, calleeID,
		events.CallAnswer{CallID: cl.attempt.ID, Answer: answer}) {
		c.logger.Info("Caller went away before the answer was relayed",
			"call_id", cl.attempt.ID, "caller_id", cl.attempt.CallerID)
		c.finishLocked(cl, models.EndReasonOffline)
		return cloneAttempt(cl.attempt), ErrPeerOffline
	}

	c.logger.Info("Call answered", "call_id", cl.attempt.ID,
		"caller_id", cl.attempt.CallerID, "callee_id", calleeID)
	return cloneAttempt(cl.attempt), nil
}

// RelayICECandidate forwards candidate to toID if it is online and reports
// whether it was delivered. Undeliverable candidates are dropped. The first
// candidate relayed after an answer marks the attempt active.
func (c *Coordinator) RelayICECandidate(fromID, toID string, candidate json.RawMessage) bool {
	c.mu.Lock()
	if cl := c.betweenLocked(fromID, toID); cl != nil {
		cl.attempt.ICECandidates = append(cl.attempt.ICECandidates, candidate)
		if cl.attempt.State == models.CallStateAnswered {
			cl.attempt.State = models.CallStateActive
			c.logger.Debug("Call active", "call_id", cl.attempt.ID)
		}
	}
	c.mu.Unlock()

	delivered := c.notify(toID, events.TypeICECandidate, fromID, events.ICECandidate{Candidate: candidate})
	if !delivered {
		c.logger.Debug("Dropped ICE candidate for offline peer", "from", fromID, "to", toID)
	}
	return delivered
}

// End terminates the live attempt between fromID and toID and tells toID why.
// It reports whether an attempt was ended; ending a missing or finished
// attempt is a no-op.
func (c *Coordinator) End(fromID, toID, reason string) bool {
	if reason == "" {
		reason = models.EndReasonUser
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cl := c.betweenLocked(fromID, toID)
	if cl == nil {
		c.logger.Debug("Ignoring end of unknown call", "from", fromID, "to", toID)
		return false
	}

	c.finishLocked(cl, reason)
	c.notify(toID, events.TypeCallEnd, fromID, events.CallEnd{Reason: reason})
	return true
}

// Reject ends the ringing attempt addressed to calleeID with reason "rejected"
// and forwards call-reject to the caller. Empty callerID picks the most recent
// ringing attempt. Rejecting twice is a no-op.
func (c *Coordinator) Reject(calleeID, callerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl := c.ringingForLocked(calleeID, callerID)
	if cl == nil {
		c.logger.Debug("Ignoring reject without ringing call", "callee_id", calleeID, "caller_id", callerID)
		return false
	}

	c.finishLocked(cl, models.EndReasonRejected)
	c.notify(cl.attempt.CallerID, events.TypeCallReject, calleeID, events.CallReject{})
	return true
}

// DropUser ends every attempt involving userID after its connection went away
// and tells each peer the user is offline.
func (c *Coordinator) DropUser(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	ended := 0
	for _, cl := range c.involvingLocked(userID) {
		c.finishLocked(cl, models.EndReasonOffline)
		c.notify(cl.attempt.Other(userID), events.TypeCallEnd, userID,
			events.CallEnd{Reason: models.EndReasonOffline})
		ended++
	}
	return ended
}

// Shutdown ends every attempt and tells both parties.
func (c *Coordinator) Shutdown() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	ended := 0
	for _, cl := range c.calls {
		c.finishLocked(cl, models.EndReasonShutdown)
		end := events.CallEnd{Reason: models.EndReasonShutdown}
		c.notify(cl.attempt.CallerID, events.TypeCallEnd, cl.attempt.CalleeID, end)
		c.notify(cl.attempt.CalleeID, events.TypeCallEnd, cl.attempt.CallerID, end)
		ended++
	}
	return ended
}

// Attempt returns the live attempt owned by callerID.
func (c *Coordinator) Attempt(callerID string) (models.CallAttempt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl, ok := c.calls[callerID]
	if !ok {
		return models.CallAttempt{}, false
	}
	return cloneAttempt(cl.attempt), true
}

// ActiveCount is the number of live attempts.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *Coordinator) expire(callerID, callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl, ok := c.calls[callerID]
	if !ok || cl.attempt.ID != callID || cl.attempt.State != models.CallStateRinging {
		return
	}

	cl.timer = nil
	c.finishLocked(cl, models.EndReasonTimeout)
	c.notify(cl.attempt.CalleeID, events.TypeCallEnd, callerID,
		events.CallEnd{Reason: models.EndReasonTimeout})
	c.notify(callerID, events.TypeCallEnd, cl.attempt.CalleeID,
		events.CallEnd{Reason: models.EndReasonNoAnswer})
}

// finishLocked moves cl to ended and forgets it. Callers hold c.mu.
func (c *Coordinator) finishLocked(cl *call, reason string) {
	c.stopTimerLocked(cl)
	cl.attempt.State = models.CallStateEnded
	cl.attempt.EndReason = reason
	cl.attempt.EndedAt = c.clock.Now()
	delete(c.calls, cl.attempt.CallerID)

	c.logger.Info("Call ended",
		"call_id", cl.attempt.ID,
		"caller_id", cl.attempt.CallerID,
		"callee_id", cl.attempt.CalleeID,
		"reason", reason,
		"duration", cl.attempt.Duration())
}

func (c *Coordinator) stopTimerLocked(cl *call) {
	if cl.timer != nil {
		cl.timer.Stop()
		cl.timer = nil
	}
}

func (c *Coordinator) ringingForLocked(calleeID, callerID string) *call {
	if callerID != "" {
		cl, ok := c.calls[callerID]
		if !ok || cl.attempt.CalleeID != calleeID || cl.attempt.State != models.CallStateRinging {
			return nil
		}
		return cl
	}

	var latest *call
	for _, cl := range c.calls {
		if cl.attempt.CalleeID != calleeID || cl.attempt.State != models.CallStateRinging {
			continue
		}
		if latest == nil || cl.attempt.CreatedAt.After(latest.attempt.CreatedAt) {
			latest = cl
		}
	}
	return latest
}

func (c *Coordinator) betweenLocked(a, b string) *call {
	if cl, ok := c.calls[a]; ok && cl.attempt.CalleeID == b {
		return cl
	}
	if cl, ok := c.calls[b]; ok && cl.attempt.CalleeID == a {
		return cl
	}
	return nil
}

func (c *Coordinator) involvingLocked(userID string) []*call {
	var out []*call
	for _, cl := range c.calls {
		if cl.attempt.Involves(userID) {
			out = append(out, cl)
		}
	}
	return out
}

func (c *Coordinator) notify(to string, t events.Type, from string, payload any) bool {
	data, err := events.Encode(t, from, payload)
	if err != nil {
		c.logger.Error("Failed to encode signaling event", "error", err, "type", t)
		return false
	}
	return c.dir.SendTo(to, data)
}

func cloneAttempt(a models.CallAttempt) models.CallAttempt {
	if a.ICECandidates != nil {
		a.ICECandidates = append([]json.RawMessage(nil), a.ICECandidates...)
	}
	return a
}
