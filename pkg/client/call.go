package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"

	"github.com/msniranjan18/chit-call/pkg/events"
	"github.com/msniranjan18/chit-call/pkg/models"
)

type CallState string

const (
	CallIdle            CallState = "idle"
	CallRequestingMedia CallState = "requesting-media"
	CallCalling         CallState = "calling"
	CallRingingIncoming CallState = "ringing-incoming"
	CallConnecting      CallState = "connecting"
	CallConnected       CallState = "connected"
	CallEnded           CallState = "ended"
)

var callTransitions = map[CallState][]CallState{
	CallIdle:            {CallRequestingMedia, CallRingingIncoming},
	CallRequestingMedia: {CallCalling, CallConnecting, CallEnded},
	CallRingingIncoming: {CallRequestingMedia, CallEnded},
	CallCalling:         {CallConnecting, CallEnded},
	CallConnecting:      {CallConnected, CallEnded},
	CallConnected:       {CallEnded},
	CallEnded:           {CallIdle},
}

// Reasons produced on this side only.
const (
	EndReasonMediaDenied = "media denied"
	EndReasonNoMedia     = "no local media"
	EndReasonFailed      = "call failed"
	EndReasonCrossed     = "calls crossed"
)

// ClientRingGrace is added to the ring timeout before an unanswered outgoing
// call is ended locally. The server normally ends it first.
const ClientRingGrace = 5 * time.Second

var (
	ErrCallInProgress    = errors.New("call already in progress")
	ErrMediaDenied       = errors.New("media access denied")
	ErrNoLocalMedia      = errors.New("cannot call without local media")
	ErrNoIncomingCall    = errors.New("no incoming call")
	ErrCallEnded         = errors.New("call ended")
	ErrInvalidTransition = errors.New("invalid call state transition")
)

// MediaConstraints selects the local tracks to acquire.
type MediaConstraints struct {
	Audio bool
	Video bool
}

// LocalTrack is one captured local track. Disabling it stops sending samples
// on the track without renegotiation; the sender stays attached.
type LocalTrack interface {
	Kind() webrtc.RTPCodecType
	Track() webrtc.TrackLocal
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
}

// MediaDevices acquires local media. An error means access was denied or no
// device could be opened.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, c MediaConstraints) ([]LocalTrack, error)
}

type MediaDevicesFunc func(ctx context.Context, c MediaConstraints) ([]LocalTrack, error)

func (f MediaDevicesFunc) GetUserMedia(ctx context.Context, c MediaConstraints) ([]LocalTrack, error) {
	return f(ctx, c)
}

// PeerConnection is the subset of *webrtc.PeerConnection the controller
// drives.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	Close() error
}

type PeerFactory interface {
	NewPeerConnection() (PeerConnection, error)
}

// Signaler sends signaling events to the server.
type Signaler interface {
	Emit(t events.Type, payload any) error
}

// CallInfo is a snapshot of the controller.
type CallInfo struct {
	State      CallState
	PeerID     string
	CallID     string
	Outgoing   bool
	Video      bool
	AudioMuted bool
	VideoOff   bool
	EndReason  string
}

type CallOption func(*CallController)

func WithCallClock(clk clock.Clock) CallOption {
	return func(c *CallController) { c.clock = clk }
}

// WithLocalUser sets the id of the signed-in user. It breaks ties when both
// users call each other at the same time.
func WithLocalUser(userID string) CallOption {
	return func(c *CallController) { c.localID = userID }
}

// WithRingTimeout should match the server's ring timeout.
func WithRingTimeout(d time.Duration) CallOption {
	return func(c *CallController) { c.ringTimeout = d }
}

// CallController runs one call at a time through the call state machine.
// Every public method and every signaling or peer-connection callback is an
// event; state only changes through transitionLocked.
type CallController struct {
	signaler    Signaler
	media       MediaDevices
	peers       PeerFactory
	notes       *Notifications
	clock       clock.Clock
	ringTimeout time.Duration
	localID     string
	logger      *slog.Logger

	mu    sync.Mutex
	state CallState
	// gen identifies the current attempt. Continuations and callbacks
	// captured for an older attempt compare it and back off.
	gen        uint64
	peerID     string
	callID     string
	outgoing   bool
	video      bool
	offer      webrtc.SessionDescription
	pc         PeerConnection
	tracks     []LocalTrack
	remoteSet  bool
	pendingICE []webrtc.ICECandidateInit
	ringTimer  *clock.Timer
	audioMuted bool
	videoOff   bool
	endReason  string
	after      []func()

	onState       func(CallInfo)
	onIncoming    func(CallInfo)
	onRemoteTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

func NewCallController(sig Signaler, media MediaDevices, peers PeerFactory, notes *Notifications, logger *slog.Logger, opts ...CallOption) *CallController {
	c := &CallController{
		signaler:    sig,
		media:       media,
		peers:       peers,
		notes:       notes,
		clock:       clock.New(),
		ringTimeout: 30 * time.Second,
		logger:      logger,
		state:       CallIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnStateChange registers fn for every transition. Callbacks run outside
// the controller lock.
func (c *CallController) OnStateChange(fn func(CallInfo)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// OnIncoming registers fn for incoming calls; answer with Accept or Reject.
func (c *CallController) OnIncoming(fn func(CallInfo)) {
	c.mu.Lock()
	c.onIncoming = fn
	c.mu.Unlock()
}

func (c *CallController) OnRemoteTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	c.mu.Lock()
	c.onRemoteTrack = fn
	c.mu.Unlock()
}

// Bind routes the call events of s into the controller.
func (c *CallController) Bind(s *Socket) {
	for _, t := range []events.Type{
		events.TypeCallInitiate, events.TypeCallAnswer, events.TypeICECandidate,
		events.TypeCallEnd, events.TypeCallReject, events.TypeCallError,
	} {
		s.On(t, c.HandleEvent)
	}
}

func (c *CallController) Info() CallInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.infoLocked()
}

func (c *CallController) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *CallController) infoLocked() CallInfo {
	return CallInfo{
		State:      c.state,
		PeerID:     c.peerID,
		CallID:     c.callID,
		Outgoing:   c.outgoing,
		Video:      c.video,
		AudioMuted: c.audioMuted,
		VideoOff:   c.videoOff,
		EndReason:  c.endReason,
	}
}

// unlock releases the lock and then runs the callbacks queued while it was
// held.
func (c *CallController) unlock() {
	fns := c.after
	c.after = nil
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *CallController) transitionLocked(to CallState) error {
	allowed := false
	for _, s := range callTransitions[c.state] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state, to)
	}

	c.logger.Debug("Call state", "from", c.state, "to", to, "peer", c.peerID)
	c.state = to
	if fn := c.onState; fn != nil {
		info := c.infoLocked()
		c.after = append(c.after, func() { fn(info) })
	}
	return nil
}

func (c *CallController) notifyLocked(action, message string) {
	if c.notes == nil {
		return
	}
	c.after = append(c.after, func() { c.notes.Push(action, message) })
}

// beginLocked resets per-attempt state for a new call with peerID.
func (c *CallController) beginLocked(peerID string, outgoing, video bool) uint64 {
	c.gen++
	c.peerID = peerID
	c.callID = ""
	c.outgoing = outgoing
	c.video = video
	c.offer = webrtc.SessionDescription{}
	c.remoteSet = false
	c.pendingICE = nil
	c.audioMuted = false
	c.videoOff = false
	c.endReason = ""
	return c.gen
}

// Call starts an outgoing call. It returns once the offer has been sent.
func (c *CallController) Call(ctx context.Context, peerID string, video bool) error {
	c.mu.Lock()
	if c.state != CallIdle {
		c.unlock()
		return ErrCallInProgress
	}
	gen := c.beginLocked(peerID, true, video)
	c.transitionLocked(CallRequestingMedia)
	c.unlock()

	tracks, mediaErr := c.media.GetUserMedia(ctx, MediaConstraints{Audio: true, Video: video})

	c.mu.Lock()
	defer c.unlock()

	if gen != c.gen || c.state != CallRequestingMedia {
		stopTracks(tracks)
		return ErrCallEnded
	}
	if mediaErr != nil {
		c.endLocked(EndReasonMediaDenied, false)
		c.notifyLocked("call", "camera or microphone access was denied")
		return fmt.Errorf("%w: %v", ErrMediaDenied, mediaErr)
	}
	if len(tracks) == 0 {
		c.endLocked(EndReasonNoMedia, false)
		c.notifyLocked("call", "no camera or microphone available")
		return ErrNoLocalMedia
	}
	c.tracks = tracks

	if err := c.startPeerLocked(gen); err != nil {
		return c.failLocked("call", err, false)
	}

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return c.failLocked("call", fmt.Errorf("create offer: %w", err), false)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return c.failLocked("call", fmt.Errorf("set local description: %w", err), false)
	}
	raw, err := json.Marshal(offer)
	if err != nil {
		return c.failLocked("call", err, false)
	}

	if err := c.signaler.Emit(events.TypeCallInitiate, events.CallInitiate{CalleeID: peerID, Offer: raw}); err != nil {
		return c.failLocked("call", fmt.Errorf("send offer: %w", err), false)
	}
	c.transitionLocked(CallCalling)
	c.ringTimer = c.clock.AfterFunc(c.ringTimeout+ClientRingGrace, func() { c.ringExpired(gen) })

	c.logger.Info("Calling", "peer", peerID, "video", video)
	return nil
}

// Accept answers the ringing incoming call.
func (c *CallController) Accept(ctx context.Context, video bool) error {
	c.mu.Lock()
	if c.state != CallRingingIncoming {
		c.unlock()
		return ErrNoIncomingCall
	}
	gen := c.gen
	c.video = video
	c.transitionLocked(CallRequestingMedia)
	c.unlock()

	tracks, mediaErr := c.media.GetUserMedia(ctx, MediaConstraints{Audio: true, Video: video})

	c.mu.Lock()
	defer c.unlock()

	if gen != c.gen || c.state != CallRequestingMedia {
		stopTracks(tracks)
		return ErrCallEnded
	}
	if mediaErr != nil {
		c.signaler.Emit(events.TypeCallReject, events.CallReject{To: c.peerID})
		c.endLocked(EndReasonMediaDenied, false)
		c.notifyLocked("answer call", "camera or microphone access was denied")
		return fmt.Errorf("%w: %v", ErrMediaDenied, mediaErr)
	}
	c.tracks = tracks

	if err := c.startPeerLocked(gen); err != nil {
		return c.failLocked("answer call", err, true)
	}
	if err := c.applyRemoteLocked(c.offer); err != nil {
		return c.failLocked("answer call", err, true)
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return c.failLocked("answer call", fmt.Errorf("create answer: %w", err), true)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return c.failLocked("answer call", fmt.Errorf("set local description: %w", err), true)
	}
	raw, err := json.Marshal(answer)
	if err != nil {
		return c.failLocked("answer call", err, true)
	}

	if err := c.signaler.Emit(events.TypeCallAnswer, events.CallAnswer{To: c.peerID, CallID: c.callID, Answer: raw}); err != nil {
		return c.failLocked("answer call", fmt.Errorf("send answer: %w", err), false)
	}
	c.transitionLocked(CallConnecting)
	return nil
}

// Reject declines the ringing incoming call.
func (c *CallController) Reject() error {
	c.mu.Lock()
	defer c.unlock()

	if c.state != CallRingingIncoming {
		return ErrNoIncomingCall
	}
	c.signaler.Emit(events.TypeCallReject, events.CallReject{To: c.peerID})
	c.endLocked(models.EndReasonRejected, false)
	return nil
}

// Hangup ends the call in whatever state it is in. Calling it again, or
// after the peer already hung up, does nothing.
func (c *CallController) Hangup() {
	c.mu.Lock()
	defer c.unlock()

	switch {
	case c.state == CallIdle || c.state == CallEnded:
		return
	case !c.outgoing && (c.state == CallRingingIncoming || c.state == CallRequestingMedia):
		c.signaler.Emit(events.TypeCallReject, events.CallReject{To: c.peerID})
		c.endLocked(models.EndReasonRejected, false)
	case c.outgoing && c.state == CallRequestingMedia:
		// Nothing was signaled yet.
		c.endLocked(models.EndReasonUser, false)
	default:
		c.endLocked(models.EndReasonUser, true)
	}
}

// ToggleMute flips the local audio tracks and returns whether audio is now
// muted.
func (c *CallController) ToggleMute() bool {
	c.mu.Lock()
	defer c.unlock()

	c.audioMuted = !c.audioMuted
	setKindEnabled(c.tracks, webrtc.RTPCodecTypeAudio, !c.audioMuted)
	return c.audioMuted
}

// ToggleCamera flips the local video tracks and returns whether video is now
// off.
func (c *CallController) ToggleCamera() bool {
	c.mu.Lock()
	defer c.unlock()

	c.videoOff = !c.videoOff
	setKindEnabled(c.tracks, webrtc.RTPCodecTypeVideo, !c.videoOff)
	return c.videoOff
}

// HandleEvent feeds one signaling event from the server into the machine.
func (c *CallController) HandleEvent(env events.Envelope) {
	switch env.Type {
	case events.TypeCallInitiate:
		var p events.CallInitiate
		if c.decode(env, &p) {
			c.incoming(env.From, p)
		}
	case events.TypeCallAnswer:
		var p events.CallAnswer
		if c.decode(env, &p) {
			c.answered(env.From, p)
		}
	case events.TypeICECandidate:
		var p events.ICECandidate
		if c.decode(env, &p) {
			c.remoteCandidate(env.From, p)
		}
	case events.TypeCallEnd:
		var p events.CallEnd
		if c.decode(env, &p) {
			c.remoteEnd(env.From, p.Reason)
		}
	case events.TypeCallReject:
		c.rejected(env.From)
	case events.TypeCallError:
		var p events.CallError
		if c.decode(env, &p) {
			c.callError(p)
		}
	}
}

func (c *CallController) decode(env events.Envelope, v any) bool {
	if err := env.Decode(v); err != nil {
		c.logger.Warn("Bad call event", "type", env.Type, "from", env.From, "error", err)
		return false
	}
	return true
}

func (c *CallController) incoming(from string, p events.CallInitiate) {
	c.mu.Lock()
	defer c.unlock()

	if c.state != CallIdle {
		if from != c.peerID {
			c.logger.Info("Busy, rejecting incoming call", "from", from)
			c.signaler.Emit(events.TypeCallReject, events.CallReject{To: from})
			return
		}
		if !c.crossedLocked(from) {
			return
		}
	}

	var offer webrtc.SessionDescription
	if err := json.Unmarshal(p.Offer, &offer); err != nil {
		c.logger.Warn("Incoming call with unreadable offer", "from", from, "error", err)
		c.signaler.Emit(events.TypeCallReject, events.CallReject{To: from})
		return
	}

	c.beginLocked(from, false, false)
	c.callID = p.CallID
	c.offer = offer
	c.transitionLocked(CallRingingIncoming)

	if fn := c.onIncoming; fn != nil {
		info := c.infoLocked()
		c.after = append(c.after, func() { fn(info) })
	}
}

// crossedLocked resolves an offer from the peer we are already calling. The
// side with the lower user id drops its own attempt and takes the incoming
// call; the other side rejects the incoming offer and keeps ringing. It
// reports whether the incoming offer should be taken.
func (c *CallController) crossedLocked(from string) bool {
	if c.state != CallCalling || !c.outgoing {
		return false
	}
	if c.localID != "" && c.localID < from {
		c.logger.Info("Calls crossed, taking the incoming call", "peer", from)
		c.endLocked(EndReasonCrossed, false)
		return true
	}
	c.logger.Info("Calls crossed, rejecting the incoming call", "peer", from)
	c.signaler.Emit(events.TypeCallReject, events.CallReject{To: from})
	c.pendingICE = nil
	return false
}

func (c *CallController) answered(from string, p events.CallAnswer) {
	c.mu.Lock()
	defer c.unlock()

	if c.state != CallCalling || from != c.peerID {
		return
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(p.Answer, &answer); err != nil {
		c.failLocked("call", fmt.Errorf("unreadable answer: %w", err), true)
		return
	}

	c.stopRingTimerLocked()
	c.callID = p.CallID
	if err := c.applyRemoteLocked(answer); err != nil {
		c.failLocked("call", err, true)
		return
	}
	c.transitionLocked(CallConnecting)
}

func (c *CallController) remoteCandidate(from string, p events.ICECandidate) {
	c.mu.Lock()
	defer c.unlock()

	if c.state == CallIdle || from != c.peerID {
		return
	}

	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(p.Candidate, &cand); err != nil {
		c.logger.Warn("Dropping unreadable ICE candidate", "from", from, "error", err)
		return
	}

	if c.pc == nil || !c.remoteSet {
		c.pendingICE = append(c.pendingICE, cand)
		return
	}
	if err := c.pc.AddICECandidate(cand); err != nil {
		c.logger.Warn("Failed to add ICE candidate", "error", err)
	}
}

func (c *CallController) remoteEnd(from, reason string) {
	c.mu.Lock()
	defer c.unlock()
	c.remoteEndLocked(from, reason)
}

func (c *CallController) remoteEndLocked(from, reason string) {
	if c.state == CallIdle || c.state == CallEnded || from != c.peerID {
		return
	}
	if reason == "" {
		reason = models.EndReasonUser
	}
	c.endLocked(reason, false)
	if reason != models.EndReasonUser {
		c.notifyLocked("call", "call ended: "+reason)
	}
}

// rejected ends an outgoing call. A callee never receives a legitimate
// reject; after crossed calls the winner's reject of our dropped attempt
// arrives while we ring for its call.
func (c *CallController) rejected(from string) {
	c.mu.Lock()
	defer c.unlock()

	if !c.outgoing {
		return
	}
	c.remoteEndLocked(from, models.EndReasonRejected)
}

func (c *CallController) callError(p events.CallError) {
	c.mu.Lock()
	defer c.unlock()

	switch {
	case p.Action == events.TypeCallInitiate && c.outgoing && c.state == CallCalling:
	case p.Action == events.TypeCallAnswer && !c.outgoing && c.state == CallConnecting:
	default:
		c.logger.Warn("Call error", "action", p.Action, "code", p.Code, "message", p.Message)
		return
	}

	reason := EndReasonFailed
	message := p.Message
	if p.Code == events.CodeCalleeOffline {
		reason = models.EndReasonOffline
		message = "user offline"
	}
	c.endLocked(reason, false)
	c.notifyLocked("call", message)
}

func (c *CallController) ringExpired(gen uint64) {
	c.mu.Lock()
	defer c.unlock()

	if gen != c.gen || c.state != CallCalling {
		return
	}
	c.ringTimer = nil
	c.endLocked(models.EndReasonNoAnswer, true)
	c.notifyLocked("call", models.EndReasonNoAnswer)
}

func (c *CallController) connectionState(gen uint64, s webrtc.PeerConnectionState) {
	c.mu.Lock()
	defer c.unlock()

	if gen != c.gen {
		return
	}
	switch s {
	case webrtc.PeerConnectionStateConnected:
		if c.state == CallConnecting {
			c.transitionLocked(CallConnected)
		}
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		if c.endLocked(models.EndReasonLost, true) {
			c.notifyLocked("call", models.EndReasonLost)
		}
	}
}

func (c *CallController) localCandidate(gen uint64, cand *webrtc.ICECandidate) {
	if cand == nil {
		return
	}
	raw, err := json.Marshal(cand.ToJSON())
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.unlock()
	if gen != c.gen || c.peerID == "" {
		return
	}
	c.signaler.Emit(events.TypeICECandidate, events.ICECandidate{To: c.peerID, Candidate: raw})
}

// startPeerLocked creates the one peer connection of this attempt and adds
// the local tracks.
func (c *CallController) startPeerLocked(gen uint64) error {
	if c.pc != nil {
		return nil
	}
	pc, err := c.peers.NewPeerConnection()
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	c.pc = pc

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) { c.localCandidate(gen, cand) })
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) { c.connectionState(gen, s) })
	pc.OnTrack(func(track *webrtc.TrackRemote, recv *webrtc.RTPReceiver) {
		c.mu.Lock()
		fn := c.onRemoteTrack
		current := gen == c.gen
		c.mu.Unlock()
		if current && fn != nil {
			fn(track, recv)
		}
	})

	for _, t := range c.tracks {
		if _, err := pc.AddTrack(t.Track()); err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
	}
	return nil
}

// applyRemoteLocked sets the remote description and then applies the ICE
// candidates that arrived before it, in arrival order.
func (c *CallController) applyRemoteLocked(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	c.remoteSet = true

	queued := c.pendingICE
	c.pendingICE = nil
	for _, cand := range queued {
		if err := c.pc.AddICECandidate(cand); err != nil {
			c.logger.Warn("Failed to add queued ICE candidate", "error", err)
		}
	}
	return nil
}

func (c *CallController) failLocked(action string, err error, signal bool) error {
	c.logger.Warn("Call failed", "action", action, "peer", c.peerID, "error", err)
	c.endLocked(EndReasonFailed, signal)
	c.notifyLocked(action, err.Error())
	return err
}

func (c *CallController) stopRingTimerLocked() {
	if c.ringTimer != nil {
		c.ringTimer.Stop()
		c.ringTimer = nil
	}
}

// endLocked tears the attempt down and returns to idle. It reports false
// when there was nothing to end. The timer and peer callbacks are detached
// before the handles are dropped; closing happens after the lock is
// released.
func (c *CallController) endLocked(reason string, signal bool) bool {
	if c.state == CallIdle || c.state == CallEnded {
		return false
	}

	if signal && c.peerID != "" {
		c.signaler.Emit(events.TypeCallEnd, events.CallEnd{To: c.peerID, Reason: reason})
	}

	c.stopRingTimerLocked()
	c.gen++

	pc, tracks := c.pc, c.tracks
	if pc != nil {
		pc.OnICECandidate(func(*webrtc.ICECandidate) {})
		pc.OnConnectionStateChange(func(webrtc.PeerConnectionState) {})
		pc.OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {})
	}
	c.pc = nil
	c.tracks = nil
	c.pendingICE = nil
	c.remoteSet = false
	c.endReason = reason

	c.transitionLocked(CallEnded)
	c.logger.Info("Call ended", "peer", c.peerID, "reason", reason)
	c.after = append(c.after, func() {
		stopTracks(tracks)
		if pc != nil {
			if err := pc.Close(); err != nil {
				c.logger.Warn("Failed to close peer connection", "error", err)
			}
		}
	})
	c.transitionLocked(CallIdle)
	return true
}

func stopTracks(tracks []LocalTrack) {
	for _, t := range tracks {
		t.Stop()
	}
}

func setKindEnabled(tracks []LocalTrack, kind webrtc.RTPCodecType, enabled bool) {
	for _, t := range tracks {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
		}
	}
}
