package hub

import (
	"context"
	"errors"

	"github.com/msniranjan18/chit-call/pkg/events"
	"github.com/msniranjan18/chit-call/pkg/presence"
	"github.com/msniranjan18/chit-call/pkg/signaling"
)

func (h *Hub) handleInbound(conn presence.Conn, env events.Envelope) {
	userID := conn.UserID()

	in, err := events.DecodeInbound(env)
	if err != nil {
		h.logger.Warn("Rejected inbound event", "error", err, "user_id", userID, "type", env.Type)
		code := events.CodeInvalidPayload
		if errors.Is(err, events.ErrUnknownEvent) {
			code = events.CodeUnknownEvent
		}
		if isCallEvent(env.Type) {
			h.reply(conn, events.TypeCallError, events.CallError{Action: env.Type, Code: code, Message: err.Error()})
		} else {
			h.reply(conn, events.TypeError, events.Error{Code: code, Message: err.Error()})
		}
		return
	}

	h.logger.Debug("Inbound event", "user_id", userID, "type", in.EventType())

	switch p := in.(type) {
	case events.CallInitiate:
		if _, err := h.calls.Initiate(userID, p.CalleeID, p.Offer); err != nil {
			h.callError(conn, events.TypeCallInitiate, err)
		}

	case events.CallAnswer:
		if _, err := h.calls.Answer(userID, p.To, p.Answer); err != nil {
			h.callError(conn, events.TypeCallAnswer, err)
		}

	case events.ICECandidate:
		h.calls.RelayICECandidate(userID, p.To, p.Candidate)

	case events.CallEnd:
		h.calls.End(userID, p.To, p.Reason)

	case events.CallReject:
		h.calls.Reject(userID, p.To)

	case events.Typing:
		if h.typing.Set(p.ConversationID, userID, p.To, p.IsTyping) {
			h.Notify(context.Background(), p.To, events.TypeTyping, userID,
				events.Typing{ConversationID: p.ConversationID, IsTyping: p.IsTyping})
		}
	}
}

func (h *Hub) callError(conn presence.Conn, action events.Type, err error) {
	code := events.CodeInvalidPayload
	switch {
	case errors.Is(err, signaling.ErrCalleeOffline):
		code = events.CodeCalleeOffline
	case errors.Is(err, signaling.ErrNoPendingCall):
		code = events.CodeNoPendingCall
	case errors.Is(err, signaling.ErrPeerOffline):
		code = events.CodePeerOffline
	case errors.Is(err, signaling.ErrSelfCall):
		code = events.CodeSelfCall
	}
	h.reply(conn, events.TypeCallError, events.CallError{Action: action, Code: code, Message: err.Error()})
}

func (h *Hub) reply(conn presence.Conn, t events.Type, payload any) {
	data, err := events.Encode(t, "", payload)
	if err != nil {
		h.logger.Error("Failed to encode reply", "error", err, "type", t)
		return
	}
	if !conn.Send(data) {
		h.logger.Warn("Reply dropped", "user_id", conn.UserID(), "type", t)
	}
}

func isCallEvent(t events.Type) bool {
	switch t {
	case events.TypeCallInitiate, events.TypeCallAnswer, events.TypeICECandidate,
		events.TypeCallEnd, events.TypeCallReject:
		return true
	}
	return false
}
