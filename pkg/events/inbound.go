package events

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrInvalidPayload = errors.New("invalid event payload")
)

const maxReasonLen = 128

// Inbound is the closed set of events a client may send to the server.
type Inbound interface {
	EventType() Type
	validate() error
}

func (CallInitiate) EventType() Type { return TypeCallInitiate }
func (CallAnswer) EventType() Type   { return TypeCallAnswer }
func (ICECandidate) EventType() Type { return TypeICECandidate }
func (CallEnd) EventType() Type      { return TypeCallEnd }
func (CallReject) EventType() Type   { return TypeCallReject }
func (Typing) EventType() Type       { return TypeTyping }

func (p CallInitiate) validate() error {
	if p.CalleeID == "" {
		return missing("callee_id")
	}
	if isEmpty(p.Offer) {
		return missing("offer")
	}
	return nil
}

func (p CallAnswer) validate() error {
	if isEmpty(p.Answer) {
		return missing("answer")
	}
	return nil
}

func (p ICECandidate) validate() error {
	if p.To == "" {
		return missing("to")
	}
	if isEmpty(p.Candidate) {
		return missing("candidate")
	}
	return nil
}

func (p CallEnd) validate() error {
	if p.To == "" {
		return missing("to")
	}
	if len(p.Reason) > maxReasonLen {
		return fmt.Errorf("%w: reason longer than %d bytes", ErrInvalidPayload, maxReasonLen)
	}
	return nil
}

func (p CallReject) validate() error { return nil }

func (p Typing) validate() error {
	if p.ConversationID == "" {
		return missing("conversation_id")
	}
	if p.To == "" {
		return missing("to")
	}
	return nil
}

// DecodeInbound turns a client frame into its typed payload, rejecting unknown
// types and payloads missing required fields.
func DecodeInbound(env Envelope) (Inbound, error) {
	var in Inbound
	switch env.Type {
	case TypeCallInitiate:
		var p CallInitiate
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		in = p
	case TypeCallAnswer:
		var p CallAnswer
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		in = p
	case TypeICECandidate:
		var p ICECandidate
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		in = p
	case TypeCallEnd:
		var p CallEnd
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		in = p
	case TypeCallReject:
		var p CallReject
		if !isEmpty(env.Payload) {
			if err := env.Decode(&p); err != nil {
				return nil, err
			}
		}
		in = p
	case TypeTyping:
		var p Typing
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		in = p
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}

	if err := in.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", env.Type, err)
	}
	return in, nil
}

func missing(field string) error {
	return fmt.Errorf("%w: %s is required", ErrInvalidPayload, field)
}
