package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(t *testing.T, raw string) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	return env
}

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Type
		wantErr error
	}{
		{
			name: "call initiate",
			raw:  `{"type":"call-initiate","payload":{"callee_id":"bob","offer":{"type":"offer","sdp":"v=0"}}}`,
			want: TypeCallInitiate,
		},
		{
			name:    "call initiate without offer",
			raw:     `{"type":"call-initiate","payload":{"callee_id":"bob"}}`,
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "call initiate with null offer",
			raw:     `{"type":"call-initiate","payload":{"callee_id":"bob","offer":null}}`,
			wantErr: ErrInvalidPayload,
		},
		{
			name: "call answer",
			raw:  `{"type":"call-answer","payload":{"answer":{"type":"answer","sdp":"v=0"}}}`,
			want: TypeCallAnswer,
		},
		{
			name:    "ice candidate without target",
			raw:     `{"type":"ice-candidate","payload":{"candidate":{"candidate":"a"}}}`,
			wantErr: ErrInvalidPayload,
		},
		{
			name: "call end",
			raw:  `{"type":"call-end","payload":{"to":"alice","reason":"ended by user"}}`,
			want: TypeCallEnd,
		},
		{
			name: "call reject with empty payload",
			raw:  `{"type":"call-reject"}`,
			want: TypeCallReject,
		},
		{
			name:    "typing without conversation",
			raw:     `{"type":"typing","payload":{"to":"bob","is_typing":true}}`,
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "server-only event from client",
			raw:     `{"type":"online-users","payload":{"user_ids":[]}}`,
			wantErr: ErrUnknownEvent,
		},
		{
			name:    "payload of wrong shape",
			raw:     `{"type":"call-end","payload":"oops"}`,
			wantErr: ErrInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := DecodeInbound(frame(t, tt.raw))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, in.EventType())
		})
	}
}

func TestDecodeInboundKeepsOpaqueSignal(t *testing.T) {
	in, err := DecodeInbound(frame(t, `{"type":"call-initiate","payload":{"callee_id":"bob","offer":{"sdp":"v=0\r\n","type":"offer"}}}`))
	require.NoError(t, err)

	initiate, ok := in.(CallInitiate)
	require.True(t, ok)
	assert.JSONEq(t, `{"sdp":"v=0\r\n","type":"offer"}`, string(initiate.Offer))
}

func TestEncodeStampsSender(t *testing.T) {
	data, err := Encode(TypeCallEnd, "alice", CallEnd{Reason: "rejected"})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, TypeCallEnd, env.Type)
	assert.Equal(t, "alice", env.From)

	var end CallEnd
	require.NoError(t, env.Decode(&end))
	assert.Equal(t, "rejected", end.Reason)
	assert.Empty(t, end.To)
}
