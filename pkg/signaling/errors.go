package signaling

import "errors"

var (
	ErrCalleeOffline = errors.New("callee is offline")
	ErrNoPendingCall = errors.New("no pending call")
	ErrPeerOffline   = errors.New("peer is offline")
	ErrSelfCall      = errors.New("cannot call yourself")
)
