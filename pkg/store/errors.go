package store

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidParticipants = errors.New("a conversation needs exactly two distinct participants")
	ErrInvalidStoreType    = errors.New("invalid store type")
	ErrUsernameTaken       = errors.New("username already taken")
)
