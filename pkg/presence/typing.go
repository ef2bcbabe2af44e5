package presence

import "sync"

// TypingTarget names a conversation in which a user is typing and the peer
// that was told about it.
type TypingTarget struct {
	ConversationID string
	To             string
}

// Typing is the ephemeral typing state: conversation → typing user → peer.
type Typing struct {
	mu     sync.Mutex
	byConv map[string]map[string]string
}

func NewTyping() *Typing {
	return &Typing{byConv: make(map[string]map[string]string)}
}

// Set records whether userID is typing in conversationID and reports whether
// the state changed.
func (t *Typing) Set(conversationID, userID, to string, typing bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.byConv[conversationID]
	_, was := users[userID]
	if was == typing {
		return false
	}

	if typing {
		if users == nil {
			users = make(map[string]string)
			t.byConv[conversationID] = users
		}
		users[userID] = to
		return true
	}

	delete(users, userID)
	if len(users) == 0 {
		delete(t.byConv, conversationID)
	}
	return true
}

func (t *Typing) IsTyping(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byConv[conversationID][userID]
	return ok
}

// ClearUser drops every typing flag held by userID and returns where they
// were held so the peers can be told.
func (t *Typing) ClearUser(userID string) []TypingTarget {
	t.mu.Lock()
	defer t.mu.Unlock()

	var cleared []TypingTarget
	for convID, users := range t.byConv {
		to, ok := users[userID]
		if !ok {
			continue
		}
		cleared = append(cleared, TypingTarget{ConversationID: convID, To: to})
		delete(users, userID)
		if len(users) == 0 {
			delete(t.byConv, convID)
		}
	}
	return cleared
}
