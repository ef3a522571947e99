package relay

import "sync"

// ConversationStore holds the ordered turn history of every session. History is
// resent in full on every turn and is never truncated; it lives until the session
// is evicted.
type ConversationStore struct {
	mu    sync.RWMutex
	turns map[string][]Turn
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		turns: make(map[string][]Turn),
	}
}

func (s *ConversationStore) Append(sessionID string, role Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[sessionID] = append(s.turns[sessionID], Turn{Role: role, Content: content})
}

// History returns a copy of the session's turns in append order. Unknown
// sessions have an empty history.
func (s *ConversationStore) History(sessionID string) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := s.turns[sessionID]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

func (s *ConversationStore) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, sessionID)
}

// Len returns the number of sessions with a history.
func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}
