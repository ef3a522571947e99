package relay

import "context"

type (
	explicitSessionKey struct{}
	boundSessionKey    struct{}
)

// WithSession records the session id a transport knows for certain. Turns
// processed under the returned context are attributed to it.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, explicitSessionKey{}, sessionID)
}

// SessionContext attributes an audio turn to a session.
//
// When the transport cannot say which session an utterance belongs to, the turn
// is attributed to the most recently active session. That is only right while a
// single session is speaking: concurrent callers without an explicit id will be
// mixed up.
type SessionContext struct {
	registry *Registry
}

func NewSessionContext(registry *Registry) *SessionContext {
	return &SessionContext{registry: registry}
}

// Bind resolves the session for a turn that starts now and binds it to ctx.
func (s *SessionContext) Bind(ctx context.Context) context.Context {
	if id, ok := ctx.Value(explicitSessionKey{}).(string); ok && id != "" {
		return context.WithValue(ctx, boundSessionKey{}, id)
	}
	id, _ := s.registry.MostRecent()
	return context.WithValue(ctx, boundSessionKey{}, id)
}

// Current returns the session bound to ctx, falling back to the most recently
// active session when nothing is bound.
func (s *SessionContext) Current(ctx context.Context) (string, bool) {
	if id, ok := ctx.Value(boundSessionKey{}).(string); ok {
		return id, id != ""
	}
	return s.registry.MostRecent()
}
