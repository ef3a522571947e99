package relay

import (
	"context"
	"time"

	"github.com/bt-bridge/voice-relay/metrics"
	"github.com/bt-bridge/voice-relay/shared"
	"go.uber.org/zap"
)

const (
	DefaultSessionTimeout = 30 * time.Minute
	DefaultSweepInterval  = 60 * time.Second
)

// Sweeper evicts sessions that have been idle longer than the session timeout,
// closing their chat channel and dropping their history.
type Sweeper struct {
	logger   shared.LoggerAdapter
	registry *Registry
	store    *ConversationStore
	notifier *Notifier
	ttl      time.Duration
	interval time.Duration
}

func NewSweeper(
	logger shared.LoggerAdapter,
	registry *Registry,
	store *ConversationStore,
	notifier *Notifier,
	ttl, interval time.Duration,
) *Sweeper {
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	if ttl <= 0 {
		ttl = DefaultSessionTimeout
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		logger:   logger,
		registry: registry,
		store:    store,
		notifier: notifier,
		ttl:      ttl,
		interval: interval,
	}
}

// Sweep runs one eviction pass and returns the evicted session ids.
func (s *Sweeper) Sweep() []string {
	expired := s.registry.Expire(s.ttl, s.release)
	if len(expired) > 0 {
		metrics.RecordEvictions(len(expired))
	}
	return expired
}

// release drops an expired session's channel and history. It runs under the
// registry lock, so it must not call back into the registry.
func (s *Sweeper) release(sessionID string) {
	s.logger.Info("cleaning up expired session", zap.String("session_id", sessionID))
	if h := s.notifier.Remove(sessionID); h != nil {
		if err := h.Close(CloseNormalClosure, CloseReasonExpired); err != nil {
			s.logger.Error("closing expired chat channel", err, zap.String("session_id", sessionID))
		}
	}
	s.store.Clear(sessionID)
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info(
		"session sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("session_timeout", s.ttl),
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep()
		}
	}
}
