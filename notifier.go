package relay

import (
	"sync"

	"github.com/bt-bridge/voice-relay/metrics"
	"github.com/bt-bridge/voice-relay/shared"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// ChannelHandle is an open live-chat channel bound to one session.
//
// Enqueue hands a payload to the channel's own writer and must not block; it
// returns an error when the payload cannot be queued. Close sends a close frame
// with the given code and reason and releases the channel.
type ChannelHandle interface {
	Enqueue(payload []byte) error
	Close(code int, reason string) error
}

// Notifier maps sessions to their live-chat channel. At most one channel is live
// per session.
type Notifier struct {
	logger shared.LoggerAdapter

	mu       sync.Mutex
	channels map[string]ChannelHandle
}

func NewNotifier(logger shared.LoggerAdapter) *Notifier {
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	return &Notifier{
		logger:   logger,
		channels: make(map[string]ChannelHandle),
	}
}

// Register installs h for the session. A channel already registered for the
// session is closed with reason "replaced" before h becomes active.
func (n *Notifier) Register(sessionID string, h ChannelHandle) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if old, ok := n.channels[sessionID]; ok && old != h {
		if err := old.Close(CloseNormalClosure, CloseReasonReplaced); err != nil {
			n.logger.Error("closing replaced chat channel", err, zap.String("session_id", sessionID))
		}
	}
	n.channels[sessionID] = h
	metrics.SetOpenChannels(len(n.channels))
}

// Unregister removes the session's channel without closing it.
func (n *Notifier) Unregister(sessionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.channels, sessionID)
	metrics.SetOpenChannels(len(n.channels))
}

// Release removes h only if it is still the session's registered channel, so the
// teardown of a replaced connection leaves its successor in place.
func (n *Notifier) Release(sessionID string, h ChannelHandle) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if cur, ok := n.channels[sessionID]; !ok || cur != h {
		return false
	}
	delete(n.channels, sessionID)
	metrics.SetOpenChannels(len(n.channels))
	return true
}

// Remove unregisters and returns the session's channel, or nil.
func (n *Notifier) Remove(sessionID string) ChannelHandle {
	n.mu.Lock()
	defer n.mu.Unlock()
	h, ok := n.channels[sessionID]
	if !ok {
		return nil
	}
	delete(n.channels, sessionID)
	metrics.SetOpenChannels(len(n.channels))
	return h
}

// Send queues msg on the session's channel. It never blocks and never fails:
// delivery problems are logged and dropped, and a session without a channel is
// a no-op. Safe to call from any goroutine.
func (n *Notifier) Send(sessionID string, msg Message) {
	n.mu.Lock()
	h, ok := n.channels[sessionID]
	n.mu.Unlock()
	if !ok {
		metrics.RecordNotification(string(msg.Type), metrics.StatusNoChannel)
		return
	}
	payload, err := sonic.Marshal(msg)
	if err != nil {
		metrics.RecordNotification(string(msg.Type), metrics.StatusEncodeFail)
		n.logger.Error("encoding notification", err, zap.String("session_id", sessionID))
		return
	}
	if err := h.Enqueue(payload); err != nil {
		metrics.RecordNotification(string(msg.Type), metrics.StatusDropped)
		n.logger.Error(
			"queueing notification",
			err,
			zap.String("session_id", sessionID),
			zap.String("type", string(msg.Type)),
		)
		return
	}
	metrics.RecordNotification(string(msg.Type), metrics.StatusQueued)
	n.logger.Trace(
		"notification queued",
		zap.String("session_id", sessionID),
		zap.String("role", string(msg.Role)),
		zap.String("type", string(msg.Type)),
	)
}

func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.channels)
}
