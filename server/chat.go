package server

import (
	"sync"
	"time"

	relay "github.com/bt-bridge/voice-relay"
	"github.com/bt-bridge/voice-relay/shared"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	chatWriteTimeout = 5 * time.Second
	chatReadLimit    = 4096
)

// chatConn is one live-chat websocket. Notifications are queued on out and
// written by a single writer goroutine, so Enqueue and Close never block on
// the network.
type chatConn struct {
	logger       shared.LoggerAdapter
	ws           *websocket.Conn
	pingInterval time.Duration

	mu          sync.Mutex
	out         chan []byte
	closed      bool
	closeCode   int
	closeReason string

	done chan struct{}
}

var _ relay.ChannelHandle = (*chatConn)(nil)

func newChatConn(logger shared.LoggerAdapter, ws *websocket.Conn, buffer int, pingInterval time.Duration) *chatConn {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &chatConn{
		logger:       logger,
		ws:           ws,
		pingInterval: pingInterval,
		out:          make(chan []byte, buffer),
		closeCode:    websocket.CloseNormalClosure,
		done:         make(chan struct{}),
	}
}

func (c *chatConn) Enqueue(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return shared.ErrChannelClosed
	}
	select {
	case c.out <- payload:
		return nil
	default:
		return shared.ErrChannelFull
	}
}

// Close asks the writer to flush queued messages and then send a close frame
// with code and reason. Closing twice is a no-op.
func (c *chatConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(code, reason)
	return nil
}

func (c *chatConn) closeLocked(code int, reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.out)
}

// Done is closed after the writer has sent the close frame.
func (c *chatConn) Done() <-chan struct{} {
	return c.done
}

func (c *chatConn) writeLoop() {
	defer close(c.done)
	defer c.ws.Close()

	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-c.out:
			if !ok {
				c.mu.Lock()
				code, reason := c.closeCode, c.closeReason
				c.mu.Unlock()
				msg := websocket.FormatCloseMessage(code, reason)
				if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(chatWriteTimeout)); err != nil {
					c.logger.Debug("writing close frame", zap.Error(err))
				}
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(chatWriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Warn("writing chat message", zap.Error(err))
				c.abort()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(chatWriteTimeout)); err != nil {
				c.logger.Debug("writing ping", zap.Error(err))
				c.abort()
				return
			}
		}
	}
}

// abort marks the connection closed after a write failure.
func (c *chatConn) abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(websocket.CloseAbnormalClosure, "")
}
