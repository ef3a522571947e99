// Package server exposes the relay over HTTP: WebRTC signalling, the live-chat
// websocket, health and metrics.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	relay "github.com/bt-bridge/voice-relay"
	"github.com/bt-bridge/voice-relay/metrics"
	"github.com/bt-bridge/voice-relay/shared"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	maxOfferBytes   = 64 << 10
	shutdownTimeout = 5 * time.Second
)

// Answerer turns a browser offer for a session into an answer.
type Answerer interface {
	Answer(ctx context.Context, sessionID string, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	Len() int
}

type ChatConfig struct {
	SendBuffer   int
	PingInterval time.Duration
	InboundRate  float64
	InboundBurst int
}

type Config struct {
	Addr      string
	StaticDir string
	Chat      ChatConfig
	// OfferTimeout bounds ICE gathering for one offer.
	OfferTimeout time.Duration
}

type Server struct {
	logger   shared.LoggerAdapter
	cfg      Config
	registry *relay.Registry
	store    *relay.ConversationStore
	notifier *relay.Notifier
	peers    Answerer
	upgrader websocket.Upgrader
}

func New(
	logger shared.LoggerAdapter,
	cfg Config,
	registry *relay.Registry,
	store *relay.ConversationStore,
	notifier *relay.Notifier,
	peers Answerer,
) (*Server, error) {
	switch {
	case logger == nil:
		return nil, shared.ErrNoLogger
	case registry == nil:
		return nil, shared.ErrNoRegistry
	case store == nil:
		return nil, shared.ErrNoStore
	case notifier == nil:
		return nil, shared.ErrNoNotifier
	case peers == nil:
		return nil, shared.ErrNoPeers
	}
	if cfg.Chat.SendBuffer <= 0 {
		cfg.Chat.SendBuffer = 64
	}
	if cfg.Chat.InboundRate <= 0 {
		cfg.Chat.InboundRate = 5
	}
	if cfg.Chat.InboundBurst <= 0 {
		cfg.Chat.InboundBurst = 10
	}
	if cfg.OfferTimeout <= 0 {
		cfg.OfferTimeout = 10 * time.Second
	}
	return &Server{
		logger:   logger.With(zap.String("component", "server")),
		cfg:      cfg,
		registry: registry,
		store:    store,
		notifier: notifier,
		peers:    peers,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /webrtc/offer", s.trackOffer(http.HandlerFunc(s.handleOffer)))
	mux.HandleFunc("GET /ws/chat", s.handleChat)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	if s.cfg.StaticDir != "" {
		files := http.FileServer(http.Dir(s.cfg.StaticDir))
		mux.Handle("GET /static/", http.StripPrefix("/static", files))
		mux.Handle("GET /", files)
	}
	return mux
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errC := make(chan error, 1)
	go func() {
		errC <- srv.Serve(ln)
	}()
	s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errC:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("shutting down server", err)
		return fmt.Errorf("shutting down server: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

type offerRequest struct {
	SDP      string `json:"sdp"`
	Type     string `json:"type"`
	WebRTCID string `json:"webrtc_id"`
}

type offerResponse struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// trackOffer marks the session of an incoming offer as active before the offer
// is handled. A body it cannot parse is logged and passed on untouched.
func (s *Server) trackOffer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxOfferBytes))
		if err != nil {
			s.writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "offer body too large"})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		var req offerRequest
		if err := sonic.Unmarshal(body, &req); err != nil {
			s.logger.Warn("parsing offer body for session tracking", zap.Error(err))
		} else if req.WebRTCID != "" {
			s.registry.Touch(req.WebRTCID)
			s.logger.Debug("session touched by offer", zap.String("session_id", req.WebRTCID))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "reading offer"})
		return
	}
	var req offerRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid offer body"})
		return
	}
	if req.WebRTCID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "webrtc_id is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.OfferTimeout)
	defer cancel()
	answer, err := s.peers.Answer(ctx, req.WebRTCID, webrtc.SessionDescription{
		Type: webrtc.NewSDPType(req.Type),
		SDP:  req.SDP,
	})
	if err != nil {
		s.logger.Error("answering offer", err, zap.String("session_id", req.WebRTCID))
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "could not answer offer"})
		return
	}
	s.writeJSON(w, http.StatusOK, offerResponse{SDP: answer.SDP, Type: answer.Type.String()})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("webrtc_id")
	if sessionID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "webrtc_id is required"})
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading chat connection", zap.Error(err), zap.String("session_id", sessionID))
		return
	}
	logger := s.logger.With(zap.String("session_id", sessionID))
	conn := newChatConn(logger, ws, s.cfg.Chat.SendBuffer, s.cfg.Chat.PingInterval)
	go conn.writeLoop()

	// Touch first: a sweep already evicting this session finishes before the
	// new channel is registered, so it cannot close it.
	s.registry.Touch(sessionID)
	s.notifier.Register(sessionID, conn)
	s.notifier.Send(sessionID, relay.InfoMessage(relay.WelcomeMessage))
	logger.Info("chat connected")

	s.readChat(logger, ws)

	s.notifier.Release(sessionID, conn)
	_ = conn.Close(websocket.CloseNormalClosure, "")
	<-conn.Done()
	logger.Info("chat disconnected")
}

// readChat logs inbound messages until the connection drops.
func (s *Server) readChat(logger shared.LoggerAdapter, ws *websocket.Conn) {
	ws.SetReadLimit(chatReadLimit)
	limiter := rate.NewLimiter(rate.Limit(s.cfg.Chat.InboundRate), s.cfg.Chat.InboundBurst)
	suppressed := 0
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("reading chat connection", zap.Error(err))
			}
			return
		}
		if !limiter.Allow() {
			suppressed++
			continue
		}
		logger.Info("chat message received", zap.ByteString("data", data), zap.Int("suppressed", suppressed))
		suppressed = 0
	}
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Sessions      int    `json:"sessions"`
	Conversations int    `json:"conversations"`
	ChatChannels  int    `json:"chat_channels"`
	Peers         int    `json:"peers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Version:       shared.Version,
		Sessions:      s.registry.Len(),
		Conversations: s.store.Len(),
		ChatChannels:  s.notifier.Len(),
		Peers:         s.peers.Len(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		s.logger.Error("encoding response", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		s.logger.Debug("writing response", zap.Error(err))
	}
}
