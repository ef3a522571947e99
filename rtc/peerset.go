// Package rtc terminates the browsers' WebRTC connections: it answers offers,
// cuts inbound audio into utterances and plays synthesized replies back.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bt-bridge/voice-relay/shared"
	"github.com/bt-bridge/voice-relay/tools"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

type Config struct {
	ICEServers []string
	// TurnQueue is how many utterances may wait for a peer's turn worker.
	TurnQueue int
	VAD       tools.PauseDetectorConfig
}

// PeerSet holds at most one peer per session. A new offer for a session
// replaces and closes its previous peer.
type PeerSet struct {
	logger  shared.LoggerAdapter
	api     *webrtc.API
	cfg     Config
	handler TurnHandler

	mu    sync.Mutex
	peers map[string]*Peer
}

func NewPeerSet(logger shared.LoggerAdapter, handler TurnHandler, cfg Config) (*PeerSet, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if handler == nil {
		return nil, shared.ErrNoTurnHandler
	}
	if cfg.TurnQueue <= 0 {
		cfg.TurnQueue = 4
	}
	api, err := newAPI()
	if err != nil {
		return nil, err
	}
	return &PeerSet{
		logger:  logger.With(zap.String("component", "rtc")),
		api:     api,
		cfg:     cfg,
		handler: handler,
		peers:   make(map[string]*Peer),
	}, nil
}

func newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("registering codecs: %w", err)
	}
	if err := m.RegisterHeaderExtension(
		webrtc.RTPHeaderExtensionCapability{URI: tools.AudioLevelURI},
		webrtc.RTPCodecTypeAudio,
	); err != nil {
		return nil, fmt.Errorf("registering audio level extension: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("registering interceptors: %w", err)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir)), nil
}

// Answer creates the peer for sessionID from a browser offer and returns the
// answer once ICE gathering is complete.
func (s *PeerSet) Answer(ctx context.Context, sessionID string, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if sessionID == "" {
		return webrtc.SessionDescription{}, shared.ErrNoSession
	}
	if offer.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("expected an offer, got %s", offer.Type)
	}
	p, err := s.newPeer(sessionID)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := s.negotiate(ctx, p, offer)
	if err != nil {
		if cerr := p.Close(); cerr != nil {
			s.logger.Error("closing unanswered peer", cerr, zap.String("session_id", sessionID))
		}
		return webrtc.SessionDescription{}, err
	}

	s.mu.Lock()
	old := s.peers[sessionID]
	s.peers[sessionID] = p
	s.mu.Unlock()
	if old != nil {
		s.logger.Info("replacing peer", zap.String("session_id", sessionID))
		if err := old.Close(); err != nil {
			s.logger.Error("closing replaced peer", err, zap.String("session_id", sessionID))
		}
	}

	go p.work()
	go func() {
		<-p.Done()
		s.release(sessionID, p)
	}()
	s.logger.Info("peer answered", zap.String("session_id", sessionID))
	return answer, nil
}

func (s *PeerSet) newPeer(sessionID string) (*Peer, error) {
	ctx, cancel := context.WithCancelCause(context.Background())
	p := &Peer{
		logger:  s.logger.With(zap.String("session_id", sessionID)),
		id:      sessionID,
		handler: s.handler,
		vad:     s.cfg.VAD,
		turns:   make(chan []byte, s.cfg.TurnQueue),
		ctx:     ctx,
		cancel:  cancel,
	}

	var iceServers []webrtc.ICEServer
	if len(s.cfg.ICEServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: s.cfg.ICEServers}}
	}
	pc, err := s.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		cancel(err)
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}
	p.pc = pc

	out, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   tools.OpusClockRate,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		"audio",
		"relay-"+sessionID,
	)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("creating local audio track: %w", err)
	}
	sender, err := pc.AddTrack(out)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("adding audio track to peer connection: %w", err)
	}
	p.out = out

	// RTCP has to be drained for the interceptors to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	pc.OnTrack(p.onTrack)
	pc.OnConnectionStateChange(p.onConnectionStateChange)
	return p, nil
}

func (s *PeerSet) negotiate(ctx context.Context, p *Peer, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("setting remote description: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("creating answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("setting local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, fmt.Errorf("gathering ice candidates: %w", ctx.Err())
	}
	local := p.pc.LocalDescription()
	if local == nil {
		return webrtc.SessionDescription{}, errors.New("no local description after gathering")
	}
	return *local, nil
}

// release forgets p if it is still the session's current peer.
func (s *PeerSet) release(sessionID string, p *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peers[sessionID] == p {
		delete(s.peers, sessionID)
		s.logger.Info("peer released", zap.String("session_id", sessionID))
	}
}

// Close closes the peer of sessionID, if any.
func (s *PeerSet) Close(sessionID string) error {
	s.mu.Lock()
	p := s.peers[sessionID]
	delete(s.peers, sessionID)
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Close()
}

func (s *PeerSet) CloseAll() error {
	s.mu.Lock()
	peers := s.peers
	s.peers = make(map[string]*Peer)
	s.mu.Unlock()

	var errs []error
	for _, p := range peers {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

func (s *PeerSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}
