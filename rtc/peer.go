package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	relay "github.com/bt-bridge/voice-relay"
	"github.com/bt-bridge/voice-relay/shared"
	"github.com/bt-bridge/voice-relay/tools"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
)

// TurnHandler runs one utterance through the conversation and returns the
// audio to play back.
type TurnHandler interface {
	Process(ctx context.Context, audio []byte) iter.Seq[relay.Chunk]
}

type sampleWriter interface {
	WriteSample(sample media.Sample) error
}

// Payloads this small are Opus DTX or comfort noise frames.
const silentPayloadSize = 10

// Peer is the server end of one browser's WebRTC connection. Inbound audio is
// cut into utterances and queued for a single turn worker, so one peer never
// runs two turns at once.
type Peer struct {
	logger  shared.LoggerAdapter
	id      string
	pc      *webrtc.PeerConnection
	out     sampleWriter
	handler TurnHandler
	vad     tools.PauseDetectorConfig
	turns   chan []byte

	ctx    context.Context
	cancel context.CancelCauseFunc
}

func (p *Peer) ID() string {
	return p.id
}

// Done is closed once the peer is closed or its connection failed.
func (p *Peer) Done() <-chan struct{} {
	return p.ctx.Done()
}

func (p *Peer) Close() error {
	p.cancel(shared.ErrPeerClosed)
	if p.pc == nil {
		return nil
	}
	if err := p.pc.Close(); err != nil {
		return fmt.Errorf("closing peer connection: %w", err)
	}
	return nil
}

func (p *Peer) onConnectionStateChange(state webrtc.PeerConnectionState) {
	p.logger.Debug("peer connection state changed", zap.String("state", state.String()))
	switch state {
	case webrtc.PeerConnectionStateFailed:
		p.cancel(errors.New("peer connection state is failed"))
	case webrtc.PeerConnectionStateClosed:
		p.cancel(errors.New("peer connection state is closed"))
	}
}

func (p *Peer) onTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		p.logger.Warn("ignoring non-audio track", zap.String("kind", track.Kind().String()))
		return
	}
	var levelID uint8
	for _, ext := range receiver.GetParameters().HeaderExtensions {
		if ext.URI == tools.AudioLevelURI {
			levelID = uint8(ext.ID)
		}
	}
	p.logger.Info(
		"received remote track",
		zap.String("codec", track.Codec().MimeType),
		zap.Uint8("audio_level_ext", levelID),
	)
	go p.readTrack(track, levelID, track.Codec().Channels)
}

func (p *Peer) readTrack(track *webrtc.TrackRemote, levelID uint8, channels uint16) {
	if channels == 0 {
		channels = 2
	}
	det := p.detector()
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) && p.ctx.Err() == nil {
				p.logger.Error("reading remote track", err)
			}
			p.enqueue(det.Flush(), channels)
			return
		}
		if utterance := det.Push(pkt, p.voiced(det, pkt, levelID), time.Now()); utterance != nil {
			p.enqueue(utterance, channels)
		}
	}
}

func (p *Peer) detector() *tools.PauseDetector {
	return tools.NewPauseDetector(p.vad)
}

func (p *Peer) voiced(det *tools.PauseDetector, pkt *rtp.Packet, levelID uint8) bool {
	if level, ok := tools.AudioLevel(pkt, levelID); ok {
		return det.Voiced(level)
	}
	return len(pkt.Payload) > silentPayloadSize
}

func (p *Peer) enqueue(utterance []*rtp.Packet, channels uint16) {
	if len(utterance) == 0 {
		return
	}
	audio, err := tools.EncodeOgg(utterance, channels)
	if err != nil {
		p.logger.Error("encoding utterance", err, zap.Int("packets", len(utterance)))
		return
	}
	select {
	case p.turns <- audio:
		p.logger.Debug("utterance queued", zap.Int("packets", len(utterance)), zap.Int("bytes", len(audio)))
	case <-p.ctx.Done():
	default:
		p.logger.Warn("turn queue full, dropping utterance", zap.Int("packets", len(utterance)))
	}
}

func (p *Peer) work() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case audio := <-p.turns:
			p.play(p.handler.Process(relay.WithSession(p.ctx, p.id), audio))
		}
	}
}

// play writes chunks to the outbound track at the rate they play back.
// Empty chunks carry no audio and are skipped.
func (p *Peer) play(chunks iter.Seq[relay.Chunk]) {
	next := time.Now()
	for chunk := range chunks {
		if chunk.Empty() {
			continue
		}
		if err := p.out.WriteSample(media.Sample{Data: chunk.Data, Duration: chunk.Duration}); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return
			}
			p.logger.Error("writing audio sample", err)
		}
		next = next.Add(chunk.Duration)
		if !sleepUntil(p.ctx, next) {
			return
		}
	}
}

func sleepUntil(ctx context.Context, t time.Time) bool {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
