package tools

import (
	"time"

	"github.com/pion/rtp"
)

// AudioLevelURI is the RTP header extension carrying the client's voice level
// (RFC 6464). Browsers send it by default.
const AudioLevelURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

// SilentLevel is the audio level (-dBov) of digital silence.
const SilentLevel uint8 = 127

// AudioLevel extracts the RFC 6464 level from pkt. Lower values are louder.
func AudioLevel(pkt *rtp.Packet, extensionID uint8) (uint8, bool) {
	if pkt == nil || extensionID == 0 {
		return 0, false
	}
	raw := pkt.GetExtension(extensionID)
	if len(raw) == 0 {
		return 0, false
	}
	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(raw); err != nil {
		return 0, false
	}
	return ext.Level, true
}

type PauseDetectorConfig struct {
	// Threshold is in -dBov; packets at or below it count as speech.
	Threshold uint8
	// Pause is how long the caller must stay quiet to end an utterance.
	Pause time.Duration
	// MinSpeech discards utterances with less voiced audio than this.
	MinSpeech time.Duration
	// MaxUtterance force-ends an utterance that runs this long.
	MaxUtterance time.Duration
}

// PauseDetector groups inbound RTP packets into utterances delimited by pauses.
// It is not safe for concurrent use; one detector serves one track reader.
type PauseDetector struct {
	cfg PauseDetectorConfig

	speaking  bool
	startedAt time.Time
	lastVoice time.Time
	packets   []*rtp.Packet
}

func NewPauseDetector(cfg PauseDetectorConfig) *PauseDetector {
	if cfg.Threshold == 0 {
		cfg.Threshold = 50
	}
	if cfg.Pause <= 0 {
		cfg.Pause = 800 * time.Millisecond
	}
	if cfg.MinSpeech <= 0 {
		cfg.MinSpeech = 250 * time.Millisecond
	}
	if cfg.MaxUtterance <= 0 {
		cfg.MaxUtterance = 30 * time.Second
	}
	return &PauseDetector{cfg: cfg}
}

// Push feeds one packet, whether it carries speech, and its arrival time. It
// returns the packets of an utterance when this packet completes one.
func (d *PauseDetector) Push(pkt *rtp.Packet, voiced bool, at time.Time) []*rtp.Packet {
	if !d.speaking {
		if !voiced {
			return nil
		}
		d.speaking = true
		d.startedAt = at
		d.lastVoice = at
		d.packets = append(d.packets[:0], pkt.Clone())
		return nil
	}

	d.packets = append(d.packets, pkt.Clone())
	if voiced {
		d.lastVoice = at
		if at.Sub(d.startedAt) >= d.cfg.MaxUtterance {
			return d.finish()
		}
		return nil
	}
	if at.Sub(d.lastVoice) >= d.cfg.Pause {
		return d.finish()
	}
	return nil
}

// Voiced reports whether a packet at level counts as speech.
func (d *PauseDetector) Voiced(level uint8) bool {
	return level <= d.cfg.Threshold
}

// Flush ends the current utterance, if any, e.g. when the track closes.
func (d *PauseDetector) Flush() []*rtp.Packet {
	if !d.speaking {
		return nil
	}
	return d.finish()
}

func (d *PauseDetector) finish() []*rtp.Packet {
	utterance := d.packets
	voicedFor := d.lastVoice.Sub(d.startedAt)
	d.speaking = false
	d.packets = nil
	if voicedFor < d.cfg.MinSpeech {
		return nil
	}
	return utterance
}
