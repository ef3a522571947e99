package tools

import "time"

// OpusClockRate is the RTP clock and Ogg granule rate of Opus, whatever the
// encoder's input rate.
const OpusClockRate = 48000

// DefaultFrameDuration is assumed for a frame whose length cannot be derived.
const DefaultFrameDuration = 20 * time.Millisecond

var (
	silkFrames = [4]time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond}
	celtFrames = [4]time.Duration{2500 * time.Microsecond, 5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond}
)

// OpusPacketDuration reads the audio length of an Opus packet from its TOC
// byte (RFC 6716, section 3.1). Packets too short to tell get
// DefaultFrameDuration.
func OpusPacketDuration(packet []byte) time.Duration {
	if len(packet) == 0 {
		return DefaultFrameDuration
	}
	config := packet[0] >> 3
	var frame time.Duration
	switch {
	case config < 12:
		frame = silkFrames[config%4]
	case config < 16:
		frame = 10 * time.Millisecond << (config % 2)
	default:
		frame = celtFrames[config%4]
	}
	frames := 1
	switch packet[0] & 0x03 {
	case 1, 2:
		frames = 2
	case 3:
		if len(packet) < 2 || packet[1]&0x3f == 0 {
			return DefaultFrameDuration
		}
		frames = int(packet[1] & 0x3f)
	}
	return frame * time.Duration(frames)
}
