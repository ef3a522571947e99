package tools

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

const (
	oggPageHeaderLen = 27
	// oggContinuedPacket marks a page whose first packet started on the previous page.
	oggContinuedPacket = 0x01
	// A lacing value below the maximum ends a packet.
	oggMaxLacing = 255
)

var opusTagsSignature = []byte("OpusTags")

// OggPacket is one Opus packet of an Ogg Opus stream and the audio time it covers.
type OggPacket struct {
	Payload  []byte
	Duration time.Duration
}

// EncodeOgg muxes the Opus payloads of packets into an in-memory Ogg Opus stream.
func EncodeOgg(packets []*rtp.Packet, channels uint16) ([]byte, error) {
	buf := new(bytes.Buffer)
	w, err := oggwriter.NewWith(buf, OpusClockRate, channels)
	if err != nil {
		return nil, fmt.Errorf("creating ogg writer: %w", err)
	}
	for _, pkt := range packets {
		if err := w.WriteRTP(pkt); err != nil {
			return nil, fmt.Errorf("writing rtp packet to ogg: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing ogg writer: %w", err)
	}
	return buf.Bytes(), nil
}

// pageRecorder keeps the raw bytes of the page being parsed, so the lacing
// values oggreader does not expose can be read back.
type pageRecorder struct {
	r   io.Reader
	raw []byte
}

func (p *pageRecorder) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.raw = append(p.raw, b[:n]...)
	return n, err
}

// lacing returns the segment table of the last recorded page.
func (p *pageRecorder) lacing() ([]byte, byte, error) {
	if len(p.raw) < oggPageHeaderLen {
		return nil, 0, errors.New("short ogg page header")
	}
	end := oggPageHeaderLen + int(p.raw[oggPageHeaderLen-1])
	if len(p.raw) < end {
		return nil, 0, errors.New("short ogg segment table")
	}
	return p.raw[oggPageHeaderLen:end], p.raw[5], nil
}

// OggPackets reads an Ogg Opus stream packet by packet, splitting pages on
// their lacing values and joining packets continued across pages. The
// OpusHead and OpusTags headers and empty packets are skipped. Durations come
// from each packet's TOC byte.
func OggPackets(r io.Reader) iter.Seq2[OggPacket, error] {
	return func(yield func(OggPacket, error) bool) {
		rec := &pageRecorder{r: r}
		reader, _, err := oggreader.NewWith(rec)
		if err != nil {
			yield(OggPacket{}, fmt.Errorf("reading ogg header: %w", err))
			return
		}
		var partial []byte
		for {
			rec.raw = rec.raw[:0]
			payload, _, err := reader.ParseNextPage()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(OggPacket{}, fmt.Errorf("parsing ogg page: %w", err))
				return
			}
			lacing, headerType, err := rec.lacing()
			if err != nil {
				yield(OggPacket{}, fmt.Errorf("parsing ogg page: %w", err))
				return
			}
			if headerType&oggContinuedPacket == 0 {
				partial = nil
			}
			off := 0
			for _, size := range lacing {
				partial = append(partial, payload[off:off+int(size)]...)
				off += int(size)
				if size == oggMaxLacing {
					continue
				}
				packet := partial
				partial = nil
				if len(packet) == 0 || bytes.HasPrefix(packet, opusTagsSignature) {
					continue
				}
				if !yield(OggPacket{Payload: packet, Duration: OpusPacketDuration(packet)}, nil) {
					return
				}
			}
		}
	}
}
