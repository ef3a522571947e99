package tools

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const frame = 20 * time.Millisecond

// feed pushes one packet per frame following pattern ('v' voiced, '.' quiet)
// and returns the sizes of the utterances emitted.
func feed(d *PauseDetector, pattern string, start time.Time) (sizes []int, end time.Time) {
	at := start
	for i, c := range pattern {
		pkt := &rtp.Packet{Header: rtp.Header{SequenceNumber: uint16(i)}, Payload: []byte{0xfc}}
		if u := d.Push(pkt, c == 'v', at); u != nil {
			sizes = append(sizes, len(u))
		}
		at = at.Add(frame)
	}
	return sizes, at
}

func repeat(c string, n int) string {
	out := ""
	for range n {
		out += c
	}
	return out
}

func TestPauseDetector_EndsUtteranceAfterPause(t *testing.T) {
	d := NewPauseDetector(PauseDetectorConfig{Pause: 100 * time.Millisecond, MinSpeech: 60 * time.Millisecond})

	// 10 voiced frames then 6 quiet: the 5th quiet frame is 100ms after the last voice.
	sizes, _ := feed(d, repeat("v", 10)+repeat(".", 6), time.Unix(0, 0))
	assert.Equal(t, []int{15}, sizes)
}

func TestPauseDetector_IgnoresLeadingSilenceAndBlips(t *testing.T) {
	d := NewPauseDetector(PauseDetectorConfig{Pause: 100 * time.Millisecond, MinSpeech: 100 * time.Millisecond})

	sizes, _ := feed(d, repeat(".", 20)+"vv"+repeat(".", 10), time.Unix(0, 0))
	assert.Empty(t, sizes, "a 20ms blip is shorter than the minimum speech")
}

func TestPauseDetector_ShortGapsDoNotSplit(t *testing.T) {
	d := NewPauseDetector(PauseDetectorConfig{Pause: 200 * time.Millisecond, MinSpeech: 20 * time.Millisecond})

	pattern := repeat("v", 5) + repeat(".", 3) + repeat("v", 5) + repeat(".", 12)
	sizes, _ := feed(d, pattern, time.Unix(0, 0))
	require.Len(t, sizes, 1)
	assert.Equal(t, 23, sizes[0])
}

func TestPauseDetector_MaxUtterance(t *testing.T) {
	d := NewPauseDetector(PauseDetectorConfig{MaxUtterance: 200 * time.Millisecond, MinSpeech: 20 * time.Millisecond})

	sizes, _ := feed(d, repeat("v", 25), time.Unix(0, 0))
	assert.Equal(t, []int{11, 11}, sizes)
}

func TestPauseDetector_Flush(t *testing.T) {
	d := NewPauseDetector(PauseDetectorConfig{MinSpeech: 20 * time.Millisecond})
	assert.Nil(t, d.Flush())

	_, _ = feed(d, repeat("v", 5), time.Unix(0, 0))
	assert.Len(t, d.Flush(), 5)
	assert.Nil(t, d.Flush())
}

func TestPauseDetector_Voiced(t *testing.T) {
	d := NewPauseDetector(PauseDetectorConfig{Threshold: 40})
	assert.True(t, d.Voiced(0))
	assert.True(t, d.Voiced(40))
	assert.False(t, d.Voiced(41))
	assert.False(t, d.Voiced(SilentLevel))
}

func TestAudioLevel(t *testing.T) {
	pkt := &rtp.Packet{Header: rtp.Header{Version: 2}, Payload: []byte{0xfc}}
	raw, err := (&rtp.AudioLevelExtension{Level: 33, Voice: true}).Marshal()
	require.NoError(t, err)
	require.NoError(t, pkt.Header.SetExtension(1, raw))

	level, ok := AudioLevel(pkt, 1)
	require.True(t, ok)
	assert.Equal(t, uint8(33), level)

	_, ok = AudioLevel(pkt, 2)
	assert.False(t, ok)
	_, ok = AudioLevel(pkt, 0)
	assert.False(t, ok)
}
