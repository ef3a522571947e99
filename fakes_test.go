package relay

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 10, 4, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// eventLog records notifications and audio chunks in the order they happen.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

type closeCall struct {
	code   int
	reason string
}

type fakeHandle struct {
	name       string
	log        *eventLog
	enqueueErr error
	closeErr   error
	// when set, Close signals closing and then waits for resume
	closing chan struct{}
	resume  chan struct{}

	mu       sync.Mutex
	payloads [][]byte
	closes   []closeCall
}

func (h *fakeHandle) Enqueue(payload []byte) error {
	if h.enqueueErr != nil {
		return h.enqueueErr
	}
	h.mu.Lock()
	h.payloads = append(h.payloads, payload)
	h.mu.Unlock()
	if h.log != nil {
		h.log.add("notify:" + h.name)
	}
	return nil
}

func (h *fakeHandle) Close(code int, reason string) error {
	h.mu.Lock()
	h.closes = append(h.closes, closeCall{code: code, reason: reason})
	h.mu.Unlock()
	if h.log != nil {
		h.log.add("close:" + h.name)
	}
	if h.closing != nil {
		close(h.closing)
		<-h.resume
	}
	return h.closeErr
}

func (h *fakeHandle) messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, 0, len(h.payloads))
	for _, p := range h.payloads {
		var m Message
		if err := sonic.Unmarshal(p, &m); err != nil {
			panic(err)
		}
		out = append(out, m)
	}
	return out
}

func (h *fakeHandle) closeCalls() []closeCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]closeCall, len(h.closes))
	copy(out, h.closes)
	return out
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(context.Context, []byte) (string, error) {
	return f.text, f.err
}

type fakeCompleter struct {
	reply string
	err   error

	mu      sync.Mutex
	history [][]Turn
}

func (f *fakeCompleter) Complete(_ context.Context, history []Turn, _ int) (string, error) {
	f.mu.Lock()
	f.history = append(f.history, history)
	f.mu.Unlock()
	return f.reply, f.err
}

type fakeSynthesizer struct {
	chunks []Chunk
	err    error
	// streamErr, when set, is yielded after failAfter chunks.
	streamErr error
	failAfter int
}

func (f *fakeSynthesizer) Synthesize(context.Context, string) (iter.Seq2[Chunk, error], error) {
	if f.err != nil {
		return nil, f.err
	}
	return func(yield func(Chunk, error) bool) {
		for i, c := range f.chunks {
			if f.streamErr != nil && i == f.failAfter {
				yield(Chunk{}, f.streamErr)
				return
			}
			if !yield(c, nil) {
				return
			}
		}
	}, nil
}

var errBoom = errors.New("boom")

func speech(n int) []Chunk {
	out := make([]Chunk, n)
	for i := range out {
		out[i] = Chunk{Data: []byte{byte(i + 1)}, Duration: 20 * time.Millisecond}
	}
	return out
}
