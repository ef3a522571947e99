package speech

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	relay "github.com/bt-bridge/voice-relay"
	"github.com/bt-bridge/voice-relay/shared"
	"github.com/bt-bridge/voice-relay/tools"
	"github.com/bytedance/sonic"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpenAITranscriber_Validation(t *testing.T) {
	_, err := NewOpenAITranscriber(nil, TranscriberConfig{APIKey: "k"})
	assert.ErrorIs(t, err, shared.ErrNoLogger)

	_, err = NewOpenAITranscriber(shared.NewNopLogger(), TranscriberConfig{})
	assert.ErrorIs(t, err, shared.ErrNoAPIKey)

	_, err = NewOpenAITranscriber(shared.NewNopLogger(), TranscriberConfig{APIKey: "k", BaseURL: "not a url"})
	assert.Error(t, err)
}

func TestOpenAITranscriber_Transcribe(t *testing.T) {
	audio := []byte("OggS-fake-utterance")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "de", r.FormValue("language"))

		f, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "utterance.ogg", header.Filename)
		got, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, audio, got)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  hello there \n"}`))
	}))
	defer srv.Close()

	tr, err := NewOpenAITranscriber(shared.NewNopLogger(), TranscriberConfig{
		APIKey:   "sk-test",
		BaseURL:  srv.URL + "/v1",
		Language: "de",
	})
	require.NoError(t, err)

	text, err := tr.Transcribe(context.Background(), audio)
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
}

func TestOpenAITranscriber_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		is     error
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"boom"}`, is: shared.ErrUnexpectedStatus},
		{name: "bad json", status: http.StatusOK, body: `{"text":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			tr, err := NewOpenAITranscriber(shared.NewNopLogger(), TranscriberConfig{APIKey: "k", BaseURL: srv.URL})
			require.NoError(t, err)

			_, err = tr.Transcribe(context.Background(), []byte("x"))
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestOpenAITranscriber_RespectsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	tr, err := NewOpenAITranscriber(shared.NewNopLogger(), TranscriberConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = tr.Transcribe(ctx, []byte("x"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func oggSpeech(t *testing.T, frames int) []byte {
	t.Helper()
	pkts := make([]*rtp.Packet, frames)
	for i := range pkts {
		pkts[i] = &rtp.Packet{
			Header:  rtp.Header{Version: 2, SequenceNumber: uint16(i), Timestamp: uint32(960 * i)},
			Payload: []byte{0xfc, byte(i)},
		}
	}
	data, err := tools.EncodeOgg(pkts, 2)
	require.NoError(t, err)
	return data
}

func TestOpenAISynthesizer_Synthesize(t *testing.T) {
	audio := oggSpeech(t, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/speech", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var got speechRequest
		require.NoError(t, sonic.Unmarshal(raw, &got))
		assert.Equal(t, speechRequest{Model: "tts-1", Input: "hi there", Voice: "nova", ResponseFormat: "opus"}, got)

		w.Header().Set("Content-Type", "audio/ogg")
		_, _ = w.Write(audio)
	}))
	defer srv.Close()

	s, err := NewOpenAISynthesizer(shared.NewNopLogger(), SynthesizerConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/v1",
		Voice:   "nova",
	})
	require.NoError(t, err)

	seq, err := s.Synthesize(context.Background(), "hi there")
	require.NoError(t, err)

	var chunks []relay.Chunk
	for c, err := range seq {
		require.NoError(t, err)
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, []byte{0xfc, byte(i)}, c.Data)
		assert.Equal(t, 20*time.Millisecond, c.Duration)
	}
}

func TestOpenAISynthesizer_Failures(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		s, err := NewOpenAISynthesizer(shared.NewNopLogger(), SynthesizerConfig{APIKey: "k", BaseURL: srv.URL})
		require.NoError(t, err)
		_, err = s.Synthesize(context.Background(), "hi")
		assert.ErrorIs(t, err, shared.ErrUnexpectedStatus)
	})

	t.Run("corrupt audio", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("this is not ogg at all, not even close"))
		}))
		defer srv.Close()

		s, err := NewOpenAISynthesizer(shared.NewNopLogger(), SynthesizerConfig{APIKey: "k", BaseURL: srv.URL})
		require.NoError(t, err)
		seq, err := s.Synthesize(context.Background(), "hi")
		require.NoError(t, err)

		var errs int
		for c, err := range seq {
			assert.True(t, c.Empty())
			if err != nil {
				errs++
			}
		}
		assert.Equal(t, 1, errs)
	})
}
