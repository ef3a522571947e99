package speech

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"time"

	relay "github.com/bt-bridge/voice-relay"
	"github.com/bt-bridge/voice-relay/shared"
	"github.com/bt-bridge/voice-relay/tools"
	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	DefaultSpeechModel = "tts-1"
	DefaultVoice       = "alloy"
)

type SynthesizerConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
	Timeout time.Duration
	Client  *fasthttp.Client
}

// OpenAISynthesizer renders replies with the OpenAI speech endpoint as Ogg Opus
// and yields one chunk per Opus packet.
type OpenAISynthesizer struct {
	logger   shared.LoggerAdapter
	client   *fasthttp.Client
	endpoint string
	apiKey   string
	model    string
	voice    string
	timeout  time.Duration
}

var _ relay.Synthesizer = (*OpenAISynthesizer)(nil)

func NewOpenAISynthesizer(logger shared.LoggerAdapter, cfg SynthesizerConfig) (*OpenAISynthesizer, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if cfg.APIKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	base, err := shared.ParseBaseURL(cfg.BaseURL, shared.OpenAIBaseURL)
	if err != nil {
		return nil, err
	}
	s := &OpenAISynthesizer{
		logger:   logger.With(zap.String("component", "synthesizer")),
		client:   cfg.Client,
		endpoint: base.JoinPath("audio", "speech").String(),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		voice:    cfg.Voice,
		timeout:  cfg.Timeout,
	}
	if s.client == nil {
		s.client = shared.NewHTTPClient()
	}
	if s.model == "" {
		s.model = DefaultSpeechModel
	}
	if s.voice == "" {
		s.voice = DefaultVoice
	}
	return s, nil
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize downloads the rendered audio before returning; the returned
// sequence only demuxes it, so a failure mid-sequence means a corrupt body.
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string) (iter.Seq2[relay.Chunk, error], error) {
	payload, err := sonic.Marshal(speechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          s.voice,
		ResponseFormat: "opus",
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling speech request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(s.endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.SetContentType("application/json")
	req.SetBody(payload)

	resp, err := shared.Do(ctx, s.client, req, s.timeout)
	if err != nil {
		return nil, fmt.Errorf("synthesizing speech: %w", err)
	}
	if err := shared.CheckStatus(resp, fasthttp.StatusOK); err != nil {
		return nil, fmt.Errorf("synthesizing speech: %w", err)
	}
	s.logger.Debug("speech rendered", zap.Int("text_len", len(text)), zap.Int("audio_bytes", len(resp.Body)))

	return func(yield func(relay.Chunk, error) bool) {
		for packet, err := range tools.OggPackets(bytes.NewReader(resp.Body)) {
			if err != nil {
				yield(relay.Chunk{}, fmt.Errorf("decoding speech audio: %w", err))
				return
			}
			if !yield(relay.Chunk{Data: packet.Payload, Duration: packet.Duration}, nil) {
				return
			}
		}
	}, nil
}
