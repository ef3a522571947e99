package speech

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	relay "github.com/bt-bridge/voice-relay"
	"github.com/bt-bridge/voice-relay/shared"
	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	DefaultTranscriptionModel = "whisper-1"
	DefaultLanguage           = "en"
)

type TranscriberConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	// Timeout bounds one request; zero leaves it to the caller's context.
	Timeout time.Duration
	// Client overrides the shared fasthttp client.
	Client *fasthttp.Client
}

// OpenAITranscriber sends Ogg Opus utterances to the OpenAI transcription endpoint.
type OpenAITranscriber struct {
	logger   shared.LoggerAdapter
	client   *fasthttp.Client
	endpoint string
	apiKey   string
	model    string
	language string
	timeout  time.Duration
}

var _ relay.Transcriber = (*OpenAITranscriber)(nil)

func NewOpenAITranscriber(logger shared.LoggerAdapter, cfg TranscriberConfig) (*OpenAITranscriber, error) {
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
	t := &OpenAITranscriber{
		logger:   logger.With(zap.String("component", "transcriber")),
		client:   cfg.Client,
		endpoint: base.JoinPath("audio", "transcriptions").String(),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		language: cfg.Language,
		timeout:  cfg.Timeout,
	}
	if t.client == nil {
		t.client = shared.NewHTTPClient()
	}
	if t.model == "" {
		t.model = DefaultTranscriptionModel
	}
	if t.language == "" {
		t.language = DefaultLanguage
	}
	return t, nil
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	body, contentType, err := t.form(audio)
	if err != nil {
		return "", err
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(t.endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.SetContentType(contentType)
	req.SetBody(body)

	start := time.Now()
	resp, err := shared.Do(ctx, t.client, req, t.timeout)
	if err != nil {
		return "", fmt.Errorf("transcribing audio: %w", err)
	}
	if err := shared.CheckStatus(resp, fasthttp.StatusOK); err != nil {
		return "", fmt.Errorf("transcribing audio: %w", err)
	}

	var out transcriptionResponse
	if err := sonic.Unmarshal(resp.Body, &out); err != nil {
		return "", fmt.Errorf("decoding transcription: %w", err)
	}
	t.logger.Debug(
		"audio transcribed",
		zap.Int("audio_bytes", len(audio)),
		zap.Int("text_len", len(out.Text)),
		zap.Duration("took", time.Since(start)),
	)
	return strings.TrimSpace(out.Text), nil
}

func (t *OpenAITranscriber) form(audio []byte) ([]byte, string, error) {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)

	fileHeaders := textproto.MIMEHeader{}
	fileHeaders.Set("Content-Disposition", `form-data; name="file"; filename="utterance.ogg"`)
	fileHeaders.Set("Content-Type", "audio/ogg")
	filePart, err := writer.CreatePart(fileHeaders)
	if err != nil {
		return nil, "", fmt.Errorf("creating file part: %w", err)
	}
	if _, err = filePart.Write(audio); err != nil {
		return nil, "", fmt.Errorf("writing file part: %w", err)
	}

	for name, value := range map[string]string{
		"model":           t.model,
		"language":        t.language,
		"response_format": "json",
	} {
		if err := writer.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("writing %s field: %w", name, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart writer: %w", err)
	}
	return body.Bytes(), writer.FormDataContentType(), nil
}
