package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	relay "github.com/bt-bridge/voice-relay"
	"github.com/bt-bridge/voice-relay/shared"
	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	DefaultAnthropicModel = "claude-3-5-sonnet-20241022"
	AnthropicVersion      = "2023-06-01"
)

// Anthropic completes conversations with the Messages API.
type Anthropic struct {
	logger   shared.LoggerAdapter
	client   *fasthttp.Client
	endpoint string
	apiKey   string
	model    string
	system   string
	timeout  time.Duration
}

var _ relay.Completer = (*Anthropic)(nil)

func NewAnthropic(logger shared.LoggerAdapter, cfg Config) (*Anthropic, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if cfg.APIKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	base, err := shared.ParseBaseURL(cfg.BaseURL, shared.AnthropicBaseURL)
	if err != nil {
		return nil, err
	}
	a := &Anthropic{
		logger:   logger.With(zap.String("component", "llm"), zap.String("provider", ProviderAnthropic)),
		client:   shared.NewHTTPClient(),
		endpoint: base.JoinPath("v1", "messages").String(),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		system:   cfg.SystemPrompt,
		timeout:  cfg.Timeout,
	}
	if a.model == "" {
		a.model = DefaultAnthropicModel
	}
	return a, nil
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// messages maps history onto the Messages API: system turns move into the
// system prompt and consecutive turns of one role are merged, since the API
// wants strictly alternating roles.
func (a *Anthropic) messages(history []relay.Turn) (string, []anthropicMessage) {
	system := a.system
	out := make([]anthropicMessage, 0, len(history))
	for _, turn := range history {
		if turn.Role == relay.RoleSystem {
			system = strings.TrimSpace(system + "\n" + turn.Content)
			continue
		}
		role := string(turn.Role)
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n" + turn.Content
			continue
		}
		out = append(out, anthropicMessage{Role: role, Content: turn.Content})
	}
	return system, out
}

func (a *Anthropic) Complete(ctx context.Context, history []relay.Turn, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = relay.DefaultMaxTokens
	}
	system, messages := a.messages(history)
	payload, err := sonic.Marshal(anthropicRequest{
		Model:     a.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  messages,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling messages request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(a.endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", AnthropicVersion)
	req.Header.SetContentType("application/json")
	req.SetBody(payload)

	resp, err := shared.Do(ctx, a.client, req, a.timeout)
	if err != nil {
		return "", fmt.Errorf("creating message: %w", err)
	}
	if err := shared.CheckStatus(resp, fasthttp.StatusOK); err != nil {
		return "", fmt.Errorf("creating message: %w", err)
	}

	var out anthropicResponse
	if err := sonic.Unmarshal(resp.Body, &out); err != nil {
		return "", fmt.Errorf("decoding message: %w", err)
	}
	var reply strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			reply.WriteString(block.Text)
		}
	}
	a.logger.Debug(
		"message created",
		zap.String("stop_reason", out.StopReason),
		zap.Int("input_tokens", out.Usage.InputTokens),
		zap.Int("output_tokens", out.Usage.OutputTokens),
	)
	return strings.TrimSpace(reply.String()), nil
}
