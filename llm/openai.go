package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	relay "github.com/bt-bridge/voice-relay"
	"github.com/bt-bridge/voice-relay/shared"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"go.uber.org/zap"
)

const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAI completes conversations with the chat completions API.
type OpenAI struct {
	logger  shared.LoggerAdapter
	client  openai.Client
	model   string
	system  string
	timeout time.Duration
}

var _ relay.Completer = (*OpenAI)(nil)

func NewOpenAI(logger shared.LoggerAdapter, cfg Config) (*OpenAI, error) {
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
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(strings.TrimSuffix(base.String(), "/") + "/"),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAI{
		logger:  logger.With(zap.String("component", "llm"), zap.String("provider", ProviderOpenAI)),
		client:  openai.NewClient(opts...),
		model:   model,
		system:  cfg.SystemPrompt,
		timeout: cfg.Timeout,
	}, nil
}

func (o *OpenAI) Complete(ctx context.Context, history []relay.Turn, maxTokens int) (string, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if o.system != "" {
		messages = append(messages, openai.SystemMessage(o.system))
	}
	for _, turn := range history {
		switch turn.Role {
		case relay.RoleUser:
			messages = append(messages, openai.UserMessage(turn.Content))
		case relay.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		case relay.RoleSystem:
			messages = append(messages, openai.SystemMessage(turn.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: messages,
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(maxTokens))
	}

	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("creating chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", shared.ErrEmptyReply
	}
	reply := strings.TrimSpace(completion.Choices[0].Message.Content)
	o.logger.Debug(
		"chat completion created",
		zap.String("model", completion.Model),
		zap.Int64("completion_tokens", completion.Usage.CompletionTokens),
	)
	return reply, nil
}
