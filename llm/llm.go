// Package llm holds the language-model collaborators that write the
// assistant's side of a conversation.
package llm

import (
	"fmt"
	"time"

	relay "github.com/bt-bridge/voice-relay"
	"github.com/bt-bridge/voice-relay/shared"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// SystemPrompt is sent ahead of the history when set.
	SystemPrompt string
	Timeout      time.Duration
	MaxRetries   int
}

// New returns the Completer for provider.
func New(logger shared.LoggerAdapter, provider string, cfg Config) (relay.Completer, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropic(logger, cfg)
	case ProviderOpenAI:
		return NewOpenAI(logger, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", shared.ErrUnknownProvider, provider)
	}
}
