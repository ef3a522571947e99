// Package config loads the relay configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bt-bridge/voice-relay/shared"
	"github.com/goccy/go-yaml"
)

// Duration is a time.Duration written as "30m" in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(b []byte) error {
	var raw string
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("reading duration: %w", err)
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

type Config struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir,omitempty"`
	LogFile   string `yaml:"log_file,omitempty"`

	Session   SessionConfig  `yaml:"session"`
	LLM       LLMConfig      `yaml:"llm"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	Speech    SpeechConfig   `yaml:"speech"`
	VAD       VADConfig      `yaml:"vad"`
	RTC       RTCConfig      `yaml:"rtc"`
	Chat      ChatConfig     `yaml:"chat"`
}

type SessionConfig struct {
	// Timeout is how long a session may stay idle before it is evicted.
	Timeout       Duration `yaml:"timeout"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

type LLMConfig struct {
	Provider     string   `yaml:"provider"`
	Model        string   `yaml:"model,omitempty"`
	SystemPrompt string   `yaml:"system_prompt,omitempty"`
	MaxTokens    int      `yaml:"max_tokens"`
	MaxRetries   int      `yaml:"max_retries"`
	Timeout      Duration `yaml:"timeout"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
}

type SpeechConfig struct {
	TranscriptionModel string   `yaml:"transcription_model"`
	Language           string   `yaml:"language"`
	SpeechModel        string   `yaml:"speech_model"`
	Voice              string   `yaml:"voice"`
	Timeout            Duration `yaml:"timeout"`
}

type VADConfig struct {
	Threshold    uint8    `yaml:"threshold"`
	Pause        Duration `yaml:"pause"`
	MinSpeech    Duration `yaml:"min_speech"`
	MaxUtterance Duration `yaml:"max_utterance"`
}

type RTCConfig struct {
	ICEServers []string `yaml:"ice_servers"`
	// TurnQueue is how many utterances may wait for the turn worker of one peer.
	TurnQueue int `yaml:"turn_queue"`
}

type ChatConfig struct {
	// SendBuffer is the number of outbound messages a chat connection may queue.
	SendBuffer   int      `yaml:"send_buffer"`
	PingInterval Duration `yaml:"ping_interval"`
	// InboundRate limits how many inbound messages per second are logged.
	InboundRate  float64 `yaml:"inbound_rate"`
	InboundBurst int     `yaml:"inbound_burst"`
}

func Default() *Config {
	return &Config{
		Addr: ":7860",
		Session: SessionConfig{
			Timeout:       Duration(30 * time.Minute),
			SweepInterval: Duration(60 * time.Second),
		},
		LLM: LLMConfig{
			Provider:   "anthropic",
			MaxTokens:  100,
			MaxRetries: 2,
			Timeout:    Duration(30 * time.Second),
		},
		Speech: SpeechConfig{
			TranscriptionModel: "whisper-1",
			Language:           "en",
			SpeechModel:        "tts-1",
			Voice:              "alloy",
			Timeout:            Duration(30 * time.Second),
		},
		VAD: VADConfig{
			Threshold:    50,
			Pause:        Duration(800 * time.Millisecond),
			MinSpeech:    Duration(250 * time.Millisecond),
			MaxUtterance: Duration(30 * time.Second),
		},
		RTC: RTCConfig{
			ICEServers: []string{"stun:stun.l.google.com:19302"},
			TurnQueue:  4,
		},
		Chat: ChatConfig{
			SendBuffer:   64,
			PingInterval: Duration(30 * time.Second),
			InboundRate:  5,
			InboundBurst: 10,
		},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path yields the defaults plus the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() (err error) {
	if c.Addr, err = shared.Getenv(shared.GetenvString, "VOICE_RELAY_ADDR", false, c.Addr); err != nil {
		return err
	}
	if c.StaticDir, err = shared.Getenv(shared.GetenvString, "VOICE_RELAY_STATIC_DIR", false, c.StaticDir); err != nil {
		return err
	}
	if c.LogFile, err = shared.Getenv(shared.GetenvString, "VOICE_RELAY_LOG_FILE", false, c.LogFile); err != nil {
		return err
	}
	if c.LLM.Provider, err = shared.Getenv(shared.GetenvString, "VOICE_RELAY_LLM_PROVIDER", false, c.LLM.Provider); err != nil {
		return err
	}
	if c.OpenAI.APIKey, err = shared.Getenv(shared.GetenvString, "OPENAI_API_KEY", false, c.OpenAI.APIKey); err != nil {
		return err
	}
	if c.OpenAI.BaseURL, err = shared.Getenv(shared.GetenvString, "OPENAI_BASE_URL", false, c.OpenAI.BaseURL); err != nil {
		return err
	}
	if c.Anthropic.APIKey, err = shared.Getenv(shared.GetenvString, "ANTHROPIC_API_KEY", false, c.Anthropic.APIKey); err != nil {
		return err
	}
	timeout, err := shared.Getenv(shared.GetenvDuration, "VOICE_RELAY_SESSION_TIMEOUT", false, c.Session.Timeout.Std())
	if err != nil {
		return err
	}
	c.Session.Timeout = Duration(timeout)
	return nil
}

var (
	ErrNoAddr          = errors.New("addr is required")
	ErrNoOpenAIKey     = errors.New("openai api_key is required for speech")
	ErrNoAnthropicKey  = errors.New("anthropic api_key is required by the anthropic provider")
	ErrBadSessionTimes = errors.New("session timeout and sweep_interval must be positive")
)

// Validate reports the first setting the relay cannot start with.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return ErrNoAddr
	case c.Session.Timeout <= 0 || c.Session.SweepInterval <= 0:
		return ErrBadSessionTimes
	case c.OpenAI.APIKey == "":
		return ErrNoOpenAIKey
	}
	switch c.LLM.Provider {
	case "anthropic":
		if c.Anthropic.APIKey == "" {
			return ErrNoAnthropicKey
		}
	case "openai":
	default:
		return fmt.Errorf("%w: %q", shared.ErrUnknownProvider, c.LLM.Provider)
	}
	if c.RTC.TurnQueue <= 0 {
		return fmt.Errorf("rtc turn_queue must be positive, got %d", c.RTC.TurnQueue)
	}
	if c.Chat.SendBuffer <= 0 {
		return fmt.Errorf("chat send_buffer must be positive, got %d", c.Chat.SendBuffer)
	}
	return nil
}

// YAML renders c with API keys masked.
func (c *Config) YAML() ([]byte, error) {
	masked := *c
	masked.OpenAI.APIKey = mask(c.OpenAI.APIKey)
	masked.Anthropic.APIKey = mask(c.Anthropic.APIKey)
	return yaml.Marshal(&masked)
}

func mask(key string) string {
	if len(key) <= 8 {
		if key == "" {
			return ""
		}
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
