package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"

	relay "github.com/bt-bridge/voice-relay"
	"github.com/bt-bridge/voice-relay/config"
	"github.com/bt-bridge/voice-relay/llm"
	"github.com/bt-bridge/voice-relay/metrics"
	"github.com/bt-bridge/voice-relay/rtc"
	"github.com/bt-bridge/voice-relay/server"
	"github.com/bt-bridge/voice-relay/shared"
	"github.com/bt-bridge/voice-relay/speech"
	"github.com/bt-bridge/voice-relay/tools"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RelayAgent wires the relay together and runs the HTTP server and the session
// sweeper until it is closed.
type RelayAgent struct {
	logger  shared.LoggerAdapter
	printer *shared.Printer

	registry *relay.Registry
	store    *relay.ConversationStore
	notifier *relay.Notifier
	sweeper  *relay.Sweeper
	turns    *relay.TurnProcessor
	peers    *rtc.PeerSet
	server   *server.Server

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func (a *RelayAgent) Spawn(
	ctx context.Context,
	logger shared.LoggerAdapter,
	cfg *config.Config,
	printer *shared.Printer,
) error {
	if logger == nil {
		return shared.ErrNoLogger
	}
	if cfg == nil {
		return shared.ErrNoConfig
	}
	if printer == nil {
		return errors.New("no printer provided")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return shared.ErrAgentAlreadyRunning
	}
	a.logger = logger
	a.printer = printer
	a.logger.Info("spawning relay agent")
	if err := a.printer.Writeln("🤖 Spawning voice relay agent...\n", 0); err != nil {
		a.logger.Error("printing spawning message", err)
	}

	if err := a.printConfig(cfg); err != nil {
		return err
	}
	if err := a.build(cfg); err != nil {
		a.logger.Error("building relay", err)
		return err
	}
	metrics.Init()

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return a.server.Run(gctx)
	})
	g.Go(func() error {
		return a.sweeper.Run(gctx)
	})

	a.running = true
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.wait(g)

	if err := a.printer.Writeln(fmt.Sprintf("\n🌐 Listening on %s\n", cfg.Addr), 0); err != nil {
		a.logger.Error("printing listening message", err)
	}
	return nil
}

func (a *RelayAgent) printConfig(cfg *config.Config) error {
	if err := a.printer.Writeln("📋 Effective Config\n", 0); err != nil {
		a.logger.Error("printing config message", err)
	}
	yamlBytes, err := cfg.YAML()
	if err != nil {
		a.logger.Error("marshaling config to yaml", err)
		return err
	}
	if err := a.printer.Write(string(yamlBytes), 1); err != nil {
		a.logger.Error("printing config", err)
		return err
	}
	return nil
}

func (a *RelayAgent) build(cfg *config.Config) error {
	stt, err := speech.NewOpenAITranscriber(a.logger, speech.TranscriberConfig{
		APIKey:   cfg.OpenAI.APIKey,
		BaseURL:  cfg.OpenAI.BaseURL,
		Model:    cfg.Speech.TranscriptionModel,
		Language: cfg.Speech.Language,
		Timeout:  cfg.Speech.Timeout.Std(),
	})
	if err != nil {
		return fmt.Errorf("creating transcriber: %w", err)
	}
	tts, err := speech.NewOpenAISynthesizer(a.logger, speech.SynthesizerConfig{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.Speech.SpeechModel,
		Voice:   cfg.Speech.Voice,
		Timeout: cfg.Speech.Timeout.Std(),
	})
	if err != nil {
		return fmt.Errorf("creating synthesizer: %w", err)
	}
	provider := cfg.OpenAI
	if cfg.LLM.Provider == llm.ProviderAnthropic {
		provider = cfg.Anthropic
	}
	completer, err := llm.New(a.logger, cfg.LLM.Provider, llm.Config{
		APIKey:       provider.APIKey,
		BaseURL:      provider.BaseURL,
		Model:        cfg.LLM.Model,
		SystemPrompt: cfg.LLM.SystemPrompt,
		Timeout:      cfg.LLM.Timeout.Std(),
		MaxRetries:   cfg.LLM.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("creating completer: %w", err)
	}

	a.registry = relay.NewRegistry(nil)
	a.store = relay.NewConversationStore()
	a.notifier = relay.NewNotifier(a.logger.With(zap.String("component", "notifier")))
	a.sweeper = relay.NewSweeper(
		a.logger.With(zap.String("component", "sweeper")),
		a.registry,
		a.store,
		a.notifier,
		cfg.Session.Timeout.Std(),
		cfg.Session.SweepInterval.Std(),
	)
	a.turns, err = relay.NewTurnProcessor(a.logger.With(zap.String("component", "turn")), relay.TurnProcessorConfig{
		Registry:    a.registry,
		Store:       a.store,
		Notifier:    a.notifier,
		Sessions:    relay.NewSessionContext(a.registry),
		Transcriber: stt,
		Completer:   completer,
		Synthesizer: tts,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("creating turn processor: %w", err)
	}
	a.peers, err = rtc.NewPeerSet(a.logger, a.turns, rtc.Config{
		ICEServers: cfg.RTC.ICEServers,
		TurnQueue:  cfg.RTC.TurnQueue,
		VAD: tools.PauseDetectorConfig{
			Threshold:    cfg.VAD.Threshold,
			Pause:        cfg.VAD.Pause.Std(),
			MinSpeech:    cfg.VAD.MinSpeech.Std(),
			MaxUtterance: cfg.VAD.MaxUtterance.Std(),
		},
	})
	if err != nil {
		return fmt.Errorf("creating peer set: %w", err)
	}
	a.server, err = server.New(a.logger, server.Config{
		Addr:      cfg.Addr,
		StaticDir: cfg.StaticDir,
		Chat: server.ChatConfig{
			SendBuffer:   cfg.Chat.SendBuffer,
			PingInterval: cfg.Chat.PingInterval.Std(),
			InboundRate:  cfg.Chat.InboundRate,
			InboundBurst: cfg.Chat.InboundBurst,
		},
	}, a.registry, a.store, a.notifier, a.peers)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	return nil
}

func (a *RelayAgent) wait(g *errgroup.Group) {
	err := g.Wait()
	if cerr := a.peers.CloseAll(); cerr != nil {
		a.logger.Error("closing peers", cerr)
	}
	a.mu.Lock()
	a.err = err
	a.running = false
	done := a.done
	a.mu.Unlock()
	if err != nil {
		a.logger.Error("relay agent stopped", err)
	} else {
		a.logger.Info("relay agent stopped")
	}
	close(done)
}

// Done is closed once the agent has stopped. It is nil before Spawn.
func (a *RelayAgent) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// Err reports why the agent stopped; nil after a clean shutdown.
func (a *RelayAgent) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Close stops the server and sweeper and waits for them to exit.
func (a *RelayAgent) Close() error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return a.Err()
}
