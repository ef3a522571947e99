package relay

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/bt-bridge/voice-relay/metrics"
	"github.com/bt-bridge/voice-relay/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultMaxTokens = 100

type TurnProcessorConfig struct {
	Registry    *Registry
	Store       *ConversationStore
	Notifier    *Notifier
	Sessions    *SessionContext
	Transcriber Transcriber
	Completer   Completer
	Synthesizer Synthesizer
	// MaxTokens bounds the reply length. Zero means DefaultMaxTokens.
	MaxTokens int
}

// TurnProcessor runs one audio turn: transcribe, mirror, ask the model, mirror,
// synthesize.
type TurnProcessor struct {
	logger    shared.LoggerAdapter
	registry  *Registry
	store     *ConversationStore
	notifier  *Notifier
	sessions  *SessionContext
	stt       Transcriber
	llm       Completer
	tts       Synthesizer
	maxTokens int
}

func NewTurnProcessor(logger shared.LoggerAdapter, cfg TurnProcessorConfig) (*TurnProcessor, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	switch {
	case cfg.Registry == nil:
		return nil, shared.ErrNoRegistry
	case cfg.Store == nil:
		return nil, shared.ErrNoStore
	case cfg.Notifier == nil:
		return nil, shared.ErrNoNotifier
	case cfg.Transcriber == nil:
		return nil, shared.ErrNoTranscriber
	case cfg.Completer == nil:
		return nil, shared.ErrNoCompleter
	case cfg.Synthesizer == nil:
		return nil, shared.ErrNoSynthesizer
	}
	sessions := cfg.Sessions
	if sessions == nil {
		sessions = NewSessionContext(cfg.Registry)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &TurnProcessor{
		logger:    logger,
		registry:  cfg.Registry,
		store:     cfg.Store,
		notifier:  cfg.Notifier,
		sessions:  sessions,
		stt:       cfg.Transcriber,
		llm:       cfg.Completer,
		tts:       cfg.Synthesizer,
		maxTokens: maxTokens,
	}, nil
}

// Process handles one utterance. The returned sequence does the work as it is
// consumed and always ends: a turn that yields no speech, or fails, produces a
// single empty chunk. Failures are reported to the session's chat channel and
// never escape the turn.
func (p *TurnProcessor) Process(ctx context.Context, audio []byte) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		start := time.Now()
		ctx := p.sessions.Bind(ctx)
		sessionID, ok := p.sessions.Current(ctx)
		logger := p.logger.With(
			zap.String("session_id", sessionID),
			zap.String("turn_id", uuid.NewString()),
		)
		if !ok {
			logger.Warn("dropping audio turn", zap.Error(shared.ErrNoSession))
			metrics.RecordTurn(metrics.OutcomeUnattributed, time.Since(start))
			yield(Chunk{})
			return
		}
		// Touched before any history is written, so that history expires with it.
		p.registry.Touch(sessionID)
		logger.Debug("processing audio turn", zap.Int("audio_bytes", len(audio)))

		outcome, err := p.run(ctx, logger, sessionID, audio, yield)
		if err != nil {
			logger.Error("audio turn failed", err)
			p.notifier.Send(sessionID, ErrorMessage(TurnErrorMessage))
			yield(Chunk{})
		}
		metrics.RecordTurn(outcome, time.Since(start))
	}
}

func (p *TurnProcessor) run(
	ctx context.Context,
	logger shared.LoggerAdapter,
	sessionID string,
	audio []byte,
	yield func(Chunk) bool,
) (string, error) {
	text, err := p.stt.Transcribe(ctx, audio)
	if err != nil {
		return metrics.OutcomeFailed, fmt.Errorf("transcribing audio: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		logger.Debug("empty transcription, skipping turn")
		yield(Chunk{})
		return metrics.OutcomeEmpty, nil
	}
	logger.Info("transcribed", zap.String("text", text))

	p.store.Append(sessionID, RoleUser, text)
	p.notifier.Send(sessionID, TextMessage(RoleUser, text))

	reply, err := p.llm.Complete(ctx, p.store.History(sessionID), p.maxTokens)
	if err != nil {
		return metrics.OutcomeFailed, fmt.Errorf("completing reply: %w", err)
	}
	if strings.TrimSpace(reply) == "" {
		return metrics.OutcomeFailed, shared.ErrEmptyReply
	}
	logger.Info("assistant replied", zap.String("text", reply))

	p.store.Append(sessionID, RoleAssistant, reply)
	p.notifier.Send(sessionID, TextMessage(RoleAssistant, reply))

	chunks, err := p.tts.Synthesize(ctx, reply)
	if err != nil {
		return metrics.OutcomeFailed, fmt.Errorf("synthesizing reply: %w", err)
	}
	sent := 0
	for chunk, err := range chunks {
		if err != nil {
			return metrics.OutcomeFailed, fmt.Errorf("streaming synthesized audio: %w", err)
		}
		sent++
		if !yield(chunk) {
			logger.Debug("audio consumer stopped early", zap.Int("chunks", sent))
			break
		}
	}
	if sent == 0 {
		return metrics.OutcomeFailed, errors.New("synthesizer produced no audio")
	}
	p.registry.Touch(sessionID)
	logger.Debug("audio turn done", zap.Int("chunks", sent))
	return metrics.OutcomeReplied, nil
}
