package relay

import (
	"context"
	"iter"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type MessageType string

const (
	// MessageTypeText is a chat bubble.
	MessageTypeText MessageType = "text"
	// MessageTypeInfo is a system banner.
	MessageTypeInfo MessageType = "info"
	// MessageTypeErrorInternal is an error banner that clients keep out of the chat log.
	MessageTypeErrorInternal MessageType = "error_internal"
)

// Close codes and reasons used when the relay closes a chat channel.
const (
	CloseNormalClosure = 1000

	CloseReasonReplaced = "replaced"
	CloseReasonExpired  = "session expired"
)

// User-facing notification contents.
const (
	WelcomeMessage   = "Connected to voice agent. Your conversation will appear here."
	TurnErrorMessage = "Sorry, there was an error processing your request. Please try again."
)

// Turn is one entry of a session's conversation history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Message is a notification pushed to a session's live-chat channel.
type Message struct {
	Role    Role        `json:"role"`
	Content string      `json:"content"`
	Type    MessageType `json:"type"`
}

func TextMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, Type: MessageTypeText}
}

func InfoMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, Type: MessageTypeInfo}
}

func ErrorMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, Type: MessageTypeErrorInternal}
}

// Chunk is one unit of outbound audio. A chunk with no Data is the empty output
// that ends a turn which produced no speech.
type Chunk struct {
	Data     []byte
	Duration time.Duration
}

func (c Chunk) Empty() bool {
	return len(c.Data) == 0
}

// Transcriber turns one utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Completer produces the assistant reply for a conversation history.
type Completer interface {
	Complete(ctx context.Context, history []Turn, maxTokens int) (string, error)
}

// Synthesizer turns text into a lazy, finite, forward-only sequence of audio chunks.
// A non-nil error in the sequence ends it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (iter.Seq2[Chunk, error], error)
}
