// # Voice relay
//
// Package relay is the coordination core of a voice-chat relay. Audio utterances arriving on a
// real-time transport are transcribed, answered by a language model with the session's full
// history, synthesized back to audio, and every textual turn is mirrored to the caller's
// companion live-chat channel.
//
// The package owns the per-session state shared between transport goroutines and chat
// connections: the session [Registry], the [ConversationStore], the [Notifier] fan-out, the
// [SessionContext] that attributes audio to a session, the [TurnProcessor] and the [Sweeper]
// that evicts idle sessions.
package relay
