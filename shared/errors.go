package shared

import "errors"

var (
	ErrNoLogger            = errors.New("no logger provided")
	ErrNoConfig            = errors.New("no config provided")
	ErrNoAPIKey            = errors.New("no API key provided")
	ErrNoRegistry          = errors.New("no session registry provided")
	ErrNoStore             = errors.New("no conversation store provided")
	ErrNoNotifier          = errors.New("no notifier provided")
	ErrNoTranscriber       = errors.New("no transcriber provided")
	ErrNoCompleter         = errors.New("no completer provided")
	ErrNoSynthesizer       = errors.New("no synthesizer provided")
	ErrNoTurnHandler       = errors.New("no turn handler provided")
	ErrNoPeers             = errors.New("no peer set provided")
	ErrNoSession           = errors.New("no session to attribute audio to")
	ErrChannelClosed       = errors.New("notification channel closed")
	ErrChannelFull         = errors.New("notification channel buffer full")
	ErrUnexpectedStatus    = errors.New("unexpected status code")
	ErrEmptyReply          = errors.New("language model returned an empty reply")
	ErrUnknownProvider     = errors.New("unknown language model provider")
	ErrPeerClosed          = errors.New("peer connection closed")
	ErrAgentAlreadyRunning = errors.New("agent already running")
)
