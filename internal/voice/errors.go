package voice

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized = errors.New("voice session not initialized")
	ErrNotConnected   = errors.New("voice channel not connected")
	ErrSessionClosed  = errors.New("voice session closed")
	ErrNoMicrophone   = errors.New("no microphone track available")
)

// NormalClosure is the close code of an orderly channel shutdown.
const NormalClosure = 1000

// TokenError means the session could not obtain its auth token and never
// reached Connected.
type TokenError struct {
	Err error
}

func (e *TokenError) Error() string { return "voice token: " + e.Err.Error() }

func (e *TokenError) Unwrap() error { return e.Err }

// ChannelError is a mid-session failure of the streaming channel. Code is
// zero when the channel failed without a close frame.
type ChannelError struct {
	Code   int
	Reason string
}

func (e *ChannelError) Error() string {
	if e.Code == 0 {
		return "voice channel: " + e.Reason
	}
	return fmt.Sprintf("voice channel closed (%d): %s", e.Code, e.Reason)
}
