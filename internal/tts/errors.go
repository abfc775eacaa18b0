package tts

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyText is returned when asked to synthesize blank text.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrEmptyAudio is returned when the provider answers 200 with no audio.
	ErrEmptyAudio = errors.New("provider returned no audio")

	// ErrAudioTooLarge is returned when the audio exceeds the read limit.
	ErrAudioTooLarge = errors.New("audio exceeds size limit")

	// ErrRateLimited is returned when the provider rejects the request with 429.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// SynthesisError describes why a synthesis attempt failed. It never leaves
// the Gateway; it is logged and the caller falls back to spoken text.
type SynthesisError struct {
	Provider  string
	Status    int // HTTP status, 0 when the request never completed
	Message   string
	Cause     error
	Retryable bool
}

// Error implements the error interface.
func (e *SynthesisError) Error() string {
	msg := e.Provider + ": " + e.Message
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *SynthesisError) Unwrap() error {
	return e.Cause
}
