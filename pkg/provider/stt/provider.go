// Package stt defines the Provider interface for Speech-to-Text backends.
//
// The turn loop hands a completed [audio.Utterance] to the provider and waits
// for the transcript. An empty string with a nil error means the backend heard
// nothing intelligible; the caller treats that as an empty outcome rather than
// a failure.
//
// Implementations must be safe for concurrent use and must return promptly when
// ctx is cancelled.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/lumo/pkg/audio"
)

// ErrEmptyUtterance is returned when Transcribe is called with no audio.
var ErrEmptyUtterance = errors.New("stt: empty utterance")

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts utt to text.
	Transcribe(ctx context.Context, utt audio.Utterance) (string, error)
}
