// Package vad classifies audio frames as speech or silence.
//
// [Energy] is the built-in detector: a frame is speech when its RMS energy
// strictly exceeds the silence threshold. It is a placeholder for a trained
// model; anything implementing [Detector] can replace it without touching the
// collector or the turn loop.
//
// Detectors are synchronous and must not block: IsSpeech is called once per
// frame on the turn loop's goroutine.
package vad

import (
	"math"
	"sync/atomic"

	"github.com/MrWong99/lumo/pkg/audio"
)

// DefaultSilenceThreshold is the RMS level at or below which a frame counts as
// silence.
const DefaultSilenceThreshold = 0.01

// Detector reports whether a single frame contains speech.
type Detector interface {
	IsSpeech(frame audio.Frame) bool
}

// Compile-time interface assertion.
var _ Detector = (*Energy)(nil)

// Energy is an RMS-threshold [Detector]. The threshold can be swapped at any
// time (for example after a human applies a tuning suggestion) and takes effect
// on the next frame.
//
// Energy is safe for concurrent use.
type Energy struct {
	threshold atomic.Uint64 // math.Float64bits
}

// NewEnergy returns an Energy detector with the given silence threshold.
// A non-positive threshold selects [DefaultSilenceThreshold].
func NewEnergy(threshold float64) *Energy {
	e := &Energy{}
	e.SetThreshold(threshold)
	return e
}

// IsSpeech implements [Detector]. An all-zero or empty frame is never speech.
func (e *Energy) IsSpeech(frame audio.Frame) bool {
	return frame.RMS() > e.Threshold()
}

// Threshold returns the current silence threshold.
func (e *Energy) Threshold() float64 {
	return math.Float64frombits(e.threshold.Load())
}

// SetThreshold replaces the silence threshold.
func (e *Energy) SetThreshold(threshold float64) {
	if threshold <= 0 {
		threshold = DefaultSilenceThreshold
	}
	e.threshold.Store(math.Float64bits(threshold))
}
