// Package audio defines the frame types and the bounded frame queue that carry
// microphone audio from a capture source to the turn loop.
//
// The pipeline speaks a single format: mono float32 samples normalized to
// [-1, 1] at [SampleRate]. Sources that capture anything else (Discord's 48 kHz
// stereo Opus, raw PCM16 over a websocket) convert on the way in using the
// helpers in pcm.go.
//
// This package lives under pkg/ because third-party capture adapters are
// expected to implement [Source].
package audio

import (
	"math"
	"time"
)

const (
	// SampleRate is the pipeline sample rate in Hz.
	SampleRate = 16000

	// FrameSamples is the number of samples per frame. At 16 kHz this yields
	// 16 frames per second, so a 32-entry energy window spans two seconds.
	FrameSamples = 1000

	// FrameDuration is the wall-clock span of one full frame.
	FrameDuration = time.Second * FrameSamples / SampleRate
)

// Frame is one fixed-length chunk of mono audio. A Frame is immutable once
// captured and is consumed exactly once from the [Queue].
type Frame struct {
	// Samples holds normalized mono samples in [-1, 1].
	Samples []float32

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// RMS returns the root-mean-square energy of the frame. An empty frame has
// zero energy.
func (f Frame) RMS() float64 {
	return RMS(f.Samples)
}

// Duration returns the wall-clock span covered by the frame's samples.
func (f Frame) Duration() time.Duration {
	return time.Duration(len(f.Samples)) * time.Second / SampleRate
}

// RMS computes the root-mean-square of samples. Returns 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Utterance is the ordered sequence of frames captured between speech onset
// and the trailing-silence timeout. It is consumed once by transcription.
type Utterance struct {
	Frames []Frame
}

// Empty reports whether the utterance holds no frames.
func (u Utterance) Empty() bool {
	return len(u.Frames) == 0
}

// Samples concatenates all frames into a single contiguous sample slice.
func (u Utterance) Samples() []float32 {
	n := 0
	for _, f := range u.Frames {
		n += len(f.Samples)
	}
	out := make([]float32, 0, n)
	for _, f := range u.Frames {
		out = append(out, f.Samples...)
	}
	return out
}

// Duration returns the total span of audio in the utterance.
func (u Utterance) Duration() time.Duration {
	var d time.Duration
	for _, f := range u.Frames {
		d += f.Duration()
	}
	return d
}
