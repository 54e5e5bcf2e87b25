// Package kws implements keyword spotting: a cheap always-on check that gates
// the expensive transcription call behind the wake phrase.
//
// [Energy] models a two-syllable wake word as two energy lobes. It keeps a
// rolling window of per-frame RMS values and fires when both halves of the most
// recent slice contain a value above the pattern threshold. This is
// deliberately approximate; a trained classifier can implement [Spotter]
// instead without changing the collector.
package kws

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/lumo/pkg/audio"
)

// Defaults for [Energy].
const (
	DefaultPatternThreshold = 0.3
	DefaultWindow           = 32
	DefaultMinSamples       = 8
)

// Spotter detects the wake phrase in a stream of frames. Detect is stateful
// and is fed every frame in order; Reset clears accumulated state.
type Spotter interface {
	Detect(frame audio.Frame) bool
	Reset()
}

// Compile-time interface assertion.
var _ Spotter = (*Energy)(nil)

// Config holds the tunable parameters of an [Energy] spotter. Zero fields
// select the defaults.
type Config struct {
	// PatternThreshold is the RMS a lobe must exceed.
	PatternThreshold float64

	// Window is the capacity of the rolling energy history.
	Window int

	// MinSamples is both the number of samples required before detection can
	// fire and the size of the inspected slice, split evenly into two lobes.
	MinSamples int
}

func (c *Config) applyDefaults() {
	if c.PatternThreshold <= 0 {
		c.PatternThreshold = DefaultPatternThreshold
	}
	if c.MinSamples <= 1 {
		c.MinSamples = DefaultMinSamples
	}
	if c.MinSamples%2 != 0 {
		c.MinSamples++
	}
	if c.Window < c.MinSamples {
		c.Window = max(DefaultWindow, c.MinSamples)
	}
}

// Energy is the two-lobe energy [Spotter].
//
// Detect and Reset must be called from a single goroutine; SetThreshold may be
// called concurrently.
type Energy struct {
	window     int
	minSamples int
	threshold  atomic.Uint64 // math.Float64bits

	mu      sync.Mutex
	history []float64 // ring buffer
	next    int
	count   int
}

// NewEnergy returns an Energy spotter configured by cfg.
func NewEnergy(cfg Config) *Energy {
	cfg.applyDefaults()
	e := &Energy{
		window:     cfg.Window,
		minSamples: cfg.MinSamples,
		history:    make([]float64, cfg.Window),
	}
	e.SetThreshold(cfg.PatternThreshold)
	return e
}

// Detect implements [Spotter].
func (e *Energy) Detect(frame audio.Frame) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.history[e.next] = frame.RMS()
	e.next = (e.next + 1) % e.window
	if e.count < e.window {
		e.count++
	}
	if e.count < e.minSamples {
		return false
	}

	threshold := e.Threshold()
	half := e.minSamples / 2
	var first, second bool
	for i := range e.minSamples {
		// i=0 is the oldest of the inspected slice.
		idx := (e.next - e.minSamples + i + e.window) % e.window
		if e.history[idx] > threshold {
			if i < half {
				first = true
			} else {
				second = true
			}
		}
	}
	return first && second
}

// Reset implements [Spotter].
func (e *Energy) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next = 0
	e.count = 0
}

// Len returns the number of energies currently held.
func (e *Energy) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

// Threshold returns the current pattern threshold.
func (e *Energy) Threshold() float64 {
	return math.Float64frombits(e.threshold.Load())
}

// SetThreshold replaces the pattern threshold. Non-positive values select
// [DefaultPatternThreshold].
func (e *Energy) SetThreshold(threshold float64) {
	if threshold <= 0 {
		threshold = DefaultPatternThreshold
	}
	e.threshold.Store(math.Float64bits(threshold))
}
