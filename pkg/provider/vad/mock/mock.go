// Package mock provides a test double for [vad.Detector].
//
// Detector either classifies by a fixed RMS threshold or replays a scripted
// sequence of decisions:
//
//	det := &mock.Detector{Script: []bool{true, true, false}}
package mock

import (
	"sync"

	"github.com/MrWong99/lumo/pkg/audio"
	"github.com/MrWong99/lumo/pkg/provider/vad"
)

// Detector is a mock implementation of vad.Detector.
type Detector struct {
	mu sync.Mutex

	// Script, when non-empty, supplies successive results. Once exhausted,
	// Default is returned.
	Script []bool

	// Default is returned when Script is exhausted.
	Default bool

	// Calls counts IsSpeech invocations.
	Calls int
}

// IsSpeech records the call and returns the next scripted result.
func (d *Detector) IsSpeech(audio.Frame) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls++
	if len(d.Script) > 0 {
		v := d.Script[0]
		d.Script = d.Script[1:]
		return v
	}
	return d.Default
}

// Ensure Detector implements vad.Detector at compile time.
var _ vad.Detector = (*Detector)(nil)
