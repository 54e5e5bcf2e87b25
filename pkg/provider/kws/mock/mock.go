// Package mock provides a test double for [kws.Spotter].
package mock

import (
	"sync"

	"github.com/MrWong99/lumo/pkg/audio"
	"github.com/MrWong99/lumo/pkg/provider/kws"
)

// Spotter is a mock implementation of kws.Spotter. It fires on the FireAt-th
// Detect call after the most recent Reset (1-based). FireAt <= 0 never fires.
type Spotter struct {
	mu sync.Mutex

	// FireAt is the call number, counted from the last Reset, that returns true.
	FireAt int

	// DetectCalls counts Detect calls since the last Reset.
	DetectCalls int

	// TotalDetectCalls counts all Detect calls.
	TotalDetectCalls int

	// ResetCalls counts Reset calls.
	ResetCalls int
}

// Detect records the call and fires on the configured call number.
func (s *Spotter) Detect(audio.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DetectCalls++
	s.TotalDetectCalls++
	return s.FireAt > 0 && s.DetectCalls == s.FireAt
}

// Reset records the call and restarts the per-reset counter.
func (s *Spotter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCalls++
	s.DetectCalls = 0
}

// Ensure Spotter implements kws.Spotter at compile time.
var _ kws.Spotter = (*Spotter)(nil)
