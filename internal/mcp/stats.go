package mcp

import (
	"slices"
	"sync"
)

// defaultWindowSize is the capacity of each tool's rolling window.
const defaultWindowSize = 100

// ToolStats is the recent call history of one tool.
type ToolStats struct {
	Name      string  `json:"name"`
	Server    string  `json:"server"`
	Calls     int     `json:"calls"`
	P50Ms     int64   `json:"p50_ms"`
	P99Ms     int64   `json:"p99_ms"`
	ErrorRate float64 `json:"error_rate"`
}

type sample struct {
	ms     int64
	failed bool
}

// rollingWindow keeps the last size call samples in a ring buffer.
// All methods are safe for concurrent use.
type rollingWindow struct {
	mu      sync.Mutex
	samples []sample
	pos     int
	count   int
}

func newRollingWindow(size int) *rollingWindow {
	if size <= 0 {
		size = defaultWindowSize
	}
	return &rollingWindow{samples: make([]sample, size)}
}

// Record adds one call, overwriting the oldest once the ring is full.
func (w *rollingWindow) Record(ms int64, failed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.pos] = sample{ms: ms, failed: failed}
	w.pos = (w.pos + 1) % len(w.samples)
	w.count++
}

func (w *rollingWindow) window() []sample {
	if w.count >= len(w.samples) {
		return w.samples
	}
	return w.samples[:w.count]
}

// snapshot fills the latency and error fields of s.
func (w *rollingWindow) snapshot(s *ToolStats) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s.Calls = w.count
	win := w.window()
	if len(win) == 0 {
		return
	}
	lat := make([]int64, len(win))
	failed := 0
	for i, smp := range win {
		lat[i] = smp.ms
		if smp.failed {
			failed++
		}
	}
	slices.Sort(lat)
	s.P50Ms = lat[len(lat)/2]
	s.P99Ms = lat[int(float64(len(lat)-1)*0.99)]
	s.ErrorRate = float64(failed) / float64(len(win))
}
