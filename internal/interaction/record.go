// Package interaction records every turn of the assistant as an append-only
// log. The log is the input of the learning package; records are written once
// and never changed.
package interaction

import (
	"context"
	"time"
)

// Outcome is how a turn ended.
type Outcome string

// Outcomes.
const (
	Success   Outcome = "success"
	Failed    Outcome = "failed"
	Cancelled Outcome = "cancelled"
	Pending   Outcome = "pending"
)

// Record is one logged turn.
type Record struct {
	Timestamp    time.Time `json:"timestamp"`
	TurnID       string    `json:"turn_id,omitempty"`
	WakeDetected bool      `json:"wake_detected"`
	Transcript   string    `json:"transcript"`
	Intent       string    `json:"intent,omitempty"`
	Action       string    `json:"action,omitempty"`

	// Confirmed is nil when no confirmation was involved.
	Confirmed *bool   `json:"confirmed,omitempty"`
	Outcome   Outcome `json:"outcome"`
	Error     string  `json:"error,omitempty"`
}

// Bool returns a pointer to v, for [Record.Confirmed].
func Bool(v bool) *bool { return &v }

// Store persists records. Implementations must be safe for concurrent use.
type Store interface {
	// Append writes rec after every previously appended record.
	Append(ctx context.Context, rec Record) error

	// Recent returns the last n records, oldest first. n <= 0 returns all.
	Recent(ctx context.Context, n int) ([]Record, error)
}

// Stats summarizes a set of records.
type Stats struct {
	TotalInteractions int `json:"total_interactions"`
	WakeDetections    int `json:"wake_word_detections"`
	SuccessfulActions int `json:"successful_actions"`
	FailedActions     int `json:"failed_actions"`
	CancelledActions  int `json:"cancelled_actions"`

	// SuccessRate is successes as a percentage of finished turns (success,
	// failed or cancelled). Zero when nothing has finished.
	SuccessRate float64 `json:"success_rate"`
}

// Summarize computes [Stats] over recs.
func Summarize(recs []Record) Stats {
	var s Stats
	for _, r := range recs {
		s.TotalInteractions++
		if r.WakeDetected {
			s.WakeDetections++
		}
		switch r.Outcome {
		case Success:
			s.SuccessfulActions++
		case Failed:
			s.FailedActions++
		case Cancelled:
			s.CancelledActions++
		}
	}
	if done := s.SuccessfulActions + s.FailedActions + s.CancelledActions; done > 0 {
		s.SuccessRate = float64(s.SuccessfulActions) / float64(done) * 100
	}
	return s
}

// Tail returns the last n records of recs; n <= 0 returns recs unchanged.
func Tail(recs []Record, n int) []Record {
	if n <= 0 || n >= len(recs) {
		return recs
	}
	return recs[len(recs)-n:]
}
