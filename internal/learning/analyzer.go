// Package learning turns the interaction log into advice.
//
// The analyzer functions are pure: they look only at the window of records
// they are given. The [Tuner] proposes threshold changes from the same window
// but never applies them on its own; [Tuner.Apply] is the single write path
// and is meant to be driven by a human (the "lumo apply" command).
package learning

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/MrWong99/lumo/internal/interaction"
)

// UnknownIntent labels records that carry no intent.
const UnknownIntent = "unknown"

// Percent is a percentage rounded to one decimal place. It renders as
// "40.0%" both in text and in JSON.
type Percent float64

func percent(n, of int) Percent {
	if of == 0 {
		return 0
	}
	return Percent(math.Round(float64(n)/float64(of)*1000) / 10)
}

// String implements fmt.Stringer.
func (p Percent) String() string { return fmt.Sprintf("%.1f%%", float64(p)) }

// MarshalJSON renders p as its string form.
func (p Percent) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

// Priority ranks a [Recommendation].
type Priority string

// Priorities.
const (
	High   Priority = "HIGH"
	Medium Priority = "MEDIUM"
)

// ── Failure analysis ─────────────────────────────────────────────────────────

// FailurePattern is an intent that fails often enough to report.
type FailurePattern struct {
	Intent       string  `json:"intent"`
	FailureCount int     `json:"failure_count"`
	FailureRate  Percent `json:"failure_rate"`
	CommonError  string  `json:"common_error"`
}

// FailureReport is the result of [FailureAnalysis].
type FailureReport struct {
	TotalLogs     int                         `json:"total_logs"`
	TotalFailures int                         `json:"total_failures"`
	FailureRate   Percent                     `json:"failure_rate"`
	ByType        map[interaction.Outcome]int `json:"by_type"`
	Patterns      []FailurePattern            `json:"patterns"`
}

func isFailure(r interaction.Record) bool {
	return r.Outcome == interaction.Failed || r.Outcome == interaction.Cancelled
}

func intentOf(r interaction.Record) string {
	if r.Intent == "" {
		return UnknownIntent
	}
	return r.Intent
}

// FailureAnalysis groups failed and cancelled records by intent. An intent is
// reported only when its failures exceed 5% of the whole window. Every
// pattern carries the most common error across all failures.
func FailureAnalysis(logs []interaction.Record) FailureReport {
	rep := FailureReport{TotalLogs: len(logs), ByType: map[interaction.Outcome]int{}}

	var (
		order    []string
		byIntent = map[string]int{}
		errOrder []string
		errCount = map[string]int{}
	)
	for _, r := range logs {
		if !isFailure(r) {
			continue
		}
		rep.TotalFailures++
		rep.ByType[r.Outcome]++

		in := intentOf(r)
		if _, seen := byIntent[in]; !seen {
			order = append(order, in)
		}
		byIntent[in]++

		if r.Error != "" {
			if _, seen := errCount[r.Error]; !seen {
				errOrder = append(errOrder, r.Error)
			}
			errCount[r.Error]++
		}
	}
	rep.FailureRate = percent(rep.TotalFailures, len(logs))

	common := "unknown"
	best := 0
	for _, e := range errOrder {
		if errCount[e] > best {
			common, best = e, errCount[e]
		}
	}

	for _, in := range order {
		n := byIntent[in]
		if float64(n)/float64(len(logs))*100 <= 5 {
			continue
		}
		rep.Patterns = append(rep.Patterns, FailurePattern{
			Intent:       in,
			FailureCount: n,
			FailureRate:  percent(n, len(logs)),
			CommonError:  common,
		})
	}
	return rep
}

// ── Success rate ─────────────────────────────────────────────────────────────

// IntentSuccess is the per-intent part of a [SuccessReport].
type IntentSuccess struct {
	Total   int     `json:"total"`
	Success int     `json:"success"`
	Rate    Percent `json:"rate"`
}

// SuccessReport is the result of [SuccessRate].
type SuccessReport struct {
	TotalLogs          int                      `json:"total_logs"`
	TotalSuccessful    int                      `json:"total_successful"`
	OverallSuccessRate Percent                  `json:"overall_success_rate"`
	ByIntent           map[string]IntentSuccess `json:"by_intent"`
}

// SuccessRate reports the share of successful records, overall and per
// intent.
func SuccessRate(logs []interaction.Record) SuccessReport {
	rep := SuccessReport{TotalLogs: len(logs), ByIntent: map[string]IntentSuccess{}}
	for _, r := range logs {
		s := rep.ByIntent[intentOf(r)]
		s.Total++
		if r.Outcome == interaction.Success {
			s.Success++
			rep.TotalSuccessful++
		}
		rep.ByIntent[intentOf(r)] = s
	}
	for in, s := range rep.ByIntent {
		s.Rate = percent(s.Success, s.Total)
		rep.ByIntent[in] = s
	}
	rep.OverallSuccessRate = percent(rep.TotalSuccessful, len(logs))
	return rep
}

// ── Wake word ────────────────────────────────────────────────────────────────

// WakeReport is the result of [WakeWordDetection].
type WakeReport struct {
	TotalLogs              int                         `json:"total_logs"`
	WakeDetections         int                         `json:"wake_detections"`
	DetectionRate          Percent                     `json:"detection_rate"`
	OutcomesAfterDetection map[interaction.Outcome]int `json:"outcomes_after_detection"`
}

// WakeWordDetection reports how many records had the wake word detected and
// how those turns ended.
func WakeWordDetection(logs []interaction.Record) WakeReport {
	rep := WakeReport{TotalLogs: len(logs), OutcomesAfterDetection: map[interaction.Outcome]int{}}
	for _, r := range logs {
		if r.WakeDetected {
			rep.WakeDetections++
			rep.OutcomesAfterDetection[r.Outcome]++
		}
	}
	rep.DetectionRate = percent(rep.WakeDetections, len(logs))
	return rep
}

// ── Confirmations ────────────────────────────────────────────────────────────

// ConfirmationReport is the result of [ConfirmationBehavior].
type ConfirmationReport struct {
	TotalConfirmations int     `json:"total_confirmations"`
	Confirmed          int     `json:"confirmed"`
	Cancelled          int     `json:"cancelled"`
	ConfirmationRate   Percent `json:"confirmation_rate"`
}

// ConfirmationIntent is the intent recorded for answers to a confirmation
// question.
const ConfirmationIntent = "confirmation"

// ConfirmationBehavior reports how users answer confirmation questions.
func ConfirmationBehavior(logs []interaction.Record) ConfirmationReport {
	var rep ConfirmationReport
	for _, r := range logs {
		if r.Intent != ConfirmationIntent {
			continue
		}
		rep.TotalConfirmations++
		if r.Confirmed == nil {
			continue
		}
		if *r.Confirmed {
			rep.Confirmed++
		} else {
			rep.Cancelled++
		}
	}
	rep.ConfirmationRate = percent(rep.Confirmed, rep.TotalConfirmations)
	return rep
}

// ── Improvement opportunities ────────────────────────────────────────────────

// Recommendation is one improvement area.
type Recommendation struct {
	Area       string   `json:"area"`
	Issue      string   `json:"issue"`
	Suggestion string   `json:"suggestion"`
	Priority   Priority `json:"priority"`
}

// Opportunities is the result of [ImprovementOpportunities].
type Opportunities struct {
	// Timestamp is the time of the newest record analyzed.
	Timestamp       time.Time        `json:"timestamp"`
	LogsAnalyzed    int              `json:"logs_analyzed"`
	Recommendations []Recommendation `json:"recommendations"`
}

// ImprovementOpportunities derives recommendations from the wake rate, the
// overall success rate and the failure patterns. An empty window yields none.
func ImprovementOpportunities(logs []interaction.Record) Opportunities {
	op := Opportunities{LogsAnalyzed: len(logs)}
	if len(logs) == 0 {
		return op
	}
	op.Timestamp = logs[len(logs)-1].Timestamp

	wake := WakeWordDetection(logs)
	if wake.DetectionRate < 80 {
		op.Recommendations = append(op.Recommendations, Recommendation{
			Area:       "Wake Word Detection",
			Issue:      fmt.Sprintf("Only %s detection rate", wake.DetectionRate),
			Suggestion: "Increase KWS threshold sensitivity or tune RMS pattern matching",
			Priority:   pick(wake.DetectionRate < 50),
		})
	}

	success := SuccessRate(logs)
	if success.OverallSuccessRate < 85 {
		op.Recommendations = append(op.Recommendations, Recommendation{
			Area:       "Overall Success Rate",
			Issue:      fmt.Sprintf("Only %s success rate", success.OverallSuccessRate),
			Suggestion: "Review failure patterns by intent and adjust corresponding thresholds",
			Priority:   pick(success.OverallSuccessRate < 70),
		})
	}

	for _, p := range FailureAnalysis(logs).Patterns {
		if p.FailureRate <= 10 {
			continue
		}
		op.Recommendations = append(op.Recommendations, Recommendation{
			Area:       p.Intent + " Intent",
			Issue:      fmt.Sprintf("%s failure rate", p.FailureRate),
			Suggestion: fmt.Sprintf("Debug %s intent handling. Common error: %s", p.Intent, p.CommonError),
			Priority:   Medium,
		})
	}
	return op
}

func pick(high bool) Priority {
	if high {
		return High
	}
	return Medium
}
