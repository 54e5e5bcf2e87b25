package learning

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/lumo/internal/feedback"
	"github.com/MrWong99/lumo/internal/interaction"
	"github.com/MrWong99/lumo/internal/observe"
)

// Alert types raised by [CheckImprovementNeeded].
const (
	AlertHighFailureRate  = "high_failure_rate"
	AlertLowWakeDetection = "low_wake_detection"
)

// Alert is one finding of [CheckImprovementNeeded].
type Alert struct {
	Type    string  `json:"type"`
	Message string  `json:"message"`
	Action  string  `json:"action"`
	Value   Percent `json:"value"`
}

// Assessment is the result of [CheckImprovementNeeded].
type Assessment struct {
	ImprovementNeeded bool    `json:"improvement_needed"`
	Alerts            []Alert `json:"alerts"`
}

// CheckImprovementNeeded flags a failure rate above 15% and a wake detection
// rate below 75%. An empty window raises nothing.
func CheckImprovementNeeded(logs []interaction.Record) Assessment {
	var a Assessment
	if len(logs) == 0 {
		return a
	}
	if rate := FailureAnalysis(logs).FailureRate; rate > 15 {
		a.Alerts = append(a.Alerts, Alert{
			Type:    AlertHighFailureRate,
			Message: fmt.Sprintf("Failure rate %s is above 15%% threshold", rate),
			Action:  "Review failure patterns and adjust thresholds",
			Value:   rate,
		})
	}
	if rate := WakeWordDetection(logs).DetectionRate; rate < 75 {
		a.Alerts = append(a.Alerts, Alert{
			Type:    AlertLowWakeDetection,
			Message: fmt.Sprintf("Wake word detection %s is below 75%% threshold", rate),
			Action:  "Consider lowering KWS threshold",
			Value:   rate,
		})
	}
	a.ImprovementNeeded = len(a.Alerts) > 0
	return a
}

// Events converts the alerts into feedback events.
func (a Assessment) Events() []feedback.Event {
	out := make([]feedback.Event, 0, len(a.Alerts))
	for _, al := range a.Alerts {
		key := "failure_rate"
		if al.Type == AlertLowWakeDetection {
			key = "detection_rate"
		}
		out = append(out, feedback.Event{
			Event:    al.Type,
			Severity: feedback.Warning,
			Details:  map[string]any{key: float64(al.Value)},
		})
	}
	return out
}

// Scenario is what to retest after an adjustment.
type Scenario struct {
	Priority        Priority `json:"priority,omitempty"`
	FocusArea       string   `json:"focus_area,omitempty"`
	Scenario        string   `json:"scenario"`
	ExpectedOutcome string   `json:"expected_outcome,omitempty"`
	SuccessCriteria string   `json:"success_criteria,omitempty"`
}

// SuggestRetestScenario picks the first HIGH priority recommendation as the
// thing to retest.
func SuggestRetestScenario(logs []interaction.Record) Scenario {
	recs := ImprovementOpportunities(logs).Recommendations
	if len(recs) == 0 {
		return Scenario{Scenario: "No specific issues detected"}
	}
	for _, r := range recs {
		if r.Priority != High {
			continue
		}
		return Scenario{
			Priority:        High,
			FocusArea:       r.Area,
			Scenario:        fmt.Sprintf("Test %s with various inputs to verify adjustment effectiveness", r.Area),
			ExpectedOutcome: "Improved detection/success rate compared to baseline",
			SuccessCriteria: "No new failures introduced, improved metric",
		}
	}
	return Scenario{Scenario: "Standard operation - continue monitoring"}
}

// ── Monitor ──────────────────────────────────────────────────────────────────

// MonitorWindow is how many recent records a periodic check looks at.
const MonitorWindow = 100

// RecordSource reads recent interaction records. *interaction.Logger and
// every interaction.Store satisfy it.
type RecordSource interface {
	Recent(ctx context.Context, n int) ([]interaction.Record, error)
}

// Monitor runs the improvement check every N records. Alerts go to the
// feedback sink and tuning suggestions to the log; nothing is applied.
//
// Monitor is safe for concurrent use.
type Monitor struct {
	source RecordSource
	tuner  *Tuner
	sink   feedback.Sink
	every  int

	mu    sync.Mutex
	count int
}

// NewMonitor returns a Monitor reading from source. every <= 0 disables it.
func NewMonitor(source RecordSource, tuner *Tuner, sink feedback.Sink, every int) *Monitor {
	return &Monitor{source: source, tuner: tuner, sink: sink, every: every}
}

// Observe counts one record and runs [Monitor.Check] on every Nth. Its
// signature matches [interaction.WithObserver].
func (m *Monitor) Observe(ctx context.Context, _ interaction.Record) {
	if m.every <= 0 {
		return
	}
	m.mu.Lock()
	m.count++
	due := m.count%m.every == 0
	m.mu.Unlock()
	if due {
		m.Check(ctx)
	}
}

// Check analyzes the recent window now and returns the assessment.
func (m *Monitor) Check(ctx context.Context) Assessment {
	log := observe.Logger(ctx)
	logs, err := m.source.Recent(ctx, MonitorWindow)
	if err != nil {
		log.Warn("learning: improvement check skipped", "err", err)
		return Assessment{}
	}

	a := CheckImprovementNeeded(logs)
	for _, ev := range a.Events() {
		if m.sink == nil {
			break
		}
		if err := m.sink.Log(ctx, ev); err != nil {
			log.Warn("learning: failed to write feedback event", "event", ev.Event, "err", err)
		}
	}
	if m.tuner != nil {
		for _, s := range m.tuner.Suggest(logs) {
			log.Info("learning: tuning suggestion awaiting review",
				"parameter", s.Parameter, "current", s.Current, "suggested", s.Suggested, "reason", s.Reason)
		}
	}
	return a
}
