package learning

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/lumo/internal/interaction"
)

// Suggestion is a proposed threshold change. Suggestions are advisory and
// are never persisted by the tuner.
type Suggestion struct {
	Parameter string  `json:"parameter"`
	Current   float64 `json:"current"`
	Suggested float64 `json:"suggested"`
	Reason    string  `json:"reason"`
	Impact    string  `json:"impact"`
}

// Applied describes a change made by [Tuner.Apply].
type Applied struct {
	Parameter string    `json:"parameter"`
	OldValue  float64   `json:"old_value"`
	NewValue  float64   `json:"new_value"`
	TunedAt   time.Time `json:"tuned_at"`
}

// Report is the result of [Tuner.AutoTune].
type Report struct {
	LogsAnalyzed    int           `json:"logs_analyzed"`
	Suggestions     []Suggestion  `json:"suggested_adjustments"`
	Recommendations Opportunities `json:"recommendations"`
	Status          string        `json:"status"`
}

// ReviewStatus is the status of every [Report]: nothing has been applied.
const ReviewStatus = "ready for manual review"

// roundValue trims floating-point noise from scaled thresholds.
func roundValue(v float64) float64 { return math.Round(v*1e6) / 1e6 }

// SuggestVAD proposes a silence threshold change when the wake detection rate
// is below 70% (lower by 20%) or above 95% (raise by 20%), clamped to the
// configured bounds. An empty window yields no suggestion.
func SuggestVAD(cfg ThresholdConfig, logs []interaction.Record) (Suggestion, bool) {
	if len(logs) == 0 {
		return Suggestion{}, false
	}
	rate := WakeWordDetection(logs).DetectionRate
	cur := cfg.VAD.SilenceThreshold
	switch {
	case rate < 70:
		return Suggestion{
			Parameter: ParamVADSilence,
			Current:   cur,
			Suggested: roundValue(max(cur*0.8, cfg.VAD.Min)),
			Reason:    fmt.Sprintf("Detection rate %s is below 70%%. Lowering threshold increases sensitivity.", rate),
			Impact:    "May increase false positives",
		}, true
	case rate > 95:
		return Suggestion{
			Parameter: ParamVADSilence,
			Current:   cur,
			Suggested: roundValue(min(cur*1.2, cfg.VAD.Max)),
			Reason:    fmt.Sprintf("Detection rate %s is above 95%%. Raising threshold reduces false positives.", rate),
			Impact:    "May miss some speech",
		}, true
	}
	return Suggestion{}, false
}

// SuggestKWS proposes lowering the pattern threshold by 15% when more than
// 10% of the window failed without the wake word being detected.
func SuggestKWS(cfg ThresholdConfig, logs []interaction.Record) (Suggestion, bool) {
	if len(logs) == 0 {
		return Suggestion{}, false
	}
	misses := 0
	for _, r := range logs {
		if !r.WakeDetected && r.Outcome == interaction.Failed {
			misses++
		}
	}
	rate := float64(misses) / float64(len(logs)) * 100
	if rate <= 10 {
		return Suggestion{}, false
	}
	cur := cfg.KWS.PatternThreshold
	return Suggestion{
		Parameter: ParamKWSPattern,
		Current:   cur,
		Suggested: roundValue(max(cur*0.85, cfg.KWS.Min)),
		Reason:    fmt.Sprintf("Wake word fails in %.1f%% of interactions. Lowering threshold improves detection.", rate),
		Impact:    "May increase false wake-ups",
	}, true
}

// TunerOption configures a [Tuner].
type TunerOption func(*Tuner)

// WithTunerClock injects the time source used to stamp applied changes.
func WithTunerClock(now func() time.Time) TunerOption {
	return func(t *Tuner) { t.now = now }
}

// Tuner holds the current thresholds and the path they persist to.
// It is safe for concurrent use.
type Tuner struct {
	path string
	now  func() time.Time

	mu  sync.RWMutex
	cfg ThresholdConfig
}

// NewTuner loads the thresholds at path, or the defaults when it does not
// exist.
func NewTuner(path string, opts ...TunerOption) (*Tuner, error) {
	cfg, err := LoadThresholds(path)
	if err != nil {
		return nil, err
	}
	t := &Tuner{path: path, now: time.Now, cfg: cfg}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Path returns the tuning document path.
func (t *Tuner) Path() string { return t.path }

// Current returns a copy of the thresholds in effect.
func (t *Tuner) Current() ThresholdConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg
}

// Reload re-reads the tuning document, picking up changes made by another
// process.
func (t *Tuner) Reload() (ThresholdConfig, error) {
	cfg, err := LoadThresholds(t.path)
	if err != nil {
		return t.Current(), err
	}
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()
	return cfg, nil
}

// Suggest returns the VAD and KWS suggestions for logs, in that order.
func (t *Tuner) Suggest(logs []interaction.Record) []Suggestion {
	cfg := t.Current()
	var out []Suggestion
	if s, ok := SuggestVAD(cfg, logs); ok {
		out = append(out, s)
	}
	if s, ok := SuggestKWS(cfg, logs); ok {
		out = append(out, s)
	}
	return out
}

// AutoTune bundles suggestions and recommendations for review. Despite the
// name nothing is applied.
func (t *Tuner) AutoTune(logs []interaction.Record) Report {
	return Report{
		LogsAnalyzed:    len(logs),
		Suggestions:     t.Suggest(logs),
		Recommendations: ImprovementOpportunities(logs),
		Status:          ReviewStatus,
	}
}

// Apply sets param to value after checking its bounds, persists the
// document and stamps the section's tuned_at. It is the only method that
// changes thresholds.
func (t *Tuner) Apply(param string, value float64) (Applied, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old, bounds, err := t.cfg.Get(param)
	if err != nil {
		return Applied{}, err
	}
	if math.IsNaN(value) || !bounds.Contains(value) {
		return Applied{}, fmt.Errorf("%w: %s=%g not in [%g, %g]", ErrOutOfBounds, param, value, bounds.Min, bounds.Max)
	}

	at := t.now().UTC()
	next := t.cfg
	next.set(param, value, at)
	if err := SaveThresholds(t.path, next); err != nil {
		return Applied{}, err
	}
	t.cfg = next
	return Applied{Parameter: param, OldValue: old, NewValue: value, TunedAt: at}, nil
}
