package learning

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Tunable parameter names, as accepted by [Tuner.Apply].
const (
	ParamVADSilence   = "vad.silence_threshold"
	ParamKWSPattern   = "kws.pattern_threshold"
	ParamConfirmation = "confirmation.timeout_seconds"
)

// Sentinel errors returned by [Tuner.Apply].
var (
	ErrUnknownParameter = errors.New("learning: unknown parameter")
	ErrOutOfBounds      = errors.New("learning: value out of bounds")
)

// Bounds is the metadata every tunable section carries.
type Bounds struct {
	Description string     `json:"description,omitempty"`
	Min         float64    `json:"min"`
	Max         float64    `json:"max"`
	TunedAt     *time.Time `json:"tuned_at"`
}

// Contains reports whether v lies within [Min, Max].
func (b Bounds) Contains(v float64) bool { return v >= b.Min && v <= b.Max }

// VADSection holds the activity-detector threshold.
type VADSection struct {
	SilenceThreshold float64 `json:"silence_threshold"`
	Bounds
}

// KWSSection holds the wake-detector threshold.
type KWSSection struct {
	PatternThreshold float64 `json:"pattern_threshold"`
	Bounds
}

// ConfirmationSection holds the confirmation timeout.
type ConfirmationSection struct {
	TimeoutSeconds float64 `json:"timeout_seconds"`
	Bounds
}

// StalenessSection controls the periodic improvement check.
type StalenessSection struct {
	Enabled       bool       `json:"enabled"`
	Description   string     `json:"description,omitempty"`
	CheckInterval int        `json:"check_interval"`
	TunedAt       *time.Time `json:"tuned_at"`
}

// ThresholdConfig is the tuning document persisted as JSON.
type ThresholdConfig struct {
	VAD            VADSection          `json:"vad"`
	KWS            KWSSection          `json:"kws"`
	Confirmation   ConfirmationSection `json:"confirmation"`
	StalenessCheck StalenessSection    `json:"staleness_check"`
}

// DefaultThresholds returns the values used when no tuning file exists.
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		VAD: VADSection{
			SilenceThreshold: 0.01,
			Bounds:           Bounds{Description: "RMS energy threshold for VAD", Min: 0.001, Max: 0.1},
		},
		KWS: KWSSection{
			PatternThreshold: 0.3,
			Bounds:           Bounds{Description: "RMS pattern matching threshold for wake word", Min: 0.1, Max: 0.9},
		},
		Confirmation: ConfirmationSection{
			TimeoutSeconds: 10,
			Bounds:         Bounds{Description: "Time to wait for user confirmation", Min: 5, Max: 30},
		},
		StalenessCheck: StalenessSection{
			Enabled:       true,
			Description:   "Run the improvement check after N interactions",
			CheckInterval: 50,
		},
	}
}

// ConfirmationTimeout returns the confirmation timeout as a duration.
func (c ThresholdConfig) ConfirmationTimeout() time.Duration {
	return time.Duration(c.Confirmation.TimeoutSeconds * float64(time.Second))
}

// Get returns the value and bounds of a parameter.
func (c ThresholdConfig) Get(param string) (float64, Bounds, error) {
	switch param {
	case ParamVADSilence:
		return c.VAD.SilenceThreshold, c.VAD.Bounds, nil
	case ParamKWSPattern:
		return c.KWS.PatternThreshold, c.KWS.Bounds, nil
	case ParamConfirmation:
		return c.Confirmation.TimeoutSeconds, c.Confirmation.Bounds, nil
	}
	return 0, Bounds{}, fmt.Errorf("%w: %s", ErrUnknownParameter, param)
}

// set stores value and stamps the section. param must be valid.
func (c *ThresholdConfig) set(param string, value float64, at time.Time) {
	switch param {
	case ParamVADSilence:
		c.VAD.SilenceThreshold, c.VAD.TunedAt = value, &at
	case ParamKWSPattern:
		c.KWS.PatternThreshold, c.KWS.TunedAt = value, &at
	case ParamConfirmation:
		c.Confirmation.TimeoutSeconds, c.Confirmation.TunedAt = value, &at
	}
}

// LoadThresholds reads the tuning document at path. A missing file yields
// the defaults. Sections absent from the file keep their default values.
func LoadThresholds(path string) (ThresholdConfig, error) {
	cfg := DefaultThresholds()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("learning: read thresholds: %w", err)
	}
	cfg, err = ParseThresholds(data)
	if err != nil {
		return cfg, fmt.Errorf("learning: parse thresholds %s: %w", path, err)
	}
	return cfg, nil
}

// ParseThresholds decodes a tuning document over the defaults. On error the
// defaults are returned.
func ParseThresholds(data []byte) (ThresholdConfig, error) {
	cfg := DefaultThresholds()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultThresholds(), err
	}
	return cfg, nil
}

// LoadThresholdsOrDefault is [LoadThresholds] that falls back to the
// defaults with a warning instead of failing.
func LoadThresholdsOrDefault(path string) ThresholdConfig {
	cfg, err := LoadThresholds(path)
	if err != nil {
		slog.Warn("learning: using default thresholds", "path", path, "err", err)
	}
	return cfg
}

// SaveThresholds writes cfg to path through a temporary file and rename, so
// readers never observe a partial document.
func SaveThresholds(path string, cfg ThresholdConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("learning: encode thresholds: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("learning: create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tuning-*.json")
	if err != nil {
		return fmt.Errorf("learning: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("learning: write thresholds: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("learning: write thresholds: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("learning: replace thresholds: %w", err)
	}
	return nil
}
