package config

import "github.com/MrWong99/lumo/internal/learning"

// ThresholdDiff describes which tunable values changed between two tuning
// documents. Only values the running process can apply are tracked.
type ThresholdDiff struct {
	VADChanged bool
	NewVAD     float64

	KWSChanged bool
	NewKWS     float64

	ConfirmationChanged bool
	NewConfirmation     float64
}

// Changed reports whether any tracked value differs.
func (d ThresholdDiff) Changed() bool {
	return d.VADChanged || d.KWSChanged || d.ConfirmationChanged
}

// Diff compares old and new tuning documents and returns what changed.
func Diff(old, new learning.ThresholdConfig) ThresholdDiff {
	var d ThresholdDiff
	if old.VAD.SilenceThreshold != new.VAD.SilenceThreshold {
		d.VADChanged = true
		d.NewVAD = new.VAD.SilenceThreshold
	}
	if old.KWS.PatternThreshold != new.KWS.PatternThreshold {
		d.KWSChanged = true
		d.NewKWS = new.KWS.PatternThreshold
	}
	if old.Confirmation.TimeoutSeconds != new.Confirmation.TimeoutSeconds {
		d.ConfirmationChanged = true
		d.NewConfirmation = new.Confirmation.TimeoutSeconds
	}
	return d
}
