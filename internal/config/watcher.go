package config

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/lumo/internal/learning"
)

// Watcher polls the tuning document and reports changes, so a threshold
// applied with "lumo apply" reaches the running detectors without a restart.
// Changes are detected by modification time, then content hash.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new learning.ThresholdConfig, d ThresholdDiff)

	mu      sync.Mutex
	current learning.ThresholdConfig

	// last known file state for change detection
	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the tuning document at path and returns a Watcher. A
// missing document yields the defaults; a malformed one is an error.
// onChange is called from [Watcher.Run] whenever a tracked value changes.
func NewWatcher(path string, onChange func(old, new learning.ThresholdConfig, d ThresholdDiff), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, mtime, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.lastHash = hash
	w.lastMtime = mtime
	return w, nil
}

// Current returns the most recently loaded valid document.
func (w *Watcher) Current() learning.ThresholdConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done and returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check reads the document once and, if it changed and is valid, updates
// the current value and calls onChange. Invalid documents are ignored with
// a warning; the previous values stay in effect.
func (w *Watcher) Check() {
	info, err := os.Stat(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	mtime := w.lastMtime
	w.mu.Unlock()

	if info.ModTime().Equal(mtime) {
		return
	}

	cfg, hash, newMtime, err := w.load()
	if err != nil {
		slog.Warn("config watcher: failed to load thresholds", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		// Touched, content identical.
		w.lastMtime = newMtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.lastHash = hash
	w.lastMtime = newMtime
	w.mu.Unlock()

	d := Diff(old, cfg)
	slog.Info("config watcher: thresholds reloaded", "path", w.path,
		"vad_changed", d.VADChanged, "kws_changed", d.KWSChanged, "confirmation_changed", d.ConfirmationChanged)

	// Outside the lock so the callback may call Current.
	if w.onChange != nil && d.Changed() {
		w.onChange(old, cfg, d)
	}
}

// load reads and parses the document and returns it with the file's
// SHA-256 hash and modification time.
func (w *Watcher) load() (learning.ThresholdConfig, [sha256.Size]byte, time.Time, error) {
	var zeroHash [sha256.Size]byte

	info, err := os.Stat(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		return learning.DefaultThresholds(), zeroHash, time.Time{}, nil
	}
	if err != nil {
		return learning.ThresholdConfig{}, zeroHash, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return learning.ThresholdConfig{}, zeroHash, time.Time{}, err
	}
	cfg, err := learning.ParseThresholds(data)
	if err != nil {
		return learning.ThresholdConfig{}, zeroHash, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
