package interaction

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/lumo/internal/observe"
)

// LoggerOption configures a [Logger].
type LoggerOption func(*Logger)

// WithClock injects the timestamp source.
func WithClock(now func() time.Time) LoggerOption {
	return func(l *Logger) { l.now = now }
}

// WithObserver registers fn to be called with every record after it is
// written, successfully or not.
func WithObserver(fn func(context.Context, Record)) LoggerOption {
	return func(l *Logger) { l.observers = append(l.observers, fn) }
}

// Logger stamps and appends records. A failed write never fails the turn:
// it is reported as a warning and the record is dropped.
//
// Logger is safe for concurrent use; records are appended in call order.
type Logger struct {
	store     Store
	now       func() time.Time
	observers []func(context.Context, Record)

	mu sync.Mutex
}

// NewLogger returns a Logger writing to store.
func NewLogger(store Store, opts ...LoggerOption) *Logger {
	l := &Logger{store: store, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Record appends rec, filling in the timestamp when unset, and returns the
// record as written.
func (l *Logger) Record(ctx context.Context, rec Record) Record {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now().UTC()
	}

	l.mu.Lock()
	err := l.store.Append(context.WithoutCancel(ctx), rec)
	l.mu.Unlock()
	if err != nil {
		observe.Logger(ctx).Warn("interaction: failed to write record",
			"outcome", rec.Outcome, "err", err)
	}
	for _, fn := range l.observers {
		fn(ctx, rec)
	}
	return rec
}

// Recent returns the last n records, oldest first. n <= 0 returns all.
func (l *Logger) Recent(ctx context.Context, n int) ([]Record, error) {
	return l.store.Recent(ctx, n)
}

// Stats summarizes the whole log.
func (l *Logger) Stats(ctx context.Context) (Stats, error) {
	recs, err := l.store.Recent(ctx, 0)
	if err != nil {
		return Stats{}, err
	}
	return Summarize(recs), nil
}
