// Package collect turns the raw frame stream into turn-sized pieces: it waits
// for the wake phrase and then gathers the user's utterance until a trailing
// silence timeout.
//
// Both operations poll the frame source with a short timeout instead of
// blocking, so a caller that drives them from its loop regains control at
// least once per poll interval. All timing is measured against an injectable
// clock.
package collect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/lumo/pkg/audio"
	"github.com/MrWong99/lumo/pkg/provider/kws"
)

const (
	defaultCollectPoll   = 100 * time.Millisecond
	defaultWakePoll      = 500 * time.Millisecond
	defaultProgressEvery = 50
	defaultMaxUtterance  = 30 * time.Second
)

// SpeechFunc classifies one frame as speech.
type SpeechFunc func(audio.Frame) bool

// Option configures a [Collector].
type Option func(*Collector)

// WithClock overrides the time source. Tests pass a fake clock so timeouts
// can be driven without sleeping.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// WithPollIntervals sets the per-poll wait used while collecting an utterance
// and while waiting for the wake phrase. Defaults are 100 ms and 500 ms.
func WithPollIntervals(collect, wake time.Duration) Option {
	return func(c *Collector) {
		if collect > 0 {
			c.collectPoll = collect
		}
		if wake > 0 {
			c.wakePoll = wake
		}
	}
}

// WithMaxUtterance caps how long one utterance may grow while speech keeps
// being detected. Zero disables the cap. Defaults to 30 s.
func WithMaxUtterance(d time.Duration) Option {
	return func(c *Collector) { c.maxUtterance = d }
}

// Collector implements utterance collection and wake waiting over any
// [audio.FrameSource]. A Collector holds no per-call state and may be shared.
type Collector struct {
	now           func() time.Time
	collectPoll   time.Duration
	wakePoll      time.Duration
	maxUtterance  time.Duration
	progressEvery int
}

// New returns a Collector with default poll intervals.
func New(opts ...Option) *Collector {
	c := &Collector{
		now:           time.Now,
		collectPoll:   defaultCollectPoll,
		wakePoll:      defaultWakePoll,
		maxUtterance:  defaultMaxUtterance,
		progressEvery: defaultProgressEvery,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Collect gathers speech frames until more than silenceTimeout has passed
// since the last speech frame. The silence timer starts when Collect is
// called, so a source that never produces speech ends the call after
// silenceTimeout. Non-speech frames are discarded.
//
// ok is false when no speech frame was accepted; that is a normal outcome.
// The only error is ctx's.
func (c *Collector) Collect(ctx context.Context, src audio.FrameSource, isSpeech SpeechFunc, silenceTimeout time.Duration) (audio.Utterance, bool, error) {
	start := c.now()
	lastSpeech := start
	var frames []audio.Frame

	for {
		f, got, err := src.Poll(ctx, c.collectPoll)
		if err != nil {
			return audio.Utterance{}, false, fmt.Errorf("collect: %w", err)
		}

		now := c.now()
		if got && isSpeech(f) {
			frames = append(frames, f)
			lastSpeech = now
			if c.maxUtterance > 0 && now.Sub(start) >= c.maxUtterance {
				slog.DebugContext(ctx, "collect: utterance reached max duration", "frames", len(frames))
				break
			}
			continue
		}
		if now.Sub(lastSpeech) > silenceTimeout {
			break
		}
	}

	if len(frames) == 0 {
		return audio.Utterance{}, false, nil
	}
	utt := audio.Utterance{Frames: frames}
	slog.DebugContext(ctx, "collect: utterance complete", "frames", len(frames), "duration", utt.Duration())
	return utt, true, nil
}

// WaitForWake resets spotter and feeds it frames until it fires or timeout
// elapses. A timeout returns (false, nil). The only error is ctx's.
func (c *Collector) WaitForWake(ctx context.Context, src audio.FrameSource, spotter kws.Spotter, timeout time.Duration) (bool, error) {
	spotter.Reset()
	start := c.now()
	frames := 0

	for {
		remaining := timeout - c.now().Sub(start)
		if remaining <= 0 {
			slog.DebugContext(ctx, "collect: no wake phrase before timeout", "timeout", timeout, "frames", frames)
			return false, nil
		}

		f, got, err := src.Poll(ctx, min(c.wakePoll, remaining))
		if err != nil {
			return false, fmt.Errorf("collect: %w", err)
		}
		if !got {
			continue
		}

		frames++
		if spotter.Detect(f) {
			slog.DebugContext(ctx, "collect: wake phrase detected", "frames", frames)
			return true, nil
		}
		if c.progressEvery > 0 && frames%c.progressEvery == 0 {
			slog.DebugContext(ctx, "collect: listening for wake phrase", "frames", frames)
		}
	}
}
