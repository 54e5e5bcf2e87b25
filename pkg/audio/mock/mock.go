// Package mock provides in-memory test doubles for the [audio.FrameSource] and
// [audio.Source] interfaces.
//
// FrameSource never sleeps. Tests that exercise timeouts hook OnPoll to advance
// a fake clock by one frame when a frame is delivered and by the poll timeout
// when the script is exhausted:
//
//	src := &mock.FrameSource{
//	    Frames: frames,
//	    OnPoll: func(delivered bool, timeout time.Duration) {
//	        if delivered {
//	            clk.Advance(audio.FrameDuration)
//	        } else {
//	            clk.Advance(timeout)
//	        }
//	    },
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/lumo/pkg/audio"
)

// ─── FrameSource ──────────────────────────────────────────────────────────────

// FrameSource is a scripted [audio.FrameSource]. Frames are delivered in order;
// once exhausted every Poll reports ok=false.
type FrameSource struct {
	mu sync.Mutex

	// Frames is the script of frames to deliver.
	Frames []audio.Frame

	// OnPoll, if set, is called after every Poll that did not fail.
	OnPoll func(delivered bool, timeout time.Duration)

	// PollCalls counts Poll invocations.
	PollCalls int

	// Delivered counts frames handed out.
	Delivered int
}

// Poll implements [audio.FrameSource].
func (s *FrameSource) Poll(ctx context.Context, timeout time.Duration) (audio.Frame, bool, error) {
	if err := ctx.Err(); err != nil {
		return audio.Frame{}, false, err
	}

	s.mu.Lock()
	s.PollCalls++
	var (
		f  audio.Frame
		ok bool
	)
	if len(s.Frames) > 0 {
		f, s.Frames = s.Frames[0], s.Frames[1:]
		s.Delivered++
		ok = true
	}
	hook := s.OnPoll
	s.mu.Unlock()

	if hook != nil {
		hook(ok, timeout)
	}
	return f, ok, nil
}

// Append adds frames to the end of the script. Thread-safe.
func (s *FrameSource) Append(frames ...audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = append(s.Frames, frames...)
}

// Remaining returns the number of undelivered frames. Thread-safe.
func (s *FrameSource) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames)
}

// Ensure FrameSource implements audio.FrameSource at compile time.
var _ audio.FrameSource = (*FrameSource)(nil)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock [audio.Source] that pushes Frames once and then blocks
// until ctx is done (or returns immediately when Finite is set).
type Source struct {
	Frames []audio.Frame
	Finite bool
	Err    error
}

// Stream implements [audio.Source].
func (s *Source) Stream(ctx context.Context, q *audio.Queue) error {
	if s.Err != nil {
		return s.Err
	}
	for _, f := range s.Frames {
		q.Push(f)
	}
	if s.Finite {
		return nil
	}
	<-ctx.Done()
	return nil
}

// Ensure Source implements audio.Source at compile time.
var _ audio.Source = (*Source)(nil)

// ─── Frame builders ───────────────────────────────────────────────────────────

// Tone returns a full-length frame whose RMS equals level.
func Tone(level float32) audio.Frame {
	s := make([]float32, audio.FrameSamples)
	for i := range s {
		if i%2 == 0 {
			s[i] = level
		} else {
			s[i] = -level
		}
	}
	return audio.Frame{Samples: s}
}

// Silence returns a full-length all-zero frame.
func Silence() audio.Frame {
	return audio.Frame{Samples: make([]float32, audio.FrameSamples)}
}
