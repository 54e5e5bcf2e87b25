package audio

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultQueueSize bounds the frame queue at roughly 8 seconds of audio.
const DefaultQueueSize = 128

// FrameSource is the consumer side of the frame queue. Poll waits at most
// timeout for the next frame and reports ok=false if none arrived. It returns
// an error only when ctx is done.
type FrameSource interface {
	Poll(ctx context.Context, timeout time.Duration) (frame Frame, ok bool, err error)
}

// Source captures audio and publishes frames to a [Queue]. Stream blocks until
// ctx is cancelled or the underlying device ends; a source that runs out of
// input returns nil.
type Source interface {
	Stream(ctx context.Context, q *Queue) error
}

// Compile-time interface assertion.
var _ FrameSource = (*Queue)(nil)

// Queue is a bounded FIFO of frames between one producer and one consumer.
// Push never blocks: when the queue is full the incoming frame is dropped and
// counted.
//
// Queue is safe for concurrent use.
type Queue struct {
	ch      chan Frame
	dropped atomic.Uint64
}

// NewQueue returns a queue holding at most capacity frames. A non-positive
// capacity selects [DefaultQueueSize].
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Queue{ch: make(chan Frame, capacity)}
}

// Push enqueues f. Returns false if the queue was full and f was dropped.
func (q *Queue) Push(f Frame) bool {
	select {
	case q.ch <- f:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Poll implements [FrameSource].
func (q *Queue) Poll(ctx context.Context, timeout time.Duration) (Frame, bool, error) {
	// Fast path: a frame is already waiting.
	select {
	case f := <-q.ch:
		return f, true, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-q.ch:
		return f, true, nil
	case <-timer.C:
		return Frame{}, false, nil
	case <-ctx.Done():
		return Frame{}, false, ctx.Err()
	}
}

// Flush discards every queued frame and returns how many were removed. The
// turn loop flushes after speaking so its own output is not re-captured.
func (q *Queue) Flush() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of queued frames.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Dropped returns the number of frames discarded because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Framer slices an arbitrary-length sample stream into fixed [FrameSamples]
// frames. Sources that receive audio in differently sized chunks feed it
// through a Framer before pushing.
//
// Framer is not safe for concurrent use.
type Framer struct {
	buf     []float32
	emitted int
}

// Write appends samples and returns every complete frame now available.
func (fr *Framer) Write(samples []float32) []Frame {
	fr.buf = append(fr.buf, samples...)
	var out []Frame
	for len(fr.buf) >= FrameSamples {
		chunk := make([]float32, FrameSamples)
		copy(chunk, fr.buf[:FrameSamples])
		fr.buf = fr.buf[FrameSamples:]
		out = append(out, Frame{
			Samples:   chunk,
			Timestamp: time.Duration(fr.emitted) * FrameDuration,
		})
		fr.emitted++
	}
	return out
}

// Reset drops any partial frame and restarts timestamps at zero.
func (fr *Framer) Reset() {
	fr.buf = fr.buf[:0]
	fr.emitted = 0
}
