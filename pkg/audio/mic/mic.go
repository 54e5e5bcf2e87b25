//go:build portaudio

// Package mic captures audio from the default input device through PortAudio.
//
// The package only builds with the "portaudio" build tag because it links
// against the native PortAudio library:
//
//	go build -tags portaudio ./cmd/lumo
package mic

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/lumo/pkg/audio"
	"github.com/gordonklaus/portaudio"
)

// Compile-time interface assertion.
var _ audio.Source = (*Source)(nil)

// Available reports whether microphone capture was compiled in.
const Available = true

// Source reads fixed-size mono frames from the default input device.
type Source struct{}

// New returns a microphone source.
func New() *Source { return &Source{} }

// Stream implements [audio.Source]. It opens the default input stream at the
// pipeline sample rate and pushes one frame per buffer until ctx is done.
func (s *Source) Stream(ctx context.Context, q *audio.Queue) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("mic: initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	buf := make([]float32, audio.FrameSamples)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(audio.SampleRate), len(buf), buf)
	if err != nil {
		return fmt.Errorf("mic: open input stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("mic: start input stream: %w", err)
	}
	defer stream.Stop()

	slog.Info("mic: capture started", "sample_rate", audio.SampleRate, "frame_samples", len(buf))

	var n int
	for ctx.Err() == nil {
		if err := stream.Read(); err != nil {
			// Input overflow is recoverable; keep reading.
			slog.Debug("mic: read error", "err", err)
			continue
		}
		samples := make([]float32, len(buf))
		copy(samples, buf)
		if !q.Push(audio.Frame{Samples: samples, Timestamp: audio.FrameDuration * time.Duration(n)}) && q.Dropped()%100 == 1 {
			slog.Warn("mic: frame queue full, dropping audio", "dropped", q.Dropped())
		}
		n++
	}
	return nil
}
