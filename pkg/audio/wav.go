package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

const bitsPerSample = 16

// ErrUnsupportedWAV is returned by [DecodeWAV] for anything other than
// 16-bit integer PCM.
var ErrUnsupportedWAV = errors.New("audio: only 16-bit PCM WAV is supported")

// EncodeWAV wraps samples as a 16 kHz mono 16-bit PCM RIFF/WAV file. The result
// is suitable for multipart uploads to transcription services.
func EncodeWAV(samples []float32) []byte {
	pcm := Float32ToPCM16(samples)
	const channels = 1
	byteRate := SampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], SampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV parses a 16-bit PCM WAV stream and returns its audio as 16 kHz
// mono samples, downmixing and resampling as needed. Unknown chunks are
// skipped.
func DecodeWAV(r io.Reader) ([]float32, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("audio: read RIFF header: %w", err)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return nil, errors.New("audio: not a RIFF/WAVE stream")
	}

	var (
		channels   int
		sampleRate int
		haveFmt    bool
	)
	for {
		var ch [8]byte
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			return nil, fmt.Errorf("audio: read chunk header: %w", err)
		}
		id := string(ch[0:4])
		size := int64(binary.LittleEndian.Uint32(ch[4:8]))

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("audio: read fmt chunk: %w", err)
			}
			if len(body) < 16 {
				return nil, errors.New("audio: fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits := binary.LittleEndian.Uint16(body[14:16])
			if format != 1 || bits != bitsPerSample {
				return nil, ErrUnsupportedWAV
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, errors.New("audio: data chunk before fmt chunk")
			}
			body := make([]byte, size)
			n, err := io.ReadFull(r, body)
			if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("audio: read data chunk: %w", err)
			}
			return toPipelineFormat(body[:n], sampleRate, channels), nil
		default:
			// Chunks are word-aligned.
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return nil, fmt.Errorf("audio: skip %q chunk: %w", id, err)
			}
		}
	}
}

func toPipelineFormat(pcm []byte, sampleRate, channels int) []float32 {
	ints := make([]int16, len(pcm)/2)
	for i := range ints {
		ints[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	if channels == 2 {
		ints = StereoToMono(ints)
	}
	ints = ResampleMono(ints, sampleRate, SampleRate)
	return Int16ToFloat32(ints)
}

// Compile-time interface assertion.
var _ Source = (*WAVSource)(nil)

// WAVSource replays a WAV file as a capture source. With Realtime set, frames
// are paced at [FrameDuration] so timeouts behave as with a live microphone.
// TrailingSilence appends zero frames after the file so an utterance at the
// very end still sees its silence timeout.
type WAVSource struct {
	Path            string
	Realtime        bool
	TrailingSilence time.Duration
}

// Stream implements [Source].
func (s *WAVSource) Stream(ctx context.Context, q *Queue) error {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return fmt.Errorf("audio: open wav: %w", err)
	}
	samples, err := DecodeWAV(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("audio: decode %s: %w", s.Path, err)
	}
	if s.TrailingSilence > 0 {
		samples = append(samples, make([]float32, int(s.TrailingSilence.Seconds()*SampleRate))...)
	}

	var fr Framer
	frames := fr.Write(samples)
	slog.Info("audio: replaying wav", "path", s.Path, "frames", len(frames))

	var tick *time.Ticker
	if s.Realtime {
		tick = time.NewTicker(FrameDuration)
		defer tick.Stop()
	}
	for _, f := range frames {
		if tick != nil {
			select {
			case <-tick.C:
			case <-ctx.Done():
				return nil
			}
		} else if ctx.Err() != nil {
			return nil
		}
		q.Push(f)
	}
	return nil
}
