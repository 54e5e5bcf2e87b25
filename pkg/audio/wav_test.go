package audio_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/lumo/pkg/audio"
)

func TestEncodeDecodeWAV(t *testing.T) {
	t.Parallel()

	samples := make([]float32, 3200)
	for i := range samples {
		samples[i] = 0.25
	}
	wav := audio.EncodeWAV(samples)
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatal("want RIFF/WAVE header")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != audio.SampleRate {
		t.Fatalf("want sample rate %d, got %d", audio.SampleRate, got)
	}

	back, err := audio.DecodeWAV(bytes.NewReader(wav))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if len(back) != len(samples) {
		t.Fatalf("want %d samples, got %d", len(samples), len(back))
	}
	if d := back[10] - 0.25; d > 0.001 || d < -0.001 {
		t.Fatalf("want ~0.25, got %v", back[10])
	}
}

func TestDecodeWAV_Rejects(t *testing.T) {
	t.Parallel()

	if _, err := audio.DecodeWAV(bytes.NewReader([]byte("not a wav file"))); err == nil {
		t.Fatal("want error for garbage input")
	}

	wav := audio.EncodeWAV(make([]float32, 10))
	binary.LittleEndian.PutUint16(wav[34:36], 8)
	if _, err := audio.DecodeWAV(bytes.NewReader(wav)); !errors.Is(err, audio.ErrUnsupportedWAV) {
		t.Fatalf("want ErrUnsupportedWAV, got %v", err)
	}
}

func TestWAVSource_Stream(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "in.wav")
	if err := os.WriteFile(path, audio.EncodeWAV(make([]float32, audio.FrameSamples*3)), 0o644); err != nil {
		t.Fatal(err)
	}

	src := &audio.WAVSource{Path: path, TrailingSilence: audio.FrameDuration * 2}
	q := audio.NewQueue(16)
	if err := src.Stream(context.Background(), q); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if q.Len() != 5 {
		t.Fatalf("want 5 frames (3 audio + 2 silence), got %d", q.Len())
	}
	f, ok, _ := q.Poll(context.Background(), time.Millisecond)
	if !ok || f.Timestamp != 0 {
		t.Fatalf("want first frame at 0, got ok=%v ts=%v", ok, f.Timestamp)
	}
}
