package audio_test

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/lumo/pkg/audio"
)

func constFrame(n int, v float32) audio.Frame {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return audio.Frame{Samples: s}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples []float32
		want    float64
	}{
		{name: "empty", samples: nil, want: 0},
		{name: "all zero", samples: make([]float32, 100), want: 0},
		{name: "constant", samples: []float32{0.5, -0.5, 0.5, -0.5}, want: 0.5},
		{name: "single", samples: []float32{-0.25}, want: 0.25},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := audio.RMS(tc.samples); math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("want %v, got %v", tc.want, got)
			}
		})
	}
}

func TestFrame_Duration(t *testing.T) {
	t.Parallel()
	f := constFrame(audio.FrameSamples, 0)
	if got := f.Duration(); got != audio.FrameDuration {
		t.Fatalf("want %v, got %v", audio.FrameDuration, got)
	}
	if audio.FrameDuration != 62500*time.Microsecond {
		t.Fatalf("want 62.5ms frames, got %v", audio.FrameDuration)
	}
}

func TestUtterance_SamplesAndDuration(t *testing.T) {
	t.Parallel()
	u := audio.Utterance{Frames: []audio.Frame{
		{Samples: []float32{0.1, 0.2}},
		{Samples: []float32{0.3}},
	}}
	got := u.Samples()
	want := []float32{0.1, 0.2, 0.3}
	if len(got) != len(want) {
		t.Fatalf("want %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: want %v, got %v", i, want[i], got[i])
		}
	}
	if d := u.Duration(); d != 3*time.Second/audio.SampleRate {
		t.Errorf("want duration %v, got %v", 3*time.Second/audio.SampleRate, d)
	}
	if u.Empty() {
		t.Error("want non-empty utterance")
	}
	if !(audio.Utterance{}).Empty() {
		t.Error("want zero utterance to be empty")
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()
	got := audio.StereoToMono([]int16{100, 200, -100, -200, 32767, 32767})
	want := []int16{150, -150, 32767}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: want %d, got %d", i, want[i], got[i])
		}
	}
}

func TestResampleMono(t *testing.T) {
	t.Parallel()

	in := make([]int16, 48000)
	out := audio.ResampleMono(in, 48000, 16000)
	if len(out) != 16000 {
		t.Fatalf("want 16000 samples, got %d", len(out))
	}

	same := audio.ResampleMono([]int16{1, 2, 3}, 16000, 16000)
	if len(same) != 3 {
		t.Fatalf("want passthrough, got %d samples", len(same))
	}

	// Linear interpolation between neighbours when upsampling 2x.
	up := audio.ResampleMono([]int16{0, 100}, 8000, 16000)
	if len(up) != 4 || up[1] != 50 {
		t.Fatalf("want [0 50 100 100], got %v", up)
	}
}

func TestPCMRoundTripClamps(t *testing.T) {
	t.Parallel()
	pcm := audio.Float32ToPCM16([]float32{2, -2, 0})
	back := audio.PCM16ToFloat32(pcm)
	if back[0] < 0.99 || back[1] > -0.99 || back[2] != 0 {
		t.Fatalf("want clamped [~1 ~-1 0], got %v", back)
	}
}
