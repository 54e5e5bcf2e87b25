//go:build !portaudio

package mic

import (
	"context"
	"errors"

	"github.com/MrWong99/lumo/pkg/audio"
)

// Available reports whether microphone capture was compiled in.
const Available = false

// ErrUnavailable is returned when the binary was built without PortAudio.
var ErrUnavailable = errors.New("mic: built without the portaudio tag")

// Source is a placeholder that always fails; rebuild with -tags portaudio.
type Source struct{}

// New returns a microphone source.
func New() *Source { return &Source{} }

// Stream always returns [ErrUnavailable].
func (s *Source) Stream(context.Context, *audio.Queue) error {
	return ErrUnavailable
}
