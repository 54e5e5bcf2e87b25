package resilience

import (
	"context"

	"github.com/MrWong99/lumo/pkg/audio"
	"github.com/MrWong99/lumo/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that transcribes with the first healthy
// backend of a chain.
type STTFallback struct {
	chain *chain[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback starts a chain with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, name string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{chain: newChain(primary, name, cfg)}
}

// AddFallback appends a backend to the chain.
func (f *STTFallback) AddFallback(name string, p stt.Provider) {
	f.chain.add(name, p)
}

// Transcribe rejects an empty utterance before any backend sees it, so silence
// never trips a breaker.
func (f *STTFallback) Transcribe(ctx context.Context, utt audio.Utterance) (string, error) {
	if utt.Empty() {
		return "", stt.ErrEmptyUtterance
	}
	return call(ctx, f.chain, func(ctx context.Context, p stt.Provider) (string, error) {
		return p.Transcribe(ctx, utt)
	})
}

// States reports each backend's breaker state by name.
func (f *STTFallback) States() map[string]State {
	return f.chain.states()
}
