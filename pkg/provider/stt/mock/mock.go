// Package mock provides a test double for the stt.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Transcripts: []string{"hey lumo", "yes"}}
//	text, _ := p.Transcribe(ctx, utt)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lumo/pkg/audio"
	"github.com/MrWong99/lumo/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	Ctx context.Context
	Utt audio.Utterance
}

// Provider is a mock implementation of stt.Provider.
//
// Transcripts are returned in order, one per call; once exhausted Transcribe
// returns Default.
type Provider struct {
	mu sync.Mutex

	Transcripts []string
	Default     string
	Err         error

	Calls []TranscribeCall
}

// Transcribe records the call and returns the next scripted transcript.
func (p *Provider) Transcribe(ctx context.Context, utt audio.Utterance) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, TranscribeCall{Ctx: ctx, Utt: utt})
	if p.Err != nil {
		return "", p.Err
	}
	if len(p.Transcripts) > 0 {
		t := p.Transcripts[0]
		p.Transcripts = p.Transcripts[1:]
		return t, nil
	}
	return p.Default, nil
}

// CallCount returns the number of Transcribe invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ stt.Provider = (*Provider)(nil)
