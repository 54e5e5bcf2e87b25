package resilience

import (
	"context"

	"github.com/MrWong99/lumo/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] that asks the first healthy backend of a
// chain. Backends are tried in the order they were added.
type LLMFallback struct {
	chain *chain[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback starts a chain with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, name string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{chain: newChain(primary, name, cfg)}
}

// AddFallback appends a backend to the chain.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.chain.add(name, p)
}

func (f *LLMFallback) Ask(ctx context.Context, req llm.Request) (*llm.Reply, error) {
	return call(ctx, f.chain, func(ctx context.Context, p llm.Provider) (*llm.Reply, error) {
		return p.Ask(ctx, req)
	})
}

// States reports each backend's breaker state by name.
func (f *LLMFallback) States() map[string]State {
	return f.chain.states()
}
