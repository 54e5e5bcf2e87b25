// Package mock provides a test double for the llm.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Reply: &llm.Reply{Content: "Hello!"}}
//	reply, err := p.Ask(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lumo/pkg/provider/llm"
)

// AskCall records a single invocation of Ask.
type AskCall struct {
	Ctx context.Context
	Req llm.Request
}

// Provider is a mock implementation of llm.Provider.
//
// Replies, when non-empty, are consumed one per call; once exhausted Ask
// falls back to Reply. A nil Reply returns an empty text reply.
type Provider struct {
	mu sync.Mutex

	Replies []*llm.Reply
	Reply   *llm.Reply
	Err     error

	// Calls records every invocation of Ask in order.
	Calls []AskCall
}

// Text returns a Provider that always answers with content.
func Text(content string) *Provider {
	return &Provider{Reply: &llm.Reply{Content: content}}
}

// Call returns a Provider that always requests the named function.
func Call(name, args string) *Provider {
	return &Provider{Reply: &llm.Reply{FunctionCall: &llm.FunctionCall{Name: name, Arguments: args}}}
}

// Ask records the call and returns the next scripted reply.
func (p *Provider) Ask(ctx context.Context, req llm.Request) (*llm.Reply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, AskCall{Ctx: ctx, Req: req})
	if p.Err != nil {
		return nil, p.Err
	}
	if len(p.Replies) > 0 {
		r := p.Replies[0]
		p.Replies = p.Replies[1:]
		return r, nil
	}
	if p.Reply == nil {
		return &llm.Reply{}, nil
	}
	r := *p.Reply
	return &r, nil
}

// CallCount returns the number of Ask invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastRequest returns the most recent request, or the zero value.
func (p *Provider) LastRequest() llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return llm.Request{}
	}
	return p.Calls[len(p.Calls)-1].Req
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

var _ llm.Provider = (*Provider)(nil)
