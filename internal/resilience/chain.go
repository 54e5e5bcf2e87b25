package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAllFailed wraps the last backend error once every entry of a chain has
// failed or been skipped.
var ErrAllFailed = errors.New("resilience: all backends failed")

// FallbackConfig holds the breaker settings shared by every entry of a chain.
// The entry name replaces CircuitBreaker.Name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type link[T any] struct {
	name    string
	backend T
	breaker *CircuitBreaker
}

// chain is an ordered list of interchangeable backends, each behind its own
// breaker. Entries may be appended while calls are in flight.
type chain[T any] struct {
	cfg FallbackConfig

	mu    sync.RWMutex
	links []link[T]
}

func newChain[T any](primary T, name string, cfg FallbackConfig) *chain[T] {
	c := &chain[T]{cfg: cfg}
	c.add(name, primary)
	return c
}

func (c *chain[T]) add(name string, backend T) {
	bc := c.cfg.CircuitBreaker
	bc.Name = name
	c.mu.Lock()
	c.links = append(c.links, link[T]{name: name, backend: backend, breaker: NewCircuitBreaker(bc)})
	c.mu.Unlock()
}

func (c *chain[T]) snapshot() []link[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.links
}

func (c *chain[T]) states() map[string]State {
	links := c.snapshot()
	out := make(map[string]State, len(links))
	for _, l := range links {
		out[l.name] = l.breaker.State()
	}
	return out
}

// call tries each backend in order and returns the first success. A context
// error stops the walk and is returned as is. Otherwise the last backend error
// stays matchable with errors.Is and errors.As under [ErrAllFailed].
func call[T, R any](ctx context.Context, c *chain[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for _, l := range c.snapshot() {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var out R
		err := l.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, l.backend)
			return err
		})
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("backend skipped, circuit open", "backend", l.name)
			if lastErr == nil {
				lastErr = err
			}
			continue
		case ctx.Err() != nil:
			return zero, err
		}
		slog.Warn("backend failed, trying next", "backend", l.name, "error", err)
		lastErr = fmt.Errorf("%s: %w", l.name, err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
