package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestChain_Order(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		failing   map[string]bool
		want      string
		wantErr   error
		wantTried []string
	}{
		{name: "primary answers", want: "a", wantTried: []string{"a"}},
		{name: "falls through", failing: map[string]bool{"a": true}, want: "b", wantTried: []string{"a", "b"}},
		{name: "all fail", failing: map[string]bool{"a": true, "b": true, "c": true}, wantErr: errBackend, wantTried: []string{"a", "b", "c"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := newChain("a", "a", FallbackConfig{})
			c.add("b", "b")
			c.add("c", "c")

			var tried []string
			got, err := call(context.Background(), c, func(_ context.Context, name string) (string, error) {
				tried = append(tried, name)
				if tc.failing[name] {
					return "", errBackend
				}
				return name, nil
			})
			if tc.wantErr != nil {
				if !errors.Is(err, ErrAllFailed) || !errors.Is(err, tc.wantErr) {
					t.Fatalf("want ErrAllFailed wrapping %v, got %v", tc.wantErr, err)
				}
			} else if err != nil || got != tc.want {
				t.Fatalf("want %q, got %q (%v)", tc.want, got, err)
			}
			if len(tried) != len(tc.wantTried) {
				t.Fatalf("want tried %v, got %v", tc.wantTried, tried)
			}
		})
	}
}

func TestChain_AllOpen(t *testing.T) {
	t.Parallel()

	c := newChain("a", "a", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}})
	failing := func(context.Context, string) (int, error) { return 0, errBackend }
	_, _ = call(context.Background(), c, failing)

	_, err := call(context.Background(), c, failing)
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("want ErrAllFailed wrapping ErrCircuitOpen, got %v", err)
	}
	if got := c.states()["a"]; got != StateOpen {
		t.Fatalf("want a open, got %v", got)
	}
}

func TestChain_BreakerNamesFollowEntries(t *testing.T) {
	t.Parallel()

	c := newChain(1, "llm/openai", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{Name: "ignored"}})
	c.add("llm/ollama", 2)
	for _, l := range c.snapshot() {
		if l.breaker.Name() != l.name {
			t.Errorf("want breaker named %q, got %q", l.name, l.breaker.Name())
		}
	}
}
