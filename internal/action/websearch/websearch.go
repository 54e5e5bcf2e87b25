// Package websearch provides the web_search action backed by a
// DuckDuckGo-style instant-answer API.
//
// The client asks GET {base}/?q={query}&format=json and reads the Abstract
// field of the JSON response. Calls go through a circuit breaker so that an
// unreachable endpoint fails fast instead of stalling every turn.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/lumo/internal/action"
	"github.com/MrWong99/lumo/internal/resilience"
)

// DefaultBaseURL is the public DuckDuckGo instant-answer endpoint.
const DefaultBaseURL = "https://api.duckduckgo.com/"

// Replies for the two non-answer outcomes.
const (
	NoResults = "No results found"
	Failed    = "Search failed"
)

// ErrEmptyQuery is returned when web_search is called without a query.
var ErrEmptyQuery = errors.New("websearch: query must not be empty")

// maxBody caps how much of a response is read.
const maxBody = 1 << 20

// Option configures a [Client].
type Option func(*Client)

// WithBaseURL overrides [DefaultBaseURL].
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the default HTTP client (10s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBreaker replaces the default circuit breaker settings.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *Client) { c.breaker = resilience.NewCircuitBreaker(cfg) }
}

// Client queries the instant-answer API. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *resilience.CircuitBreaker
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "websearch",
			MaxFailures:  3,
			ResetTimeout: time.Minute,
			HalfOpenMax:  1,
		})
	}
	return c
}

type answer struct {
	Abstract string `json:"Abstract"`
}

// Search returns the abstract for query, or [NoResults] when the API has none.
// A non-200 status is reported as an error.
func (c *Client) Search(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", ErrEmptyQuery
	}

	var abstract string
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		abstract, err = c.do(ctx, query)
		return err
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(abstract) == "" {
		return NoResults, nil
	}
	return abstract, nil
}

func (c *Client) do(ctx context.Context, query string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("websearch: parse base url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("websearch: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("websearch: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Code: resp.StatusCode}
	}
	var a answer
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&a); err != nil {
		return "", fmt.Errorf("websearch: decode response: %w", err)
	}
	return a.Abstract, nil
}

// StatusError reports a non-200 reply from the search endpoint.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("websearch: unexpected status %d", e.Code)
}

// Action returns the non-destructive web_search action. Endpoint failures
// are answered with [Failed] rather than surfaced as action errors.
func (c *Client) Action() action.Action {
	return action.Action{
		Name:        "web_search",
		Description: "Search the web for a short factual answer.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "What to search for."},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, p map[string]any) (string, error) {
			out, err := c.Search(ctx, action.Param(p, "query"))
			switch {
			case err == nil:
				return out, nil
			case errors.Is(err, ErrEmptyQuery), ctx.Err() != nil:
				return "", err
			}
			slog.Warn("websearch: search failed", "err", err)
			return Failed, nil
		},
	}
}
