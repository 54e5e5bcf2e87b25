// Package confirm implements the confirmation gate that guards destructive
// actions behind an explicit yes/no turn with a deadline.
//
// The gate has two states, [Idle] and [Awaiting]. At most one request is
// outstanding; a second [Gate.Request] while awaiting replaces the first.
// Timeouts are pulled: the owner calls [Gate.CheckTimeout] on every loop
// iteration and there is no background timer.
package confirm

import (
	"fmt"
	"maps"
	"sync"
	"time"
)

// DefaultTimeout is how long a request waits for a reply.
const DefaultTimeout = 10 * time.Second

// State is the gate's current state.
type State int

const (
	// Idle means no confirmation is outstanding.
	Idle State = iota

	// Awaiting means a request is waiting for yes/no.
	Awaiting
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Awaiting:
		return "awaiting_confirmation"
	default:
		return "unknown"
	}
}

// Pending describes the outstanding request.
type Pending struct {
	Action    string         `json:"action"`
	Params    map[string]any `json:"params"`
	Message   string         `json:"message"`
	CreatedAt time.Time      `json:"created_at"`
	Timeout   time.Duration  `json:"timeout"`

	// Elapsed is filled in by [Gate.Pending] at the time of the call.
	Elapsed time.Duration `json:"elapsed"`
}

// Remaining returns how much of the timeout is left, never negative.
func (p Pending) Remaining() time.Duration {
	return max(p.Timeout-p.Elapsed, 0)
}

// Option configures a [Gate].
type Option func(*Gate)

// WithTimeout sets the reply deadline. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// Gate is the confirmation state machine.
//
// All methods are safe for concurrent use.
type Gate struct {
	mu      sync.Mutex
	now     func() time.Time
	timeout time.Duration
	pending *Pending
}

// New returns an idle Gate.
func New(opts ...Option) *Gate {
	g := &Gate{now: time.Now, timeout: DefaultTimeout}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Request stores a new outstanding request and returns the prompt to surface
// to the user. Any earlier request is silently replaced.
func (g *Gate) Request(action string, params map[string]any, message string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = &Pending{
		Action:    action,
		Params:    maps.Clone(params),
		Message:   message,
		CreatedAt: g.now(),
		Timeout:   g.timeout,
	}
	return Prompt(message)
}

// Prompt formats message as the spoken confirmation prompt.
func Prompt(message string) string {
	return fmt.Sprintf("🔔 %s\n   Say 'yes' to confirm or 'no' to cancel.", message)
}

// Confirm returns the stored action and params and returns the gate to Idle.
// While Idle it is a no-op returning ok=false.
func (g *Gate) Confirm() (action string, params map[string]any, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return "", nil, false
	}
	p := g.pending
	g.pending = nil
	return p.Action, p.Params, true
}

// Cancel discards any outstanding request.
func (g *Gate) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = nil
}

// CheckTimeout reports true exactly once when the outstanding request has been
// waiting longer than its timeout, returning the gate to Idle.
func (g *Gate) CheckTimeout() bool {
	_, expired := g.Expire()
	return expired
}

// Expire is [Gate.CheckTimeout] that also returns the request that expired.
func (g *Gate) Expire() (Pending, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return Pending{}, false
	}
	elapsed := g.now().Sub(g.pending.CreatedAt)
	if elapsed <= g.pending.Timeout {
		return Pending{}, false
	}
	p := *g.pending
	p.Elapsed = elapsed
	g.pending = nil
	return p, true
}

// Pending returns a snapshot of the outstanding request.
func (g *Gate) Pending() (Pending, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return Pending{}, false
	}
	p := *g.pending
	p.Params = maps.Clone(p.Params)
	p.Elapsed = g.now().Sub(p.CreatedAt)
	return p, true
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return Idle
	}
	return Awaiting
}

// Awaiting reports whether a request is outstanding.
func (g *Gate) Awaiting() bool { return g.State() == Awaiting }

// Timeout returns the deadline applied to new requests.
func (g *Gate) Timeout() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.timeout
}

// SetTimeout changes the deadline for future requests. The outstanding
// request keeps the timeout it was created with. Non-positive values are
// ignored.
func (g *Gate) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.timeout = d
}
