// Package health serves the liveness and readiness probes.
//
// GET /healthz answers 200 while the process can serve HTTP. GET /readyz runs
// every registered [Checker] concurrently and answers 503 when any of them
// fails. A check may instead report [ErrDegraded], which is shown in the
// report but keeps the assistant ready, e.g. while a fallback LLM answers for
// a broken primary.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lumo/internal/resilience"
)

// CheckTimeout bounds a single check.
const CheckTimeout = 5 * time.Second

// ErrDegraded marks a check result that is worth reporting but does not make
// the assistant unready.
var ErrDegraded = errors.New("degraded")

// Report statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker probes one dependency. Check returns nil when it is usable.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// CheckResult is the outcome of one checker.
type CheckResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Elapsed string `json:"elapsed"`
}

// Report is the /readyz response body.
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Ready reports whether no check failed.
func (r Report) Ready() bool { return r.Status != StatusFail }

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
}

// New returns a Handler over checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register mounts GET /healthz and GET /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: StatusOK})
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Run(r.Context())
	code := http.StatusOK
	if !rep.Ready() {
		code = http.StatusServiceUnavailable
		var failed []string
		for name, c := range rep.Checks {
			if c.Status == StatusFail {
				failed = append(failed, name)
			}
		}
		sort.Strings(failed)
		slog.Warn("health: not ready", "failed", failed)
	}
	writeJSON(w, code, rep)
}

// Run evaluates every checker concurrently, each under [CheckTimeout].
func (h *Handler) Run(ctx context.Context) Report {
	var (
		mu  sync.Mutex
		rep = Report{Status: StatusOK, Checks: make(map[string]CheckResult, len(h.checkers))}
	)
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, CheckTimeout)
			defer cancel()
			start := time.Now()
			err := c.Check(cctx)
			res := CheckResult{Status: StatusOK, Elapsed: time.Since(start).Round(time.Microsecond).String()}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
			case errors.Is(err, ErrDegraded):
				res.Status, res.Error = StatusDegraded, err.Error()
				if rep.Status == StatusOK {
					rep.Status = StatusDegraded
				}
			default:
				res.Status, res.Error = StatusFail, err.Error()
				rep.Status = StatusFail
			}
			rep.Checks[c.Name] = res
			return nil
		})
	}
	_ = g.Wait()
	return rep
}

// ── Checkers ─────────────────────────────────────────────────────────────────

// Writable checks that the directory holding path accepts new files. The
// assistant appends its logs and rewrites its tuning document there.
func Writable(name, path string) Checker {
	return Checker{Name: name, Check: func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		f, err := os.CreateTemp(dir, ".lumo-health-*")
		if err != nil {
			return err
		}
		name := f.Name()
		f.Close()
		return os.Remove(name)
	}}
}

// Breakers fails when every breaker in states is open, so no backend can
// answer. Some open breakers are reported as degraded.
func Breakers(name string, states func() map[string]resilience.State) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		s := states()
		if len(s) == 0 {
			return errors.New("no providers configured")
		}
		var open []string
		for backend, st := range s {
			if st == resilience.StateOpen {
				open = append(open, backend)
			}
		}
		switch {
		case len(open) == 0:
			return nil
		case len(open) == len(s):
			return fmt.Errorf("all %d circuit breakers open", len(s))
		}
		sort.Strings(open)
		return fmt.Errorf("%w: circuit open for %s", ErrDegraded, strings.Join(open, ", "))
	}}
}

// Ping adapts a ping function, such as a database pool's, to a Checker.
func Ping(name string, ping func(context.Context) error) Checker {
	return Checker{Name: name, Check: ping}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("health: encode response", "err", err)
	}
}
