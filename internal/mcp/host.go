// Package mcp connects to Model Context Protocol servers and exposes their
// tools as dispatcher actions.
//
// Lifecycle:
//
//  1. Call [Host.RegisterServer] for each configured server.
//  2. Call [Host.RegisterActions] to add every discovered tool to an
//     [action.Dispatcher].
//  3. Call [Host.Close] on shutdown.
//
// A tool becomes a destructive action unless its annotations mark it
// read-only or explicitly non-destructive. All methods are safe for
// concurrent use.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/lumo/internal/action"
	"github.com/MrWong99/lumo/internal/observe"
)

// ErrToolNotFound is returned by [Host.Call] for unknown tools.
var ErrToolNotFound = errors.New("mcp: tool not found")

// ToolError is an application-level failure reported by the tool itself.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tool %s failed", e.Tool)
	}
	return e.Message
}

// Tool is one discovered MCP tool.
type Tool struct {
	Name        string
	Description string
	Server      string
	Parameters  map[string]any
	Destructive bool
}

type toolEntry struct {
	Tool
	window *rollingWindow
}

// Option configures a [Host].
type Option func(*Host)

// WithMetrics records every tool call on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Host) { h.metrics = m }
}

// WithCallTimeout bounds each tool call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(h *Host) { h.callTimeout = d }
}

// Host holds the sessions to MCP servers and the merged tool catalogue.
// The zero value is not usable; create instances with [New].
type Host struct {
	client      *mcpsdk.Client
	metrics     *observe.Metrics
	callTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*mcpsdk.ClientSession
	tools    map[string]*toolEntry
}

// New returns a Host with no servers.
func New(opts ...Option) *Host {
	h := &Host{
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "lumo", Version: "1.0.0"},
			nil,
		),
		callTimeout: 30 * time.Second,
		sessions:    make(map[string]*mcpsdk.ClientSession),
		tools:       make(map[string]*toolEntry),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// RegisterServer connects to the server described by cfg and imports its
// tools. A server registered again under the same name replaces the old one.
func (h *Host) RegisterServer(ctx context.Context, cfg ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		fields := strings.Fields(cfg.Command)
		cmd := exec.Command(fields[0], fields[1:]...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case TransportStreamableHTTP:
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}
	return h.Connect(ctx, cfg.Name, transport, cfg.Destructive)
}

// Connect opens a session over transport and imports its tools under the
// server name. forceDestructive marks every tool as destructive.
func (h *Host) Connect(ctx context.Context, server string, transport mcpsdk.Transport, forceDestructive bool) error {
	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcp: connect to server %q: %w", server, err)
	}

	var found []*toolEntry
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcp: list tools of server %q: %w", server, err)
		}
		found = append(found, &toolEntry{
			Tool: Tool{
				Name:        t.Name,
				Description: t.Description,
				Server:      server,
				Parameters:  schemaToMap(t.InputSchema),
				Destructive: forceDestructive || isDestructive(t.Annotations),
			},
			window: newRollingWindow(defaultWindowSize),
		})
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.sessions[server]; ok {
		_ = old.Close()
		for name, t := range h.tools {
			if t.Server == server {
				delete(h.tools, name)
			}
		}
	}
	h.sessions[server] = session
	for _, t := range found {
		h.tools[t.Name] = t
	}
	observe.Logger(ctx).Info("mcp: server registered", "server", server, "tools", len(found))
	return nil
}

// isDestructive applies the annotation rule: destructive unless read-only or
// explicitly marked non-destructive.
func isDestructive(a *mcpsdk.ToolAnnotations) bool {
	if a == nil {
		return true
	}
	if a.ReadOnlyHint {
		return false
	}
	if a.DestructiveHint != nil && !*a.DestructiveHint {
		return false
	}
	return true
}

// schemaToMap converts a tool input schema to a JSON Schema map.
func schemaToMap(schema any) map[string]any {
	empty := map[string]any{"type": "object", "properties": map[string]any{}}
	if schema == nil {
		return empty
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return empty
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return empty
	}
	return m
}

// Tools returns the discovered tools sorted by name.
func (h *Host) Tools() []Tool {
	h.mu.RLock()
	out := make([]Tool, 0, len(h.tools))
	for _, t := range h.tools {
		out = append(out, t.Tool)
	}
	h.mu.RUnlock()
	slices.SortFunc(out, func(a, b Tool) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Call runs the named tool and returns its concatenated text content. A tool
// that reports an error yields a [*ToolError].
func (h *Host) Call(ctx context.Context, name string, params map[string]any) (string, error) {
	h.mu.RLock()
	t, ok := h.tools[name]
	var session *mcpsdk.ClientSession
	if ok {
		session = h.sessions[t.Server]
	}
	h.mu.RUnlock()
	if !ok || session == nil {
		return "", fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}

	ctx, span := observe.StartSpan(ctx, "mcp.call_tool")
	defer span.End()
	if h.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.callTimeout)
		defer cancel()
	}

	start := time.Now()
	out, err := callTool(ctx, session, name, params)
	t.window.Record(time.Since(start).Milliseconds(), err != nil)

	if h.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		h.metrics.RecordToolCall(ctx, name, status)
	}
	if err != nil {
		span.RecordError(err)
	}
	return out, err
}

func callTool(ctx context.Context, session *mcpsdk.ClientSession, name string, params map[string]any) (string, error) {
	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: params})
	if err != nil {
		return "", fmt.Errorf("mcp: call %q: %w", name, err)
	}
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return "", &ToolError{Tool: name, Message: sb.String()}
	}
	return sb.String(), nil
}

// Actions converts the discovered tools into dispatcher actions.
func (h *Host) Actions() []action.Action {
	tools := h.Tools()
	out := make([]action.Action, 0, len(tools))
	for _, t := range tools {
		name := t.Name
		out = append(out, action.Action{
			Name:        name,
			Description: t.Description,
			Parameters:  t.Parameters,
			Destructive: t.Destructive,
			Handler: func(ctx context.Context, params map[string]any) (string, error) {
				return h.Call(ctx, name, params)
			},
		})
	}
	return out
}

// RegisterActions adds every tool to d. Tools whose name is already taken
// are skipped and reported in the joined error.
func (h *Host) RegisterActions(d *action.Dispatcher) error {
	var errs []error
	for _, a := range h.Actions() {
		if err := d.Register(a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns the recent call history of every tool, sorted by name.
func (h *Host) Stats() []ToolStats {
	h.mu.RLock()
	out := make([]ToolStats, 0, len(h.tools))
	for _, t := range h.tools {
		s := ToolStats{Name: t.Name, Server: t.Server}
		t.window.snapshot(&s)
		out = append(out, s)
	}
	h.mu.RUnlock()
	slices.SortFunc(out, func(a, b ToolStats) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Close ends every session. The Host must not be used afterwards.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	for name, s := range h.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mcp: close server %q: %w", name, err))
		}
		delete(h.sessions, name)
	}
	clear(h.tools)
	return errors.Join(errs...)
}
