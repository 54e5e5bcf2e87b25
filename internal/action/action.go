// Package action holds the registry of things the assistant can do and the
// dispatcher that runs them.
//
// Every action carries a destructive flag. Destructive actions only run when
// the caller says the user confirmed them; otherwise [Dispatcher.Execute]
// returns a [NeedsConfirmation] result carrying the question to ask. The
// dispatcher never records interactions; that is the caller's job.
package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/lumo/pkg/provider/llm"
)

// KindNotImplemented is the failure kind for unknown action names.
const KindNotImplemented = "not_implemented"

// Sentinel errors.
var (
	ErrDuplicateAction = errors.New("action: already registered")
	ErrNotRegistered   = errors.New("action: not registered")
)

// Handler runs an action with normalized params and returns the reply text.
// Implementations must respect ctx cancellation.
type Handler func(ctx context.Context, params map[string]any) (string, error)

// PromptFunc builds the confirmation question for a destructive action.
type PromptFunc func(params map[string]any) string

// Action is one registry entry.
type Action struct {
	// Name is the unique identifier, also used as the LLM function name.
	Name string

	// Description is shown to the LLM.
	Description string

	// Parameters is the JSON Schema of the params object. Nil means an empty
	// object schema.
	Parameters map[string]any

	// Destructive actions require confirmation before the handler runs.
	Destructive bool

	Handler Handler

	// Prompt overrides the default confirmation question.
	Prompt PromptFunc
}

// Dispatcher is a concurrency-safe action registry.
type Dispatcher struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// New returns a Dispatcher with the given actions registered. It panics on
// an invalid or duplicate action, which is a programming error.
func New(actions ...Action) *Dispatcher {
	d := &Dispatcher{actions: make(map[string]Action)}
	for _, a := range actions {
		if err := d.Register(a); err != nil {
			panic(err)
		}
	}
	return d
}

// Register adds a. Names must be unique and handlers non-nil.
func (d *Dispatcher) Register(a Action) error {
	if a.Name == "" {
		return errors.New("action: name must not be empty")
	}
	if a.Handler == nil {
		return fmt.Errorf("action: %q must have a non-nil handler", a.Name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.actions[a.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateAction, a.Name)
	}
	d.actions[a.Name] = a
	return nil
}

// Unregister removes the named action.
func (d *Dispatcher) Unregister(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.actions[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	delete(d.actions, name)
	return nil
}

// Lookup returns the named action.
func (d *Dispatcher) Lookup(name string) (Action, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.actions[name]
	return a, ok
}

// IsDestructive reports whether name is registered and destructive.
func (d *Dispatcher) IsDestructive(name string) bool {
	a, ok := d.Lookup(name)
	return ok && a.Destructive
}

// Names returns the registered names, sorted.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	names := make([]string, 0, len(d.actions))
	for n := range d.actions {
		names = append(names, n)
	}
	d.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Tools exports the registry as LLM function schemas, sorted by name.
func (d *Dispatcher) Tools() []llm.ToolDefinition {
	names := d.Names()
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]llm.ToolDefinition, 0, len(names))
	for _, n := range names {
		a, ok := d.actions[n]
		if !ok {
			continue
		}
		params := a.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, llm.ToolDefinition{Name: a.Name, Description: a.Description, Parameters: params})
	}
	return out
}

// Execute runs the named action.
//
// args may be a map, a JSON object as string, []byte or json.RawMessage, or
// nil; malformed JSON degrades to an empty map. A destructive action with
// confirmed=false returns [NeedsConfirmation] without running the handler.
// Handler errors become [Failed] results; Execute itself never fails.
func (d *Dispatcher) Execute(ctx context.Context, name string, args any, confirmed bool) Result {
	a, ok := d.Lookup(name)
	if !ok {
		return Failed(KindNotImplemented, "Action not implemented.")
	}
	params := NormalizeArgs(args)

	if a.Destructive && !confirmed {
		return NeedsConfirmation(a.prompt(params))
	}

	out, err := a.Handler(ctx, params)
	if err != nil {
		return Failed(ErrorKind(err), err.Error())
	}
	return OK(out)
}

// ConfirmationPrompt returns the question asked before running name.
func (d *Dispatcher) ConfirmationPrompt(name string, args any) string {
	a, ok := d.Lookup(name)
	if !ok {
		a = Action{Name: name}
	}
	return a.prompt(NormalizeArgs(args))
}

func (a Action) prompt(params map[string]any) string {
	if a.Prompt != nil {
		return a.Prompt(params)
	}
	return fmt.Sprintf("Execute %s. Say 'yes' to confirm.", a.Name)
}

// NormalizeArgs converts LLM function-call arguments to a params map. It
// never returns nil.
func NormalizeArgs(args any) map[string]any {
	var raw []byte
	switch v := args.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		if v == nil {
			return map[string]any{}
		}
		return maps.Clone(v)
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	default:
		// Structs and other maps go through JSON.
		b, err := json.Marshal(v)
		if err != nil {
			return map[string]any{}
		}
		raw = b
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

// kinder is implemented by errors that name their own kind.
type kinder interface {
	Kind() string
}

// ErrorKind names the kind of err for failure records: the Kind() method when
// present, "Timeout"/"Canceled" for context errors, otherwise the dynamic type
// name of the outermost error, with generic wrappers reported as "Error".
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var k kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch name := t.Name(); name {
	case "", "errorString", "wrapError", "wrapErrors", "joinError":
		return "Error"
	default:
		return name
	}
}

// Param returns params[key] as a trimmed string; non-strings are formatted.
func Param(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
