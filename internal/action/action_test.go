package action_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/lumo/internal/action"
)

type quotaError struct{}

func (quotaError) Error() string { return "quota exceeded" }

type kindedError struct{}

func (kindedError) Error() string { return "nope" }
func (kindedError) Kind() string  { return "PermissionDenied" }

// recorder returns an action whose handler counts calls.
func recorder(name string, destructive bool, calls *int, out string, err error) action.Action {
	return action.Action{
		Name:        name,
		Destructive: destructive,
		Handler: func(_ context.Context, params map[string]any) (string, error) {
			*calls++
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s:%s", out, action.Param(params, "content")), nil
		},
	}
}

func TestExecute_DestructiveNeedsConfirmation(t *testing.T) {
	t.Parallel()

	var calls int
	d := action.New(recorder("wipe", true, &calls, "wiped", nil))

	res := d.Execute(context.Background(), "wipe", nil, false)
	if res.Status != action.StatusNeedsConfirmation {
		t.Fatalf("want needs_confirmation, got %s", res.Status)
	}
	if res.Prompt != "Execute wipe. Say 'yes' to confirm." {
		t.Fatalf("unexpected prompt %q", res.Prompt)
	}
	if calls != 0 {
		t.Fatalf("want handler not called, got %d calls", calls)
	}

	res = d.Execute(context.Background(), "wipe", nil, true)
	if res.Status != action.StatusOK || calls != 1 {
		t.Fatalf("want ok after confirmation with 1 call, got %s and %d calls", res.Status, calls)
	}
}

func TestExecute_NonDestructiveAlwaysRuns(t *testing.T) {
	t.Parallel()

	for _, confirmed := range []bool{false, true} {
		var calls int
		d := action.New(recorder("look", false, &calls, "seen", nil))
		res := d.Execute(context.Background(), "look", `{"content":"x"}`, confirmed)
		if res.Status != action.StatusOK || res.Output != "seen:x" {
			t.Fatalf("confirmed=%v: want ok seen:x, got %+v", confirmed, res)
		}
		if calls != 1 {
			t.Fatalf("confirmed=%v: want 1 call, got %d", confirmed, calls)
		}
	}
}

func TestExecute_Unknown(t *testing.T) {
	t.Parallel()

	res := action.New().Execute(context.Background(), "launch_rockets", nil, true)
	if res.Status != action.StatusFailed || res.Kind != action.KindNotImplemented {
		t.Fatalf("want not_implemented failure, got %+v", res)
	}
	if res.Text() != "Action not implemented." {
		t.Fatalf("unexpected text %q", res.Text())
	}
}

func TestExecute_HandlerError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantKind string
	}{
		{name: "typed", err: quotaError{}, wantKind: "quotaError"},
		{name: "wrapped typed", err: fmt.Errorf("search: %w", &json.SyntaxError{}), wantKind: "Error"},
		{name: "kind method", err: fmt.Errorf("wrap: %w", kindedError{}), wantKind: "PermissionDenied"},
		{name: "plain", err: errors.New("boom"), wantKind: "Error"},
		{name: "deadline", err: fmt.Errorf("fetch: %w", context.DeadlineExceeded), wantKind: "Timeout"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var calls int
			d := action.New(recorder("act", false, &calls, "", tc.err))
			res := d.Execute(context.Background(), "act", nil, false)
			if res.Status != action.StatusFailed {
				t.Fatalf("want failed, got %s", res.Status)
			}
			if res.Kind != tc.wantKind {
				t.Fatalf("want kind %q, got %q", tc.wantKind, res.Kind)
			}
			if res.Error() != tc.wantKind+": "+tc.err.Error() {
				t.Fatalf("unexpected record error %q", res.Error())
			}
		})
	}
}

func TestNormalizeArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args any
		want string
	}{
		{name: "nil", args: nil, want: ""},
		{name: "map", args: map[string]any{"content": "milk"}, want: "milk"},
		{name: "json string", args: `{"content":"eggs"}`, want: "eggs"},
		{name: "bytes", args: []byte(`{"content":"tea"}`), want: "tea"},
		{name: "raw message", args: json.RawMessage(`{"content":"jam"}`), want: "jam"},
		{name: "malformed", args: `{"content":`, want: ""},
		{name: "json array", args: `["a"]`, want: ""},
		{name: "empty string", args: "  ", want: ""},
		{name: "struct", args: struct {
			Content string `json:"content"`
		}{"bread"}, want: "bread"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := action.NormalizeArgs(tc.args)
			if got == nil {
				t.Fatal("want non-nil map")
			}
			if action.Param(got, "content") != tc.want {
				t.Fatalf("want content %q, got %q", tc.want, action.Param(got, "content"))
			}
		})
	}
}

func TestNormalizeArgs_CopiesMap(t *testing.T) {
	t.Parallel()
	in := map[string]any{"k": "v"}
	out := action.NormalizeArgs(in)
	out["k"] = "changed"
	if in["k"] != "v" {
		t.Fatal("want input map untouched")
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	var calls int
	d := action.New()
	if err := d.Register(recorder("a", false, &calls, "", nil)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := d.Register(recorder("a", true, &calls, "", nil)); !errors.Is(err, action.ErrDuplicateAction) {
		t.Fatalf("want ErrDuplicateAction, got %v", err)
	}
	if err := d.Register(action.Action{Name: "nohandler"}); err == nil {
		t.Fatal("want error for nil handler")
	}
	if err := d.Unregister("missing"); !errors.Is(err, action.ErrNotRegistered) {
		t.Fatalf("want ErrNotRegistered, got %v", err)
	}
	if err := d.Unregister("a"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if _, ok := d.Lookup("a"); ok {
		t.Fatal("want a removed")
	}
}

func TestTools(t *testing.T) {
	t.Parallel()

	var calls int
	d := action.New(
		recorder("zeta", false, &calls, "", nil),
		action.Action{
			Name:        "alpha",
			Description: "first",
			Parameters:  map[string]any{"type": "object", "required": []string{"content"}},
			Handler:     func(context.Context, map[string]any) (string, error) { return "", nil },
		},
	)
	tools := d.Tools()
	if len(tools) != 2 || tools[0].Name != "alpha" || tools[1].Name != "zeta" {
		t.Fatalf("want sorted [alpha zeta], got %+v", tools)
	}
	if tools[1].Parameters["type"] != "object" {
		t.Fatalf("want default object schema, got %v", tools[1].Parameters)
	}
	if d.IsDestructive("zeta") || d.IsDestructive("alpha") {
		t.Fatal("want neither destructive")
	}
}

func TestConfirmationPrompt_Custom(t *testing.T) {
	t.Parallel()

	d := action.New(action.Action{
		Name:        "save_note",
		Destructive: true,
		Handler:     func(context.Context, map[string]any) (string, error) { return "", nil },
		Prompt: func(p map[string]any) string {
			return fmt.Sprintf("Save note with content: '%s'. Say 'yes' to confirm.", action.Param(p, "content"))
		},
	})
	want := "Save note with content: 'buy milk'. Say 'yes' to confirm."
	if got := d.ConfirmationPrompt("save_note", `{"content":"buy milk"}`); got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
	if got := d.Execute(context.Background(), "save_note", map[string]any{"content": "buy milk"}, false).Prompt; got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestResult_Text(t *testing.T) {
	t.Parallel()

	tests := []struct {
		res  action.Result
		want string
	}{
		{res: action.OK("done"), want: "done"},
		{res: action.NeedsConfirmation("sure?"), want: "sure?"},
		{res: action.Failed("IOError", "disk full"), want: "Error executing action: disk full"},
	}
	for _, tc := range tests {
		if got := tc.res.Text(); got != tc.want {
			t.Errorf("want %q, got %q", tc.want, got)
		}
	}
	if action.OK("x").Error() != "" {
		t.Error("want empty error for ok result")
	}
}
