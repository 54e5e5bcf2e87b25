package notes_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/lumo/internal/action"
	"github.com/MrWong99/lumo/internal/action/notes"
)

func newDispatcher(t *testing.T) (*action.Dispatcher, *notes.FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "notes.jsonl")
	store := notes.NewFileStore(path)
	return action.New(notes.Actions(store)...), store, path
}

func TestSaveNote_RequiresConfirmation(t *testing.T) {
	t.Parallel()

	d, store, _ := newDispatcher(t)
	ctx := context.Background()

	res := d.Execute(ctx, "save_note", `{"content":"buy milk"}`, false)
	if res.Status != action.StatusNeedsConfirmation {
		t.Fatalf("want needs_confirmation, got %s", res.Status)
	}
	if want := "Save note with content: 'buy milk'. Say 'yes' to confirm."; res.Prompt != want {
		t.Fatalf("want prompt %q, got %q", want, res.Prompt)
	}
	if list, _ := store.List(ctx); len(list) != 0 {
		t.Fatalf("want nothing saved before confirmation, got %d", len(list))
	}

	res = d.Execute(ctx, "save_note", `{"content":"buy milk"}`, true)
	if res.Status != action.StatusOK || res.Output != "Note saved: buy milk" {
		t.Fatalf("unexpected result %+v", res)
	}
	list, err := store.List(ctx)
	if err != nil || len(list) != 1 || list[0].Content != "buy milk" || list[0].ID == "" {
		t.Fatalf("want one saved note, got %+v err=%v", list, err)
	}
}

func TestSaveNote_Empty(t *testing.T) {
	t.Parallel()

	d, _, _ := newDispatcher(t)
	res := d.Execute(context.Background(), "save_note", nil, true)
	if res.Status != action.StatusFailed {
		t.Fatalf("want failure, got %s", res.Status)
	}
	if !strings.Contains(res.Message, "must not be empty") {
		t.Fatalf("unexpected message %q", res.Message)
	}
}

func TestListAndClear(t *testing.T) {
	t.Parallel()

	d, store, path := newDispatcher(t)
	ctx := context.Background()

	if got := d.Execute(ctx, "list_notes", nil, false).Output; got != "You have no saved notes yet." {
		t.Fatalf("unexpected empty listing %q", got)
	}
	for _, c := range []string{"one", "two"} {
		if _, err := store.Add(ctx, c); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if got := d.Execute(ctx, "list_notes", nil, false).Output; got != "Your notes:\n• one\n• two" {
		t.Fatalf("unexpected listing %q", got)
	}

	if res := d.Execute(ctx, "clear_notes", nil, false); res.Status != action.StatusNeedsConfirmation {
		t.Fatalf("want clear_notes to need confirmation, got %s", res.Status)
	}
	if got := d.Execute(ctx, "clear_notes", nil, true).Output; got != "Deleted 2 notes." {
		t.Fatalf("unexpected clear output %q", got)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("want notes file removed, stat err=%v", err)
	}
	if got := d.Execute(ctx, "clear_notes", nil, true).Output; got != "No notes to delete." {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestFileStore_SkipsMalformedLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "notes.jsonl")
	data := `{"id":"1","content":"ok"}` + "\n" + "not json\n\n" + `{"id":"2","content":"also ok"}` + "\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	list, err := notes.NewFileStore(path).List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("want 2 notes, got %d", len(list))
	}
}

func TestFileStore_SkipsOverlongLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "notes.jsonl")
	data := `{"id":"1","content":"` + strings.Repeat("x", 2<<20) + `"}` + "\n" + `{"id":"2","content":"kept"}` + "\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	list, err := notes.NewFileStore(path).List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Content != "kept" {
		t.Fatalf("want only the short note, got %d notes", len(list))
	}
}
