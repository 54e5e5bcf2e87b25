// Package notes provides the note-taking actions and their storage.
//
// Three actions are exported via [Actions]:
//   - "save_note"   appends a note (destructive; needs confirmation).
//   - "list_notes"  reads all notes back.
//   - "clear_notes" deletes every note (destructive; needs confirmation).
package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/lumo/internal/action"
)

// ErrEmptyNote is returned when save_note is called without content.
var ErrEmptyNote = errors.New("notes: content must not be empty")

// Note is one saved note.
type Note struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists notes. Implementations must be safe for concurrent use.
type Store interface {
	// Add stores a new note with the given content.
	Add(ctx context.Context, content string) (Note, error)

	// List returns all notes, oldest first.
	List(ctx context.Context) ([]Note, error)

	// Clear deletes every note and reports how many were removed.
	Clear(ctx context.Context) (int, error)
}

// Actions returns the note actions bound to store.
func Actions(store Store) []action.Action {
	return []action.Action{
		{
			Name:        "save_note",
			Description: "Save a note for the user.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content": map[string]any{"type": "string", "description": "The note text."},
				},
				"required": []string{"content"},
			},
			Destructive: true,
			Prompt: func(p map[string]any) string {
				return fmt.Sprintf("Save note with content: '%s'. Say 'yes' to confirm.", action.Param(p, "content"))
			},
			Handler: func(ctx context.Context, p map[string]any) (string, error) {
				content := action.Param(p, "content")
				if content == "" {
					return "", ErrEmptyNote
				}
				if _, err := store.Add(ctx, content); err != nil {
					return "", err
				}
				return fmt.Sprintf("Note saved: %s", content), nil
			},
		},
		{
			Name:        "list_notes",
			Description: "List the user's saved notes.",
			Handler: func(ctx context.Context, _ map[string]any) (string, error) {
				list, err := store.List(ctx)
				if err != nil {
					return "", err
				}
				return Format(list), nil
			},
		},
		{
			Name:        "clear_notes",
			Description: "Delete all of the user's saved notes.",
			Destructive: true,
			Prompt: func(map[string]any) string {
				return "Delete all saved notes. Say 'yes' to confirm."
			},
			Handler: func(ctx context.Context, _ map[string]any) (string, error) {
				n, err := store.Clear(ctx)
				if err != nil {
					return "", err
				}
				if n == 0 {
					return "No notes to delete.", nil
				}
				return fmt.Sprintf("Deleted %d notes.", n), nil
			},
		},
	}
}

// Format renders notes as a bullet list.
func Format(list []Note) string {
	if len(list) == 0 {
		return "You have no saved notes yet."
	}
	var b strings.Builder
	b.WriteString("Your notes:")
	for _, n := range list {
		b.WriteString("\n• ")
		b.WriteString(n.Content)
	}
	return b.String()
}
