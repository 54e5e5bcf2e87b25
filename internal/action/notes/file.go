package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/lumo/internal/jsonl"
)

var _ Store = (*FileStore)(nil)

// maxLine bounds a single stored note.
const maxLine = 1 << 20

// FileStore keeps notes in a JSONL file, one note per line.
type FileStore struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

// NewFileStore returns a store backed by path. The file and its parent
// directory are created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// Add implements Store.
func (s *FileStore) Add(ctx context.Context, content string) (Note, error) {
	if err := ctx.Err(); err != nil {
		return Note{}, err
	}
	n := Note{ID: uuid.NewString(), Content: content, CreatedAt: s.now().UTC()}
	line, err := json.Marshal(n)
	if err != nil {
		return Note{}, fmt.Errorf("notes: encode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return Note{}, fmt.Errorf("notes: create directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return Note{}, fmt.Errorf("notes: open: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return Note{}, fmt.Errorf("notes: append: %w", err)
	}
	return n, nil
}

// List implements Store. Malformed and over-long lines are skipped with a
// warning.
func (s *FileStore) List(ctx context.Context) ([]Note, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("notes: open: %w", err)
	}
	defer f.Close()

	var out []Note
	err = jsonl.Lines(f, maxLine, func(line int, b []byte, err error) {
		var n Note
		if err == nil {
			err = json.Unmarshal(b, &n)
		}
		if err != nil {
			slog.Warn("notes: skipping malformed line", "path", s.path, "line", line, "err", err)
			return
		}
		out = append(out, n)
	})
	if err != nil {
		return nil, fmt.Errorf("notes: read: %w", err)
	}
	return out, nil
}

// Clear implements Store.
func (s *FileStore) Clear(ctx context.Context) (int, error) {
	list, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("notes: clear: %w", err)
	}
	return len(list), nil
}
