package interaction

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

	"github.com/MrWong99/lumo/internal/jsonl"
)

var _ Store = (*FileStore)(nil)

// maxLine bounds a single JSONL record.
const maxLine = 1 << 20

// FileStore appends records to a JSONL file, one record per line. The file
// is only ever opened for appending; nothing truncates it.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. The file and its parent
// directory are created on first append.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

// Append implements Store.
func (s *FileStore) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("interaction: encode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("interaction: create directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("interaction: open: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("interaction: append: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("interaction: close: %w", err)
	}
	return nil
}

// Recent implements Store. A missing file is an empty log; malformed and
// over-long lines are skipped with a warning.
func (s *FileStore) Recent(ctx context.Context, n int) ([]Record, error) {
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
		return nil, fmt.Errorf("interaction: open: %w", err)
	}
	defer f.Close()

	var out []Record
	err = jsonl.Lines(f, maxLine, func(line int, b []byte, err error) {
		var r Record
		if err == nil {
			err = json.Unmarshal(b, &r)
		}
		if err != nil {
			slog.Warn("interaction: skipping malformed line", "path", s.path, "line", line, "err", err)
			return
		}
		out = append(out, r)
	})
	if err != nil {
		return nil, fmt.Errorf("interaction: read: %w", err)
	}
	return Tail(out, n), nil
}

// Tee fans appends out to several stores and reads from the first one.
type Tee []Store

var _ Store = Tee(nil)

// Append implements Store. Every store is attempted; failures are joined.
func (t Tee) Append(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range t {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recent implements Store.
func (t Tee) Recent(ctx context.Context, n int) ([]Record, error) {
	if len(t) == 0 {
		return nil, nil
	}
	return t[0].Recent(ctx, n)
}
