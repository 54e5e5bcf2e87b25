package interaction_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/lumo/internal/interaction"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type failingStore struct{ appends int }

func (f *failingStore) Append(context.Context, interaction.Record) error {
	f.appends++
	return errors.New("disk full")
}

func (f *failingStore) Recent(context.Context, int) ([]interaction.Record, error) {
	return nil, errors.New("disk full")
}

func TestFileStore_AppendAndRecent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := interaction.NewFileStore(filepath.Join(t.TempDir(), "logs", "interactions.jsonl"))

	if got, err := s.Recent(ctx, 5); err != nil || len(got) != 0 {
		t.Fatalf("want empty log before first write, got %d records err=%v", len(got), err)
	}

	for i, tr := range []string{"one", "two", "three"} {
		rec := interaction.Record{Timestamp: t0.Add(time.Duration(i) * time.Second), Transcript: tr, Outcome: interaction.Success}
		if err := s.Append(ctx, rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	tests := []struct {
		n    int
		want []string
	}{
		{n: 2, want: []string{"two", "three"}},
		{n: 0, want: []string{"one", "two", "three"}},
		{n: 10, want: []string{"one", "two", "three"}},
	}
	for _, tc := range tests {
		got, err := s.Recent(ctx, tc.n)
		if err != nil {
			t.Fatalf("recent(%d): %v", tc.n, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("recent(%d): want %d records, got %d", tc.n, len(tc.want), len(got))
		}
		for i := range got {
			if got[i].Transcript != tc.want[i] {
				t.Fatalf("recent(%d)[%d]: want %q, got %q", tc.n, i, tc.want[i], got[i].Transcript)
			}
		}
	}
}

func TestFileStore_NeverTruncates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "interactions.jsonl")
	if err := os.WriteFile(path, []byte("{\"transcript\":\"old\",\"outcome\":\"success\"}\nnot json\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := interaction.NewFileStore(path)
	if err := s.Append(ctx, interaction.Record{Transcript: "new", Outcome: interaction.Failed}); err != nil {
		t.Fatalf("append: %v", err)
	}
	raw, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(raw), "{\"transcript\":\"old\"") {
		t.Fatalf("want existing content kept, got %q", raw)
	}

	got, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 || got[0].Transcript != "old" || got[1].Transcript != "new" {
		t.Fatalf("want old,new with malformed line skipped, got %+v", got)
	}
}

func TestFileStore_SkipsOverlongLines(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "interactions.jsonl")
	s := interaction.NewFileStore(path)
	huge := interaction.Record{Transcript: strings.Repeat("a", 2<<20), Outcome: interaction.Success}
	if err := s.Append(ctx, huge); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, interaction.Record{Transcript: "after", Outcome: interaction.Success}); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 || got[0].Transcript != "after" {
		t.Fatalf("want only the record after the over-long line, got %d records", len(got))
	}
}

func TestFileStore_ConfirmedEncoding(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "interactions.jsonl")
	s := interaction.NewFileStore(path)
	_ = s.Append(ctx, interaction.Record{Outcome: interaction.Pending})
	_ = s.Append(ctx, interaction.Record{Outcome: interaction.Cancelled, Confirmed: interaction.Bool(false)})

	raw, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if strings.Contains(lines[0], "confirmed") {
		t.Fatalf("want confirmed omitted when unset, got %s", lines[0])
	}
	if !strings.Contains(lines[1], `"confirmed":false`) {
		t.Fatalf("want explicit confirmed=false, got %s", lines[1])
	}

	got, _ := s.Recent(ctx, 0)
	if got[0].Confirmed != nil || got[1].Confirmed == nil || *got[1].Confirmed {
		t.Fatalf("want nil then false, got %v / %v", got[0].Confirmed, got[1].Confirmed)
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		recs []interaction.Record
		want interaction.Stats
	}{
		{name: "empty", want: interaction.Stats{}},
		{
			name: "mixed",
			recs: []interaction.Record{
				{WakeDetected: true, Outcome: interaction.Success},
				{WakeDetected: true, Outcome: interaction.Success},
				{WakeDetected: true, Outcome: interaction.Failed},
				{WakeDetected: false, Outcome: interaction.Cancelled},
				{WakeDetected: true, Outcome: interaction.Pending},
			},
			want: interaction.Stats{
				TotalInteractions: 5,
				WakeDetections:    4,
				SuccessfulActions: 2,
				FailedActions:     1,
				CancelledActions:  1,
				SuccessRate:       50,
			},
		},
		{
			name: "only pending",
			recs: []interaction.Record{{Outcome: interaction.Pending}},
			want: interaction.Stats{TotalInteractions: 1},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := interaction.Summarize(tc.recs); got != tc.want {
				t.Fatalf("want %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestLogger_StampsAndObserves(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := interaction.NewFileStore(filepath.Join(t.TempDir(), "interactions.jsonl"))
	var seen []interaction.Outcome
	l := interaction.NewLogger(store,
		interaction.WithClock(func() time.Time { return t0 }),
		interaction.WithObserver(func(_ context.Context, r interaction.Record) { seen = append(seen, r.Outcome) }),
	)

	rec := l.Record(ctx, interaction.Record{WakeDetected: true, Transcript: "hi", Outcome: interaction.Success})
	if !rec.Timestamp.Equal(t0) {
		t.Fatalf("want timestamp %v, got %v", t0, rec.Timestamp)
	}
	l.Record(ctx, interaction.Record{Outcome: interaction.Failed, Error: "No speech detected"})

	st, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalInteractions != 2 || st.SuccessRate != 50 {
		t.Fatalf("want 2 records at 50%%, got %+v", st)
	}
	if len(seen) != 2 {
		t.Fatalf("want observer called twice, got %d", len(seen))
	}
}

func TestLogger_WriteFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	fs := &failingStore{}
	var observed int
	l := interaction.NewLogger(fs, interaction.WithObserver(func(context.Context, interaction.Record) { observed++ }))

	rec := l.Record(context.Background(), interaction.Record{Outcome: interaction.Success})
	if rec.Outcome != interaction.Success || fs.appends != 1 {
		t.Fatalf("want the append attempted once, got %d", fs.appends)
	}
	if observed != 1 {
		t.Fatalf("want observer called despite the failure, got %d", observed)
	}
	if _, err := l.Stats(context.Background()); err == nil {
		t.Fatal("want read error surfaced from Stats")
	}
}

func TestLogger_CancelledContextStillWrites(t *testing.T) {
	t.Parallel()

	store := interaction.NewFileStore(filepath.Join(t.TempDir(), "interactions.jsonl"))
	l := interaction.NewLogger(store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.Record(ctx, interaction.Record{Outcome: interaction.Cancelled})

	got, err := store.Recent(context.Background(), 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("want the record written, got %d err=%v", len(got), err)
	}
}

func TestTee(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := interaction.NewFileStore(filepath.Join(t.TempDir(), "a.jsonl"))
	fs := &failingStore{}
	tee := interaction.Tee{a, fs}

	if err := tee.Append(ctx, interaction.Record{Outcome: interaction.Success}); err == nil {
		t.Fatal("want the failing store's error joined")
	}
	got, err := tee.Recent(ctx, 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("want the first store to have the record, got %d err=%v", len(got), err)
	}
}
