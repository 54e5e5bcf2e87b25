package turn_test

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/lumo/internal/action"
	"github.com/MrWong99/lumo/internal/collect"
	"github.com/MrWong99/lumo/internal/confirm"
	"github.com/MrWong99/lumo/internal/interaction"
	"github.com/MrWong99/lumo/internal/learning"
	"github.com/MrWong99/lumo/internal/turn"
	"github.com/MrWong99/lumo/pkg/audio"
	audiomock "github.com/MrWong99/lumo/pkg/audio/mock"
	kwsmock "github.com/MrWong99/lumo/pkg/provider/kws/mock"
	"github.com/MrWong99/lumo/pkg/provider/llm"
	llmmock "github.com/MrWong99/lumo/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/lumo/pkg/provider/stt/mock"
	vadmock "github.com/MrWong99/lumo/pkg/provider/vad/mock"
)

// ─── helpers ──────────────────────────────────────────────────────────────────

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock { return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// responses collects everything the voice loop says.
type responses struct {
	mu   sync.Mutex
	said []string
}

func (r *responses) Respond(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.said = append(r.said, text)
	return nil
}

func (r *responses) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.said) == 0 {
		return ""
	}
	return r.said[len(r.said)-1]
}

// notes records what the save_note action stored.
type notes struct {
	mu    sync.Mutex
	saved []string
}

func (n *notes) action() action.Action {
	return action.Action{
		Name:        "save_note",
		Description: "Save a note",
		Destructive: true,
		Handler: func(_ context.Context, params map[string]any) (string, error) {
			n.mu.Lock()
			defer n.mu.Unlock()
			note := action.Param(params, "note")
			n.saved = append(n.saved, note)
			return "Note saved: " + note, nil
		},
	}
}

func (n *notes) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.saved...)
}

type fixture struct {
	o     *turn.Orchestrator
	clk   *fakeClock
	gate  *confirm.Gate
	log   *interaction.Logger
	llm   *llmmock.Provider
	stt   *sttmock.Provider
	vad   *vadmock.Detector
	src   *audiomock.FrameSource
	said  *responses
	notes *notes
}

// newFixture wires an orchestrator to mocks sharing one fake clock. The
// frame source advances the clock by one frame per frame and by the poll
// timeout per empty poll.
func newFixture(t *testing.T, provider *llmmock.Provider, extra ...action.Action) *fixture {
	t.Helper()
	f := &fixture{
		clk:   newClock(),
		llm:   provider,
		stt:   &sttmock.Provider{},
		vad:   &vadmock.Detector{Default: true},
		said:  &responses{},
		notes: &notes{},
	}
	f.src = &audiomock.FrameSource{
		OnPoll: func(delivered bool, timeout time.Duration) {
			if delivered {
				f.clk.Advance(audio.FrameDuration)
			} else {
				f.clk.Advance(timeout)
			}
		},
	}
	f.gate = confirm.New(confirm.WithClock(f.clk.Now), confirm.WithTimeout(30*time.Second))
	f.log = interaction.NewLogger(
		interaction.NewFileStore(filepath.Join(t.TempDir(), "interactions.jsonl")),
		interaction.WithClock(f.clk.Now),
	)

	n := 0
	o, err := turn.New(turn.Deps{
		Source:    f.src,
		VAD:       f.vad,
		KWS:       &kwsmock.Spotter{FireAt: 1},
		Collector: collect.New(collect.WithClock(f.clk.Now)),
		STT:       f.stt,
		LLM:       provider,
		Actions:   action.New(append([]action.Action{f.notes.action()}, extra...)...),
		Gate:      f.gate,
		Log:       f.log,
		Responder: f.said,
		NewTurnID: func() string {
			n++
			return "turn-" + strconv.Itoa(n)
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.o = o
	return f
}

// speak queues two frames: one for the wake spotter and one of speech.
func (f *fixture) speak() {
	f.src.Append(audio.Frame{}, audio.Frame{})
}

func (f *fixture) records(t *testing.T) []interaction.Record {
	t.Helper()
	recs, err := f.log.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	return recs
}

func saveNote(note string) *llm.Reply {
	return &llm.Reply{FunctionCall: &llm.FunctionCall{Name: "save_note", Arguments: `{"note":"` + note + `"}`}}
}

// ─── construction ─────────────────────────────────────────────────────────────

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := turn.New(turn.Deps{})
	if err == nil {
		t.Fatal("want error for empty deps")
	}
	for _, want := range []string{"LLM", "Actions", "Gate", "Log"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("want %q in error, got %v", want, err)
		}
	}
}

func TestRun_NeedsAudio(t *testing.T) {
	t.Parallel()

	o, err := turn.New(turn.Deps{
		LLM:     llmmock.Text("hi"),
		Actions: action.New(),
		Gate:    confirm.New(),
		Log:     interaction.NewLogger(interaction.NewFileStore(filepath.Join(t.TempDir(), "log.jsonl"))),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := o.Run(context.Background()); !errors.Is(err, turn.ErrNoAudio) {
		t.Fatalf("want ErrNoAudio, got %v", err)
	}
}

// ─── voice loop ───────────────────────────────────────────────────────────────

func TestStep_Question(t *testing.T) {
	t.Parallel()

	f := newFixture(t, llmmock.Text("It is nine o'clock."))
	f.stt.Default = "Lumo, what time is it?"
	f.speak()

	if err := f.o.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := f.said.last(); got != "It is nine o'clock." {
		t.Fatalf("want the backend's answer spoken, got %q", got)
	}
	if got := f.llm.LastRequest().Text; got != "what time is it" {
		t.Fatalf("want wake word stripped from query, got %q", got)
	}

	recs := f.records(t)
	if len(recs) != 1 {
		t.Fatalf("want 1 record, got %d", len(recs))
	}
	r := recs[0]
	if !r.WakeDetected || r.Intent != turn.IntentQuery || r.Action != turn.ActionLLMResponse || r.Outcome != interaction.Success {
		t.Fatalf("unexpected record %+v", r)
	}
	if r.TurnID != "turn-1" {
		t.Fatalf("want turn ID turn-1, got %q", r.TurnID)
	}
}

func TestStep_NoWakeLogsNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, llmmock.Text("unused"))
	if err := f.o.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if n := len(f.records(t)); n != 0 {
		t.Fatalf("want no records, got %d", n)
	}
	if f.stt.CallCount() != 0 {
		t.Fatal("want no transcription without a wake phrase")
	}
}

func TestStep_NoSpeechLogsFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, llmmock.Text("unused"))
	f.vad.Default = false
	f.speak()

	if err := f.o.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	recs := f.records(t)
	if len(recs) != 1 {
		t.Fatalf("want 1 record, got %d", len(recs))
	}
	r := recs[0]
	if r.Outcome != interaction.Failed || r.Error != turn.MsgNoSpeech || !r.WakeDetected {
		t.Fatalf("want failed no-speech record after a wake, got %+v", r)
	}
	if f.stt.CallCount() != 0 {
		t.Fatal("want no transcription without speech")
	}
}

func TestStep_EmptyTranscription(t *testing.T) {
	t.Parallel()

	f := newFixture(t, llmmock.Text("unused"))
	f.stt.Default = "lumo"
	f.speak()

	if err := f.o.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	recs := f.records(t)
	if len(recs) != 1 || recs[0].Outcome != interaction.Failed || recs[0].Error != turn.MsgEmptyTranscription {
		t.Fatalf("want one failed empty-transcription record, got %+v", recs)
	}
	if f.llm.CallCount() != 0 {
		t.Fatal("want no backend call for an empty query")
	}
}

func TestStep_BackendErrorIsLogged(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &llmmock.Provider{Err: context.DeadlineExceeded})
	f.stt.Default = "lumo tell me a joke"
	f.speak()

	if err := f.o.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	recs := f.records(t)
	if len(recs) != 1 {
		t.Fatalf("want 1 record, got %d", len(recs))
	}
	if recs[0].Outcome != interaction.Failed || !strings.HasPrefix(recs[0].Error, "Timeout: ") {
		t.Fatalf("want failed record with Timeout kind, got %+v", recs[0])
	}
	if f.said.last() != "Sorry, something went wrong." {
		t.Fatalf("want apology, got %q", f.said.last())
	}
	if recs[0].WakeDetected {
		t.Fatalf("want wake_detected=false for a backend failure, got %+v", recs[0])
	}
}

func TestStep_BackendFailuresFeedWakeSuggestion(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &llmmock.Provider{Err: context.DeadlineExceeded})
	f.stt.Default = "lumo tell me a joke"
	ctx := context.Background()

	for i := range 10 {
		f.speak()
		if err := f.o.Step(ctx); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}
	recs := f.records(t)
	if len(recs) != 10 {
		t.Fatalf("want 10 records, got %d", len(recs))
	}
	for _, r := range recs {
		if r.WakeDetected || r.Outcome != interaction.Failed {
			t.Fatalf("want failed records without wake, got %+v", r)
		}
	}

	cfg := learning.DefaultThresholds()
	s, ok := learning.SuggestKWS(cfg, recs)
	if !ok {
		t.Fatal("want a wake-word suggestion from the orchestrator's records")
	}
	if s.Suggested >= cfg.KWS.PatternThreshold {
		t.Fatalf("want threshold lowered from %v, got %v", cfg.KWS.PatternThreshold, s.Suggested)
	}
}

func TestStep_ConfirmationTimesOut(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &llmmock.Provider{Reply: saveNote("buy milk")})
	f.stt.Default = "lumo save a note buy milk"
	f.speak()
	ctx := context.Background()

	if err := f.o.Step(ctx); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !f.gate.Awaiting() {
		t.Fatal("want gate awaiting after a destructive call")
	}
	if got := f.said.last(); !strings.Contains(got, "Execute save_note.") || !strings.Contains(got, "Say 'yes' to confirm or 'no' to cancel.") {
		t.Fatalf("unexpected prompt %q", got)
	}

	// Nobody answers: the miss is logged and the request stays.
	if err := f.o.Step(ctx); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !f.gate.Awaiting() {
		t.Fatal("want request kept after a wake miss")
	}

	f.clk.Advance(31 * time.Second)
	if err := f.o.Step(ctx); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if f.gate.State() != confirm.Idle {
		t.Fatalf("want Idle after timeout, got %v", f.gate.State())
	}
	if got := f.said.last(); got != "Confirmation timed out. Cancelled." {
		t.Fatalf("unexpected reply %q", got)
	}
	if len(f.notes.all()) != 0 {
		t.Fatal("want no note saved")
	}

	recs := f.records(t)
	if len(recs) != 3 {
		t.Fatalf("want 3 records, got %d", len(recs))
	}
	if recs[0].Outcome != interaction.Pending || recs[0].Action != "save_note" || !recs[0].WakeDetected {
		t.Fatalf("want pending save_note first, got %+v", recs[0])
	}
	miss := recs[1]
	if miss.WakeDetected || miss.Outcome != interaction.Failed || miss.Error != turn.MsgNoWake || miss.Action != "save_note" {
		t.Fatalf("want failed wake-miss record, got %+v", miss)
	}
	r := recs[2]
	if r.WakeDetected {
		t.Fatalf("want wake_detected=false on timeout, got %+v", r)
	}
	if r.Outcome != interaction.Cancelled || r.Error != turn.MsgConfirmTimeout || r.Action != "save_note" || r.Intent != turn.IntentConfirmation {
		t.Fatalf("unexpected timeout record %+v", r)
	}
	if r.Confirmed == nil || *r.Confirmed {
		t.Fatalf("want confirmed=false, got %v", r.Confirmed)
	}
}

func TestStep_ConfirmationAccepted(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &llmmock.Provider{Reply: saveNote("buy milk")})
	f.stt.Transcripts = []string{"lumo save a note buy milk", "lumo yes"}
	ctx := context.Background()

	f.speak()
	if err := f.o.Step(ctx); err != nil {
		t.Fatalf("Step: %v", err)
	}
	f.speak()
	if err := f.o.Step(ctx); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if got := f.notes.all(); len(got) != 1 || got[0] != "buy milk" {
		t.Fatalf("want note 'buy milk' saved, got %v", got)
	}
	if got := f.said.last(); got != "Note saved: buy milk" {
		t.Fatalf("unexpected reply %q", got)
	}
	recs := f.records(t)
	last := recs[len(recs)-1]
	if last.Outcome != interaction.Success || last.Confirmed == nil || !*last.Confirmed || last.Action != "save_note" {
		t.Fatalf("unexpected confirmation record %+v", last)
	}
	if f.llm.CallCount() != 1 {
		t.Fatalf("want a single backend call, got %d", f.llm.CallCount())
	}
}

func TestStep_InvalidReplyReprompts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &llmmock.Provider{Reply: saveNote("buy milk")})
	f.stt.Transcripts = []string{"lumo save a note buy milk", "lumo maybe later"}
	ctx := context.Background()

	f.speak()
	_ = f.o.Step(ctx)
	f.speak()
	if err := f.o.Step(ctx); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if got := f.said.last(); got != "Please say 'yes' or 'no'." {
		t.Fatalf("unexpected reply %q", got)
	}
	if !f.gate.Awaiting() {
		t.Fatal("want request kept after an unclear answer")
	}
	recs := f.records(t)
	last := recs[len(recs)-1]
	if last.Outcome != interaction.Failed || last.Error != turn.MsgInvalidReply {
		t.Fatalf("unexpected record %+v", last)
	}
}

func TestStep_ConfirmationNoSpeechReprompts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &llmmock.Provider{Reply: saveNote("buy milk")})
	f.stt.Default = "lumo save a note buy milk"
	ctx := context.Background()

	f.speak()
	_ = f.o.Step(ctx)
	f.vad.Default = false
	f.speak()
	if err := f.o.Step(ctx); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if got := f.said.last(); got != "Please say 'yes' or 'no'." {
		t.Fatalf("unexpected reply %q", got)
	}
	if !f.gate.Awaiting() {
		t.Fatal("want request kept after silence")
	}
	recs := f.records(t)
	last := recs[len(recs)-1]
	if last.Outcome != interaction.Failed || last.Error != turn.MsgNoSpeech || !last.WakeDetected || last.Intent != turn.IntentConfirmation {
		t.Fatalf("unexpected record %+v", last)
	}
	if f.stt.CallCount() != 1 {
		t.Fatalf("want only the command transcribed, got %d calls", f.stt.CallCount())
	}
}

func TestStep_AnswersConfirmationRequestedByText(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &llmmock.Provider{Reply: saveNote("buy milk")})
	f.stt.Default = "lumo yes"
	ctx := context.Background()

	// The chat message arrives while the voice loop waits for the wake phrase.
	advance := f.src.OnPoll
	var once sync.Once
	f.src.OnPoll = func(delivered bool, timeout time.Duration) {
		once.Do(func() {
			rep, err := f.o.HandleText(ctx, "lumo save a note buy milk")
			if err != nil || rep.Kind != turn.KindNeedsConfirmation {
				t.Errorf("want confirmation prompt, got %+v, %v", rep, err)
			}
		})
		advance(delivered, timeout)
	}
	f.speak()
	if err := f.o.Step(ctx); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if got := f.notes.all(); len(got) != 1 || got[0] != "buy milk" {
		t.Fatalf("want spoken yes to confirm the chat request, got %v", got)
	}
	if f.llm.CallCount() != 1 {
		t.Fatalf("want the answer kept from the backend, got %d calls", f.llm.CallCount())
	}
	if f.gate.Awaiting() {
		t.Fatal("want gate idle after the answer")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, llmmock.Text("unused"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.o.Run(ctx); err != nil {
		t.Fatalf("want nil on cancel, got %v", err)
	}
}

// ─── text messages ────────────────────────────────────────────────────────────

func TestHandleText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		provider    *llmmock.Provider
		message     string
		wantKind    turn.Kind
		wantText    string
		wantRecords int
		wantOutcome interaction.Outcome
	}{
		{
			name:     "no wake word",
			provider: llmmock.Text("unused"),
			message:  "what time is it",
			wantKind: turn.KindNoWakeWord,
			wantText: "Wake word 'lumo' not detected.",
		},
		{
			name:        "wake word only",
			provider:    llmmock.Text("unused"),
			message:     "Lumo!",
			wantKind:    turn.KindEmptyQuery,
			wantText:    "You said my name but didn't ask me anything.",
			wantRecords: 1,
			wantOutcome: interaction.Failed,
		},
		{
			name:        "question",
			provider:    llmmock.Text("Paris."),
			message:     "lumo what is the capital of france",
			wantKind:    turn.KindText,
			wantText:    "Paris.",
			wantRecords: 1,
			wantOutcome: interaction.Success,
		},
		{
			name:        "empty backend answer",
			provider:    llmmock.Text("  "),
			message:     "lumo hmm",
			wantKind:    turn.KindText,
			wantText:    "I'm not sure how to help with that.",
			wantRecords: 1,
			wantOutcome: interaction.Success,
		},
		{
			name:        "unknown function",
			provider:    llmmock.Call("launch_rocket", "{}"),
			message:     "lumo launch the rocket",
			wantKind:    turn.KindFunctionResult,
			wantText:    "Action not implemented.",
			wantRecords: 1,
			wantOutcome: interaction.Failed,
		},
		{
			name:        "destructive keyword",
			provider:    llmmock.Text("unused"),
			message:     "lumo delete all my files",
			wantKind:    turn.KindNeedsConfirmation,
			wantText:    "🔔 About to execute: delete all my files\n   Say 'yes' to confirm or 'no' to cancel.",
			wantRecords: 1,
			wantOutcome: interaction.Pending,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, tc.provider)
			reply, err := f.o.HandleText(context.Background(), tc.message)
			if err != nil {
				t.Fatalf("HandleText: %v", err)
			}
			if reply.Kind != tc.wantKind || reply.Text != tc.wantText {
				t.Fatalf("want %s %q, got %s %q", tc.wantKind, tc.wantText, reply.Kind, reply.Text)
			}
			recs := f.records(t)
			if len(recs) != tc.wantRecords {
				t.Fatalf("want %d records, got %d", tc.wantRecords, len(recs))
			}
			if tc.wantRecords > 0 && recs[0].Outcome != tc.wantOutcome {
				t.Fatalf("want outcome %s, got %s", tc.wantOutcome, recs[0].Outcome)
			}
		})
	}
}

func TestHandleText_EmptyMessage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, llmmock.Text("unused"))
	if _, err := f.o.HandleText(context.Background(), "   "); !errors.Is(err, turn.ErrEmptyMessage) {
		t.Fatalf("want ErrEmptyMessage, got %v", err)
	}
}

func TestHandleText_ConfirmFlow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		answer    string
		wantKind  turn.Kind
		wantNotes int
		wantOut   interaction.Outcome
	}{
		{name: "yes", answer: "yes", wantKind: turn.KindConfirmationAccepted, wantNotes: 1, wantOut: interaction.Success},
		{name: "go ahead", answer: "go ahead please", wantKind: turn.KindConfirmationAccepted, wantNotes: 1, wantOut: interaction.Success},
		{name: "no", answer: "no", wantKind: turn.KindConfirmationRejected, wantOut: interaction.Cancelled},
		{name: "cancel", answer: "Cancel that.", wantKind: turn.KindConfirmationRejected, wantOut: interaction.Cancelled},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, &llmmock.Provider{Reply: saveNote("buy milk")})
			ctx := context.Background()

			first, err := f.o.HandleText(ctx, "lumo save a note buy milk")
			if err != nil {
				t.Fatalf("HandleText: %v", err)
			}
			if first.Kind != turn.KindNeedsConfirmation || first.Action != "save_note" {
				t.Fatalf("want needs_confirmation for save_note, got %+v", first)
			}

			reply, err := f.o.HandleText(ctx, tc.answer)
			if err != nil {
				t.Fatalf("HandleText: %v", err)
			}
			if reply.Kind != tc.wantKind {
				t.Fatalf("want %s, got %+v", tc.wantKind, reply)
			}
			if got := len(f.notes.all()); got != tc.wantNotes {
				t.Fatalf("want %d notes, got %d", tc.wantNotes, got)
			}
			if f.gate.Awaiting() {
				t.Fatal("want gate idle after an answer")
			}
			recs := f.records(t)
			if last := recs[len(recs)-1]; last.Outcome != tc.wantOut || last.Intent != turn.IntentConfirmation {
				t.Fatalf("unexpected record %+v", last)
			}
		})
	}
}

func TestHandleText_DestructiveKeywordResolvedAfterYes(t *testing.T) {
	t.Parallel()

	var wiped []string
	wipe := action.Action{
		Name:        "clear_notes",
		Destructive: true,
		Handler: func(_ context.Context, params map[string]any) (string, error) {
			wiped = append(wiped, action.Param(params, "scope"))
			return "All notes cleared.", nil
		},
	}
	f := newFixture(t, llmmock.Call("clear_notes", `{"scope":"all"}`), wipe)
	ctx := context.Background()

	if _, err := f.o.HandleText(ctx, "lumo clear all my notes"); err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	if f.llm.CallCount() != 0 {
		t.Fatal("want no backend call before confirmation")
	}

	reply, err := f.o.HandleText(ctx, "yes")
	if err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	if reply.Text != "All notes cleared." || reply.Action != "clear_notes" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if len(wiped) != 1 || wiped[0] != "all" {
		t.Fatalf("want handler run once with scope=all, got %v", wiped)
	}
	if got := f.llm.LastRequest().Text; got != "clear all my notes" {
		t.Fatalf("want the original command re-sent, got %q", got)
	}
}

func TestHandleText_ExpiredConfirmation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &llmmock.Provider{Reply: saveNote("buy milk")})
	ctx := context.Background()

	if _, err := f.o.HandleText(ctx, "lumo save a note buy milk"); err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	f.clk.Advance(time.Minute)

	reply, err := f.o.HandleText(ctx, "yes")
	if err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	if reply.Kind != turn.KindNoWakeWord {
		t.Fatalf("want a late 'yes' treated as a new message, got %+v", reply)
	}
	if len(f.notes.all()) != 0 {
		t.Fatal("want nothing saved after expiry")
	}
	recs := f.records(t)
	if last := recs[len(recs)-1]; last.Error != turn.MsgConfirmTimeout {
		t.Fatalf("want timeout record, got %+v", last)
	}
}

func TestHandleText_BackendError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &llmmock.Provider{Err: llm.ErrEmptyResponse})
	_, err := f.o.HandleText(context.Background(), "lumo hello")
	if !errors.Is(err, llm.ErrEmptyResponse) {
		t.Fatalf("want ErrEmptyResponse, got %v", err)
	}
	recs := f.records(t)
	if len(recs) != 1 || recs[0].Outcome != interaction.Failed || recs[0].Transcript != "hello" {
		t.Fatalf("want one failed record, got %+v", recs)
	}
}

func TestHandleText_UsesHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &llmmock.Provider{Replies: []*llm.Reply{{Content: "Hi there."}, {Content: "You said hello."}}})
	ctx := context.Background()

	if _, err := f.o.HandleText(ctx, "lumo hello"); err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	if _, err := f.o.HandleText(ctx, "lumo what did I say"); err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	if got := f.llm.LastRequest().Context; got != "User: hello\nLumo: Hi there." {
		t.Fatalf("unexpected context %q", got)
	}

	f.o.Clear(ctx)
	if f.o.History().Len() != 0 {
		t.Fatal("want history cleared")
	}
}

func TestHistory_Limit(t *testing.T) {
	t.Parallel()

	h := turn.NewHistory(2)
	h.Add("a", "1")
	h.Add("b", "2")
	h.Add("c", "3")
	if got := h.Render(); got != "User: b\nLumo: 2\nUser: c\nLumo: 3" {
		t.Fatalf("unexpected history %q", got)
	}

	off := turn.NewHistory(-1)
	off.Add("a", "1")
	if off.Len() != 0 {
		t.Fatal("want disabled history to stay empty")
	}
}
