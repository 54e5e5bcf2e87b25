// Package turn runs the assistant's interaction cycle.
//
// An [Orchestrator] owns one pass of the voice loop per [Orchestrator.Step]:
// it polls the confirmation gate for a timeout, then either waits for the
// answer to an outstanding confirmation question or listens for a new
// command. Text messages from the chat API go through
// [Orchestrator.HandleText], which shares the gate, the interaction log and
// the conversation history with the voice loop.
//
// Every finished turn is written to the interaction log. Failures inside a
// turn are logged and the loop continues; only context cancellation ends it.
package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/lumo/internal/action"
	"github.com/MrWong99/lumo/internal/collect"
	"github.com/MrWong99/lumo/internal/confirm"
	"github.com/MrWong99/lumo/internal/intent"
	"github.com/MrWong99/lumo/internal/interaction"
	"github.com/MrWong99/lumo/internal/learning"
	"github.com/MrWong99/lumo/internal/observe"
	"github.com/MrWong99/lumo/pkg/audio"
	"github.com/MrWong99/lumo/pkg/provider/kws"
	"github.com/MrWong99/lumo/pkg/provider/llm"
	"github.com/MrWong99/lumo/pkg/provider/stt"
	"github.com/MrWong99/lumo/pkg/provider/vad"
)

// Default timings.
const (
	DefaultWakeTimeout        = 60 * time.Second
	DefaultConfirmWakeTimeout = 15 * time.Second
	DefaultSilenceTimeout     = 2 * time.Second
	DefaultHistory            = 20
)

// Intent and action labels written to the interaction log.
const (
	IntentQuery        = "query"
	IntentConfirmation = learning.ConfirmationIntent
	ActionLLMResponse  = "llm_response"
)

// Error texts of records for turns that ended without a result.
const (
	MsgNoSpeech           = "No speech detected"
	MsgEmptyTranscription = "Empty transcription"
	MsgEmptyQuery         = "Empty query"
	MsgConfirmTimeout     = "Confirmation timed out"
	MsgInvalidReply       = "Invalid confirmation response"
	MsgNoWake             = "Wake word not detected"
)

// Turn sources, used as a metric attribute.
const (
	sourceVoice = "voice"
	sourceText  = "text"
)

// confirmHint ends every dispatcher confirmation prompt. The gate adds its
// own yes/no instruction, so the hint is trimmed from the message.
const confirmHint = " Say 'yes' to confirm."

// ErrNoAudio is returned by [Orchestrator.Run] when the voice dependencies
// are missing.
var ErrNoAudio = errors.New("turn: voice loop needs a frame source, VAD, KWS and STT")

// Responder delivers reply text to the user, for example by speaking it or
// posting it to a channel.
type Responder interface {
	Respond(ctx context.Context, text string) error
}

// ResponderFunc adapts a function to [Responder].
type ResponderFunc func(ctx context.Context, text string) error

// Respond calls f.
func (f ResponderFunc) Respond(ctx context.Context, text string) error { return f(ctx, text) }

// Timings bounds the waits of the voice loop. Zero fields take the defaults.
type Timings struct {
	WakeTimeout        time.Duration
	ConfirmWakeTimeout time.Duration
	SilenceTimeout     time.Duration
}

func (t *Timings) applyDefaults() {
	if t.WakeTimeout <= 0 {
		t.WakeTimeout = DefaultWakeTimeout
	}
	if t.ConfirmWakeTimeout <= 0 {
		t.ConfirmWakeTimeout = DefaultConfirmWakeTimeout
	}
	if t.SilenceTimeout <= 0 {
		t.SilenceTimeout = DefaultSilenceTimeout
	}
}

// Deps holds everything the orchestrator works with. LLM, Actions, Gate and
// Log are required; the voice fields (Source, VAD, KWS, STT) are only needed
// by [Orchestrator.Run] and [Orchestrator.Step].
type Deps struct {
	Source    audio.FrameSource
	VAD       vad.Detector
	KWS       kws.Spotter
	Collector *collect.Collector
	STT       stt.Provider

	LLM     llm.Provider
	Actions *action.Dispatcher
	Gate    *confirm.Gate
	Log     *interaction.Logger

	// Commands flags commands that need confirmation before anything runs.
	// Nil selects the default destructive keywords.
	Commands *intent.Table

	// Replies classifies answers to confirmation questions. Nil selects the
	// default reply rules.
	Replies *intent.Table

	// Wake finds and strips the wake word in transcripts. Nil matches "lumo".
	Wake *intent.WakeMatcher

	// Responder receives every reply of the voice loop. May be nil.
	Responder Responder

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	Timings Timings

	// History is the number of exchanges kept as context. Zero selects
	// [DefaultHistory]; negative disables it.
	History int

	// SystemPrompt overrides the language backend's default persona.
	SystemPrompt string

	// NewTurnID generates turn IDs. Defaults to random UUIDs.
	NewTurnID func() string
}

// Orchestrator runs turns. It is safe for concurrent use: the voice loop and
// any number of chat requests may run at once, with turn processing
// serialized.
type Orchestrator struct {
	d       Deps
	metrics *observe.Metrics
	history *History

	// mu serializes turn processing. It is not held while waiting for audio.
	mu      sync.Mutex
	pending atomic.Bool
}

// New validates d and returns an Orchestrator.
func New(d Deps) (*Orchestrator, error) {
	var errs []error
	if d.LLM == nil {
		errs = append(errs, errors.New("LLM is required"))
	}
	if d.Actions == nil {
		errs = append(errs, errors.New("Actions is required"))
	}
	if d.Gate == nil {
		errs = append(errs, errors.New("Gate is required"))
	}
	if d.Log == nil {
		errs = append(errs, errors.New("Log is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}

	if d.Collector == nil {
		d.Collector = collect.New()
	}
	if d.Commands == nil {
		d.Commands = intent.NewTable(intent.CommandRules(nil)...)
	}
	if d.Replies == nil {
		d.Replies = intent.NewTable(intent.ReplyRules()...)
	}
	if d.Wake == nil {
		d.Wake = intent.NewWakeMatcher("lumo")
	}
	if d.NewTurnID == nil {
		d.NewTurnID = uuid.NewString
	}
	if d.History == 0 {
		d.History = DefaultHistory
	}
	d.Timings.applyDefaults()

	m := d.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Orchestrator{d: d, metrics: m, history: NewHistory(d.History)}, nil
}

// History returns the conversation history.
func (o *Orchestrator) History() *History { return o.history }

// WakeWord returns the configured wake word.
func (o *Orchestrator) WakeWord() string { return o.d.Wake.Word() }

// ── Voice loop ───────────────────────────────────────────────────────────────

// Run calls [Orchestrator.Step] until ctx is cancelled, then returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.d.Source == nil || o.d.VAD == nil || o.d.KWS == nil || o.d.STT == nil {
		return ErrNoAudio
	}
	observe.Logger(ctx).Info("turn: listening", "wake_word", o.d.Wake.Word())
	for {
		if err := o.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Step runs one iteration of the voice loop. It returns an error only when
// ctx is done.
func (o *Orchestrator) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.expire(ctx, sourceVoice) {
		o.respond(ctx, "Confirmation timed out. Cancelled.")
		return nil
	}
	if p, ok := o.d.Gate.Pending(); ok {
		return o.awaitReply(ctx, p)
	}
	return o.listen(ctx)
}

// listen handles one command turn.
func (o *Orchestrator) listen(ctx context.Context) error {
	woke, err := o.d.Collector.WaitForWake(ctx, o.d.Source, o.d.KWS, o.d.Timings.WakeTimeout)
	if err != nil || !woke {
		return err
	}
	o.metrics.RecordWake(ctx, sourceVoice)

	// The chat API may have asked a confirmation question during the wait.
	if o.expire(ctx, sourceVoice) {
		o.respond(ctx, "Confirmation timed out. Cancelled.")
	}
	if _, ok := o.d.Gate.Pending(); ok {
		return o.reply(ctx)
	}

	utt, ok, err := o.d.Collector.Collect(ctx, o.d.Source, o.d.VAD.IsSpeech, o.d.Timings.SilenceTimeout)
	if err != nil {
		return err
	}

	ctx, end := o.beginTurn(ctx, "turn.command")
	defer end()
	o.mu.Lock()
	defer o.mu.Unlock()

	if !ok {
		o.log(ctx, sourceVoice, interaction.Record{WakeDetected: true, Outcome: interaction.Failed, Error: MsgNoSpeech})
		return nil
	}
	text, err := o.transcribe(ctx, utt)
	if err != nil {
		o.turnError(ctx, sourceVoice, "", err)
		return ctx.Err()
	}
	query, _ := o.d.Wake.Strip(text)
	if query == "" {
		o.log(ctx, sourceVoice, interaction.Record{WakeDetected: true, Outcome: interaction.Failed, Error: MsgEmptyTranscription})
		return nil
	}

	reply, err := o.command(ctx, sourceVoice, query)
	if err != nil {
		o.respond(ctx, "Sorry, something went wrong.")
		return ctx.Err()
	}
	o.respond(ctx, reply.Text)
	return nil
}

// awaitReply handles one turn while a confirmation is outstanding. Missing
// the wake phrase or hearing nothing is logged as a failure but leaves the
// request in place; the gate's timeout decides when it is abandoned.
func (o *Orchestrator) awaitReply(ctx context.Context, p confirm.Pending) error {
	wait := min(o.d.Timings.ConfirmWakeTimeout, p.Remaining())
	if wait <= 0 {
		return nil
	}
	woke, err := o.d.Collector.WaitForWake(ctx, o.d.Source, o.d.KWS, wait)
	if err != nil {
		return err
	}
	if !woke {
		ctx, end := o.beginTurn(ctx, "turn.confirmation")
		defer end()
		o.mu.Lock()
		defer o.mu.Unlock()
		o.log(ctx, sourceVoice, interaction.Record{
			Intent:  IntentConfirmation,
			Action:  p.Action,
			Outcome: interaction.Failed,
			Error:   MsgNoWake,
		})
		return nil
	}
	o.metrics.RecordWake(ctx, sourceVoice)
	return o.reply(ctx)
}

// reply collects and resolves the spoken answer to the outstanding
// confirmation once the wake phrase was heard.
func (o *Orchestrator) reply(ctx context.Context) error {
	utt, ok, err := o.d.Collector.Collect(ctx, o.d.Source, o.d.VAD.IsSpeech, o.d.Timings.SilenceTimeout)
	if err != nil {
		return err
	}

	ctx, end := o.beginTurn(ctx, "turn.confirmation")
	defer end()
	o.mu.Lock()
	defer o.mu.Unlock()

	if !ok {
		o.log(ctx, sourceVoice, interaction.Record{
			WakeDetected: true,
			Intent:       IntentConfirmation,
			Outcome:      interaction.Failed,
			Error:        MsgNoSpeech,
		})
		o.respond(ctx, "Please say 'yes' or 'no'.")
		return nil
	}

	text, err := o.transcribe(ctx, utt)
	if err != nil {
		o.turnError(ctx, sourceVoice, "", err)
		return ctx.Err()
	}
	answer, _ := o.d.Wake.Strip(text)
	reply, handled := o.answer(ctx, sourceVoice, answer)
	if !handled {
		o.metrics.RecordConfirmation(ctx, "invalid")
		o.log(ctx, sourceVoice, interaction.Record{
			WakeDetected: true,
			Transcript:   answer,
			Intent:       IntentConfirmation,
			Outcome:      interaction.Failed,
			Error:        MsgInvalidReply,
		})
		reply = Reply{Text: "Please say 'yes' or 'no'.", Kind: KindText}
	}
	o.respond(ctx, reply.Text)
	return nil
}

// ── Shared turn logic ────────────────────────────────────────────────────────

// expire cancels a timed-out confirmation and logs it.
func (o *Orchestrator) expire(ctx context.Context, source string) bool {
	p, ok := o.d.Gate.Expire()
	if !ok {
		return false
	}
	o.metrics.RecordConfirmation(ctx, "timeout")
	o.log(ctx, source, interaction.Record{
		Intent:    IntentConfirmation,
		Action:    p.Action,
		Confirmed: interaction.Bool(false),
		Outcome:   interaction.Cancelled,
		Error:     MsgConfirmTimeout,
	})
	return true
}

// answer resolves text as the reply to the outstanding confirmation. It
// reports false when text is neither affirmative nor negative.
func (o *Orchestrator) answer(ctx context.Context, source, text string) (Reply, bool) {
	switch o.d.Replies.Classify(text) {
	case intent.Affirmative:
		return o.confirmed(ctx, source, text), true
	case intent.Negative:
		o.d.Gate.Cancel()
		o.metrics.RecordConfirmation(ctx, "rejected")
		o.log(ctx, source, interaction.Record{
			WakeDetected: true,
			Transcript:   text,
			Intent:       IntentConfirmation,
			Confirmed:    interaction.Bool(false),
			Outcome:      interaction.Cancelled,
		})
		return Reply{Text: "Action cancelled.", Kind: KindConfirmationRejected}, true
	}
	return Reply{}, false
}

// confirmed runs the stored action after a "yes".
func (o *Orchestrator) confirmed(ctx context.Context, source, text string) Reply {
	name, params, ok := o.d.Gate.Confirm()
	if !ok {
		return Reply{Text: "There is nothing to confirm.", Kind: KindText}
	}
	o.metrics.RecordConfirmation(ctx, "accepted")

	resolved, res := o.dispatchConfirmed(ctx, name, params)
	o.log(ctx, source, interaction.Record{
		WakeDetected: true,
		Transcript:   text,
		Intent:       IntentConfirmation,
		Action:       resolved,
		Confirmed:    interaction.Bool(true),
		Outcome:      outcomeOf(res),
		Error:        res.Error(),
	})
	o.history.Add(text, res.Text())
	return Reply{Text: res.Text(), Kind: KindConfirmationAccepted, Action: resolved}
}

// dispatchConfirmed runs a confirmed action. A keyword-flagged command is
// first resolved to a concrete action by the language backend.
func (o *Orchestrator) dispatchConfirmed(ctx context.Context, name string, params map[string]any) (string, action.Result) {
	if name != string(intent.Destructive) {
		return name, o.execute(ctx, name, params, true)
	}
	command := action.Param(params, "command")
	rep, err := o.ask(ctx, command)
	if err != nil {
		return name, action.Failed(action.ErrorKind(err), err.Error())
	}
	if fc := rep.FunctionCall; fc != nil {
		return fc.Name, o.execute(ctx, fc.Name, fc.Arguments, true)
	}
	if text := strings.TrimSpace(rep.Content); text != "" {
		return name, action.OK(text)
	}
	return name, action.Failed(action.KindNotImplemented, "Action not implemented.")
}

// command handles a woken request: keyword-flagged commands go to the gate,
// everything else to the language backend. The returned error has already
// been logged.
func (o *Orchestrator) command(ctx context.Context, source, query string) (Reply, error) {
	if o.d.Commands.Classify(query) == intent.Destructive {
		name := string(intent.Destructive)
		prompt := o.d.Gate.Request(name, map[string]any{"command": query}, "About to execute: "+query)
		o.log(ctx, source, interaction.Record{
			WakeDetected: true,
			Transcript:   query,
			Intent:       name,
			Action:       name,
			Outcome:      interaction.Pending,
		})
		return Reply{Text: prompt, Kind: KindNeedsConfirmation, Action: name}, nil
	}

	rep, err := o.ask(ctx, query)
	if err != nil {
		o.turnError(ctx, source, query, err)
		return Reply{}, err
	}

	if fc := rep.FunctionCall; fc != nil {
		res := o.execute(ctx, fc.Name, fc.Arguments, false)
		rec := interaction.Record{WakeDetected: true, Transcript: query, Intent: fc.Name, Action: fc.Name, Outcome: outcomeOf(res), Error: res.Error()}
		if res.Status == action.StatusNeedsConfirmation {
			msg := strings.TrimSuffix(res.Prompt, confirmHint)
			prompt := o.d.Gate.Request(fc.Name, action.NormalizeArgs(fc.Arguments), msg)
			o.log(ctx, source, rec)
			return Reply{Text: prompt, Kind: KindNeedsConfirmation, Action: fc.Name}, nil
		}
		o.log(ctx, source, rec)
		o.history.Add(query, res.Text())
		return Reply{Text: res.Text(), Kind: KindFunctionResult, Action: fc.Name}, nil
	}

	text := strings.TrimSpace(rep.Content)
	if text == "" {
		text = "I'm not sure how to help with that."
	}
	o.log(ctx, source, interaction.Record{
		WakeDetected: true,
		Transcript:   query,
		Intent:       IntentQuery,
		Action:       ActionLLMResponse,
		Outcome:      interaction.Success,
	})
	o.history.Add(query, text)
	return Reply{Text: text, Kind: KindText}, nil
}

func outcomeOf(res action.Result) interaction.Outcome {
	switch res.Status {
	case action.StatusOK:
		return interaction.Success
	case action.StatusNeedsConfirmation:
		return interaction.Pending
	default:
		return interaction.Failed
	}
}

// ── Collaborator calls ───────────────────────────────────────────────────────

func (o *Orchestrator) transcribe(ctx context.Context, utt audio.Utterance) (string, error) {
	ctx, span := observe.StartSpan(ctx, "stt.transcribe")
	defer span.End()
	start := time.Now()
	text, err := o.d.STT.Transcribe(ctx, utt)
	o.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		o.metrics.RecordProviderError(ctx, "stt", action.ErrorKind(err))
		return "", err
	}
	observe.Logger(ctx).Debug("turn: transcribed", "text", text)
	return text, nil
}

func (o *Orchestrator) ask(ctx context.Context, text string) (*llm.Reply, error) {
	ctx, span := observe.StartSpan(ctx, "llm.ask")
	defer span.End()
	start := time.Now()
	rep, err := o.d.LLM.Ask(ctx, llm.Request{
		Text:         text,
		Context:      o.history.Render(),
		SystemPrompt: o.d.SystemPrompt,
		Tools:        o.d.Actions.Tools(),
	})
	o.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err == nil && rep == nil {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		span.RecordError(err)
		o.metrics.RecordProviderError(ctx, "llm", action.ErrorKind(err))
		return nil, err
	}
	return rep, nil
}

func (o *Orchestrator) execute(ctx context.Context, name string, args any, confirmed bool) action.Result {
	ctx, span := observe.StartSpan(ctx, "action.execute",
		trace.WithAttributes(attribute.String("action", name), attribute.Bool("confirmed", confirmed)))
	defer span.End()
	start := time.Now()
	res := o.d.Actions.Execute(ctx, name, args, confirmed)
	o.metrics.ActionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("action", name)))
	span.SetAttributes(attribute.String("status", res.Status.String()))
	if res.Status == action.StatusFailed {
		observe.Logger(ctx).Warn("turn: action failed", "action", name, "err", res.Error())
	}
	return res
}

// ── Logging and replies ──────────────────────────────────────────────────────

// beginTurn tags ctx with a fresh turn ID and starts the turn span.
func (o *Orchestrator) beginTurn(ctx context.Context, name string) (context.Context, func()) {
	id := o.d.NewTurnID()
	ctx = observe.WithTurnID(ctx, id)
	ctx, span := observe.StartSpan(ctx, name, trace.WithAttributes(attribute.String("turn.id", id)))
	return ctx, func() { span.End() }
}

// log writes rec, filling in the turn ID from ctx.
func (o *Orchestrator) log(ctx context.Context, source string, rec interaction.Record) {
	if rec.TurnID == "" {
		rec.TurnID = observe.TurnID(ctx)
	}
	o.d.Log.Record(ctx, rec)
	o.metrics.RecordTurn(ctx, string(rec.Outcome), source)
	o.syncPending(ctx)
}

// turnError logs a failed turn as "Kind: message" with wake_detected
// false, so collaborator failures count against detection in the analyzer.
// Nothing is logged once ctx is done.
func (o *Orchestrator) turnError(ctx context.Context, source, transcript string, err error) {
	if ctx.Err() != nil {
		return
	}
	observe.Logger(ctx).Warn("turn: failed", "err", err)
	o.log(ctx, source, interaction.Record{
		Transcript: transcript,
		Outcome:    interaction.Failed,
		Error:      errorText(err),
	})
}

// syncPending mirrors the gate state into the pending-confirmation gauge.
func (o *Orchestrator) syncPending(ctx context.Context) {
	now := o.d.Gate.Awaiting()
	if o.pending.Swap(now) == now {
		return
	}
	if now {
		o.metrics.PendingConfirmations.Add(ctx, 1)
	} else {
		o.metrics.PendingConfirmations.Add(ctx, -1)
	}
}

func (o *Orchestrator) respond(ctx context.Context, text string) {
	observe.Logger(ctx).Info("turn: reply", "text", text)
	if o.d.Responder == nil {
		return
	}
	if err := o.d.Responder.Respond(ctx, text); err != nil {
		observe.Logger(ctx).Warn("turn: failed to deliver reply", "err", err)
	}
}
