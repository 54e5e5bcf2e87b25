package turn

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrWong99/lumo/internal/action"
	"github.com/MrWong99/lumo/internal/interaction"
	"github.com/MrWong99/lumo/internal/observe"
)

// Kind classifies a [Reply].
type Kind string

// Reply kinds.
const (
	KindConfirmationAccepted Kind = "confirmation_accepted"
	KindConfirmationRejected Kind = "confirmation_rejected"
	KindNoWakeWord           Kind = "no_wake_word"
	KindEmptyQuery           Kind = "empty_query"
	KindNeedsConfirmation    Kind = "needs_confirmation"
	KindFunctionResult       Kind = "function_result"
	KindText                 Kind = "text"
	KindError                Kind = "error"
)

// Reply is the answer to one text message.
type Reply struct {
	Text   string `json:"response"`
	Kind   Kind   `json:"type"`
	Action string `json:"action,omitempty"`
}

// ErrEmptyMessage is returned by [Orchestrator.HandleText] for blank input.
var ErrEmptyMessage = errors.New("turn: empty message")

// HandleText processes one chat message. While a confirmation is
// outstanding, a "yes" or "no" answers it; anything else is treated as a new
// message and needs the wake word like speech does.
//
// The returned error, if any, has already been written to the interaction
// log; it is the language backend's failure.
func (o *Orchestrator) HandleText(ctx context.Context, message string) (Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{}, ErrEmptyMessage
	}

	ctx, end := o.beginTurn(ctx, "turn.text")
	defer end()
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.expire(ctx, sourceText) {
		observe.Logger(ctx).Info("turn: confirmation expired before text reply")
	}
	if o.d.Gate.Awaiting() {
		if reply, ok := o.answer(ctx, sourceText, message); ok {
			return reply, nil
		}
	}

	query, found := o.d.Wake.Strip(message)
	if !found {
		return Reply{
			Text: "Wake word '" + o.d.Wake.Word() + "' not detected.",
			Kind: KindNoWakeWord,
		}, nil
	}
	o.metrics.RecordWake(ctx, sourceText)
	if query == "" {
		o.log(ctx, sourceText, interaction.Record{WakeDetected: true, Transcript: message, Outcome: interaction.Failed, Error: MsgEmptyQuery})
		return Reply{
			Text: "You said my name but didn't ask me anything.",
			Kind: KindEmptyQuery,
		}, nil
	}
	return o.command(ctx, sourceText, query)
}

// Clear forgets the conversation history and cancels any outstanding
// confirmation.
func (o *Orchestrator) Clear(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history.Clear()
	if o.d.Gate.Awaiting() {
		o.d.Gate.Cancel()
		o.syncPending(ctx)
	}
	observe.Logger(ctx).Info("turn: conversation cleared")
}

// PendingStatus describes the outstanding confirmation.
type PendingStatus struct {
	Action    string  `json:"action"`
	Message   string  `json:"message"`
	Remaining float64 `json:"remaining_seconds"`
}

// Status is a snapshot of the orchestrator for the status endpoint.
type Status struct {
	WakeWord string            `json:"wake_word"`
	State    string            `json:"state"`
	Pending  *PendingStatus    `json:"pending,omitempty"`
	History  int               `json:"history"`
	Actions  []string          `json:"actions"`
	Stats    interaction.Stats `json:"stats"`
}

// Status returns the current state. Failing to read the interaction log
// leaves Stats empty.
func (o *Orchestrator) Status(ctx context.Context) Status {
	s := Status{
		WakeWord: o.d.Wake.Word(),
		State:    o.d.Gate.State().String(),
		History:  o.history.Len(),
		Actions:  o.d.Actions.Names(),
	}
	if p, ok := o.d.Gate.Pending(); ok {
		s.Pending = &PendingStatus{
			Action:    p.Action,
			Message:   p.Message,
			Remaining: p.Remaining().Round(100 * time.Millisecond).Seconds(),
		}
	}
	stats, err := o.d.Log.Stats(ctx)
	if err != nil {
		observe.Logger(ctx).Warn("turn: failed to read interaction stats", "err", err)
	} else {
		s.Stats = stats
	}
	return s
}

// errorText renders err the way failed turns are logged.
func errorText(err error) string {
	return action.ErrorKind(err) + ": " + err.Error()
}
