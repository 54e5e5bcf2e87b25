package action

import "fmt"

// Status classifies the outcome of [Dispatcher.Execute].
type Status int

const (
	// StatusOK means the handler ran and returned output.
	StatusOK Status = iota

	// StatusNeedsConfirmation means the action is destructive and was not
	// confirmed; the handler did not run.
	StatusNeedsConfirmation

	// StatusFailed means the handler returned an error or the action is unknown.
	StatusFailed
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNeedsConfirmation:
		return "needs_confirmation"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is the outcome of an action dispatch.
type Result struct {
	Status Status

	// Output is the handler's text for StatusOK.
	Output string

	// Prompt is the confirmation question for StatusNeedsConfirmation.
	Prompt string

	// Kind and Message describe a StatusFailed result.
	Kind    string
	Message string
}

// OK returns a successful result.
func OK(output string) Result { return Result{Status: StatusOK, Output: output} }

// NeedsConfirmation returns a result asking the user to confirm.
func NeedsConfirmation(prompt string) Result {
	return Result{Status: StatusNeedsConfirmation, Prompt: prompt}
}

// Failed returns a failure result.
func Failed(kind, message string) Result {
	return Result{Status: StatusFailed, Kind: kind, Message: message}
}

// Text renders the result as the user-facing reply.
func (r Result) Text() string {
	switch r.Status {
	case StatusOK:
		return r.Output
	case StatusNeedsConfirmation:
		return r.Prompt
	default:
		if r.Kind == KindNotImplemented {
			return r.Message
		}
		return fmt.Sprintf("Error executing action: %s", r.Message)
	}
}

// Error renders a failure as "Kind: message" for interaction records. It
// returns "" for non-failures.
func (r Result) Error() string {
	if r.Status != StatusFailed {
		return ""
	}
	if r.Kind == "" {
		return r.Message
	}
	return r.Kind + ": " + r.Message
}
