// Package llm defines the language-backend collaborator used by the turn loop.
//
// The turn loop treats the backend as a request/response boundary: it sends the
// user's intent text plus optional conversation context and the available
// actions, and gets back either a text reply or a single function call. Knowledge
// augmentation, streaming and token accounting are the backend's own concern.
//
// Implementations must be safe for concurrent use and must return promptly when
// ctx is cancelled.
package llm

import (
	"context"
	"errors"
	"strings"
)

// DefaultSystemPrompt frames the assistant persona.
const DefaultSystemPrompt = `You are Lumo, a concise voice assistant.
Answer briefly and clearly. When the user asks for something one of the
available functions can do, call that function instead of answering.
If no clear intent exists, reply with an empty message.`

// ErrEmptyResponse is returned when the backend produced no choices.
var ErrEmptyResponse = errors.New("llm: empty response")

// Role values used in [Message].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the prompt sent to the backend.
type Message struct {
	Role    string
	Content string
}

// ToolDefinition describes an action the model may call.
type ToolDefinition struct {
	// Name is the action's unique identifier.
	Name string

	// Description explains what the action does.
	Description string

	// Parameters is the JSON Schema describing the action's arguments.
	Parameters map[string]any
}

// FunctionCall is the model's request to run an action.
type FunctionCall struct {
	Name string

	// Arguments is the JSON-encoded argument object exactly as the model
	// produced it. It may be malformed; the dispatcher tolerates that.
	Arguments string
}

// Usage holds token accounting returned by the backend, when available.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Request is one ask.
type Request struct {
	// Text is the user's cleaned utterance.
	Text string

	// Context is optional prior conversation, already rendered as text.
	Context string

	// SystemPrompt overrides [DefaultSystemPrompt] when non-empty.
	SystemPrompt string

	// Tools is the set of actions offered to the model.
	Tools []ToolDefinition

	// Temperature in [0, 2]; zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the completion; zero leaves the provider default.
	MaxTokens int
}

// Messages renders the request as a prompt: system prompt, then prior
// conversation (as a second system message), then the user text.
func (r Request) Messages() []Message {
	sys := r.SystemPrompt
	if sys == "" {
		sys = DefaultSystemPrompt
	}
	msgs := []Message{{Role: RoleSystem, Content: sys}}
	if c := strings.TrimSpace(r.Context); c != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: "Conversation so far:\n" + c})
	}
	return append(msgs, Message{Role: RoleUser, Content: r.Text})
}

// Reply is the backend's answer. Exactly one of Content and FunctionCall is
// meaningful: when FunctionCall is non-nil, Content is ignored.
type Reply struct {
	Content      string
	FunctionCall *FunctionCall
	Usage        Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Ask sends req and waits for the full reply.
	Ask(ctx context.Context, req Request) (*Reply, error)
}
