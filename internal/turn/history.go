package turn

import (
	"strings"
	"sync"
)

// exchange is one user request and the assistant's answer.
type exchange struct {
	user, assistant string
}

// History keeps the most recent exchanges as conversation context for the
// language backend. It is safe for concurrent use.
type History struct {
	mu    sync.Mutex
	limit int
	items []exchange
}

// NewHistory returns a History holding at most limit exchanges. A
// non-positive limit disables it.
func NewHistory(limit int) *History {
	return &History{limit: limit}
}

// Add appends an exchange, dropping the oldest beyond the limit.
func (h *History) Add(user, assistant string) {
	if h.limit <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, exchange{user: user, assistant: assistant})
	if over := len(h.items) - h.limit; over > 0 {
		h.items = append(h.items[:0], h.items[over:]...)
	}
}

// Len returns the number of stored exchanges.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

// Clear forgets every exchange.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = nil
}

// Render formats the history as alternating "User:" and "Lumo:" lines,
// oldest first.
func (h *History) Render() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var sb strings.Builder
	for i, e := range h.items {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("User: ")
		sb.WriteString(e.user)
		sb.WriteString("\nLumo: ")
		sb.WriteString(e.assistant)
	}
	return sb.String()
}
