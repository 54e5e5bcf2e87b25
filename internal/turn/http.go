package turn

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// maxMessageBytes caps the body of a chat request.
const maxMessageBytes = 64 << 10

// chatRequest is the body of POST /api/chat.
type chatRequest struct {
	Message string `json:"message"`
}

// errorBody is the JSON shape of every failed API call.
type errorBody struct {
	Error string `json:"error"`
	Type  Kind   `json:"type,omitempty"`
}

// API serves the text chat endpoints of an [Orchestrator].
type API struct {
	o *Orchestrator
}

// NewAPI returns the chat API for o.
func NewAPI(o *Orchestrator) *API { return &API{o: o} }

// Register mounts the chat endpoints on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", a.Chat)
	mux.HandleFunc("POST /api/clear", a.Clear)
	mux.HandleFunc("GET /api/status", a.Status)
}

// Chat handles one message. Blank messages and malformed bodies get 400;
// a failing language backend gets 500 with the error text.
func (a *API) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request body"})
		return
	}
	reply, err := a.o.HandleText(r.Context(), req.Message)
	switch {
	case errors.Is(err, ErrEmptyMessage):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Empty message"})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorText(err), Type: KindError})
	default:
		writeJSON(w, http.StatusOK, reply)
	}
}

// Clear resets the conversation.
func (a *API) Clear(w http.ResponseWriter, r *http.Request) {
	a.o.Clear(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// Status reports the gate state, the outstanding confirmation and the
// interaction statistics.
func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.o.Status(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("turn: failed to write response", "err", err)
	}
}
