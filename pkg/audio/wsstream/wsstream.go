// Package wsstream accepts microphone audio from browser or CLI clients over a
// WebSocket and exposes it as an [audio.Source]. It also implements the turn
// loop's responder by broadcasting replies back to every connected client.
//
// Protocol:
//   - client → server binary messages carry little-endian PCM16 mono audio at
//     16 kHz, in chunks of any size;
//   - server → client text messages are JSON events:
//     {"type":"reply","text":"..."}.
//
// Several clients may connect; their audio is interleaved in arrival order,
// which is only meaningful with a single active speaker.
package wsstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/MrWong99/lumo/pkg/audio"
	"github.com/coder/websocket"
)

const (
	chunkBuffer = 256
	readLimit   = 1 << 20
)

// Compile-time interface assertion.
var _ audio.Source = (*Source)(nil)

// Event is a server → client message.
type Event struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Option configures a [Source].
type Option func(*Source)

// WithOriginPatterns allows cross-origin clients matching the given host
// patterns (see websocket.AcceptOptions.OriginPatterns).
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Source) { s.originPatterns = patterns }
}

// Source is both an HTTP handler for audio clients and an [audio.Source].
//
// Source is safe for concurrent use.
type Source struct {
	originPatterns []string

	chunks chan []float32

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// New creates a Source with no connected clients.
func New(opts ...Option) *Source {
	s := &Source{
		chunks: make(chan []float32, chunkBuffer),
		conns:  make(map[*websocket.Conn]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ServeHTTP upgrades the request to a WebSocket and reads audio until the
// client disconnects.
func (s *Source) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		slog.Warn("wsstream: accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(readLimit)

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	slog.Info("wsstream: client connected", "remote", r.RemoteAddr)

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		slog.Info("wsstream: client disconnected", "remote", r.RemoteAddr)
	}()

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				slog.Debug("wsstream: read error", "remote", r.RemoteAddr, "err", err)
			}
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		select {
		case s.chunks <- audio.PCM16ToFloat32(data):
		default:
			slog.Warn("wsstream: audio backlog full, dropping chunk", "bytes", len(data))
		}
	}
}

// Stream implements [audio.Source]. Incoming chunks are re-sliced into
// pipeline frames and pushed to q until ctx is done.
func (s *Source) Stream(ctx context.Context, q *audio.Queue) error {
	var fr audio.Framer
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk := <-s.chunks:
			for _, f := range fr.Write(chunk) {
				q.Push(f)
			}
		}
	}
}

// Respond broadcasts a reply event to every connected client. Errors from
// individual clients are joined; a client that fails to receive stays
// registered until its read loop notices the broken connection.
func (s *Source) Respond(ctx context.Context, text string) error {
	data, err := json.Marshal(Event{Type: "reply", Text: text})
	if err != nil {
		return fmt.Errorf("wsstream: encode reply: %w", err)
	}

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.Write(ctx, websocket.MessageText, data); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("wsstream: broadcast reply: %w", errors.Join(errs...))
	}
	return nil
}

// Clients returns the number of connected clients.
func (s *Source) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
