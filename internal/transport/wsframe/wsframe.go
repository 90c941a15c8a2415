// Package wsframe adapts github.com/coder/websocket to delivery.FrameSink,
// the persistent bidirectional transport kind: one message per frame, the
// attachment stays open across flushes.
package wsframe

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/ashureev/panelbridge/internal/delivery"
)

// Sink adapts a *websocket.Conn to delivery.FrameSink. Writes are
// serialized internally since a Session's Flush and Tick can call WriteFrame
// and Ping from different goroutines, while coder/websocket forbids
// concurrent writes on the same connection.
type Sink struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewSink wraps conn.
func NewSink(conn *websocket.Conn) *Sink {
	return &Sink{conn: conn}
}

// IsActive reports whether the connection is still usable.
func (s *Sink) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// WriteFrame writes env as a single JSON text frame.
func (s *Sink) WriteFrame(ctx context.Context, env delivery.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.CloseError{Code: websocket.StatusNormalClosure}
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.closed = true
		return err
	}
	return nil
}

// Ping emits a WebSocket ping control frame as the idle probe
// delivery.Session.Tick expects. coder/websocket pings carry no application
// payload, so epochMS only affects logging on failure.
func (s *Sink) Ping(ctx context.Context, epochMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.CloseError{Code: websocket.StatusNormalClosure}
	}
	if err := s.conn.Ping(ctx); err != nil {
		s.closed = true
		return err
	}
	return nil
}

// MarkClosed records that the underlying connection observed a closed
// state (e.g. the read loop exited), so subsequent IsActive calls report
// false without requiring another failed write.
func (s *Sink) MarkClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Close closes the underlying connection with a normal-closure status.
func (s *Sink) Close() error {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.mu.Unlock()
	return conn.Close(websocket.StatusNormalClosure, "session ended")
}

// Accept upgrades r to a WebSocket connection restricted to the given
// allowed origins (or any origin in dev mode), matching the teacher's
// checkOrigin behavior in internal/terminal/websocket.go.
func Accept(w http.ResponseWriter, r *http.Request, allowedOrigin string, isDev bool) (*websocket.Conn, error) {
	if !checkOrigin(r, allowedOrigin, isDev) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return nil, errOriginRejected
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("wsframe: failed to accept websocket", "error", err)
		return nil, err
	}
	return conn, nil
}

func checkOrigin(r *http.Request, allowedOrigin string, isDev bool) bool {
	if isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || allowedOrigin == "*" {
		return true
	}
	if origin == allowedOrigin {
		return true
	}
	slog.Warn("wsframe: origin rejected", "origin", origin, "allowed", allowedOrigin)
	return false
}

type originRejectedError struct{}

func (originRejectedError) Error() string { return "origin not allowed" }

var errOriginRejected = originRejectedError{}
