// Package longpoll adapts net/http's ResponseWriter to delivery.BatchSink,
// the single-shot transport kind: one JSON array response, then the
// attachment is spent.
package longpoll

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/ashureev/panelbridge/internal/delivery"
)

// Sink adapts an http.ResponseWriter to delivery.BatchSink. A request can
// only be responded to once, so IsActive flips to false the moment
// WriteBatch runs or the request context is canceled.
type Sink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	r       *http.Request
	written bool
}

// NewSink wraps w/r for a single long-poll request/response cycle.
func NewSink(w http.ResponseWriter, r *http.Request) *Sink {
	return &Sink{w: w, r: r}
}

// IsActive reports whether the response hasn't been written yet and the
// request hasn't been canceled by the client going away.
func (s *Sink) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.written {
		return false
	}
	return s.r.Context().Err() == nil
}

// WriteBatch writes envs as a single JSON array response. Even an empty
// envs still produces "[]", matching the spec's batch-kind emission rule.
func (s *Sink) WriteBatch(ctx context.Context, envs []delivery.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.written {
		return errAlreadyWritten
	}
	s.written = true

	if envs == nil {
		envs = []delivery.Envelope{}
	}

	s.w.Header().Set("Content-Type", "application/json")
	s.w.WriteHeader(http.StatusOK)
	return json.NewEncoder(s.w).Encode(envs)
}

type alreadyWrittenError struct{}

func (alreadyWrittenError) Error() string { return "longpoll: response already written" }

var errAlreadyWritten = alreadyWrittenError{}
