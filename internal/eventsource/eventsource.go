// Package eventsource is a demo producer / load-test harness for the
// delivery engine. It mints synthetic session GUIDs and correlation IDs —
// the engine itself never mints a GUID, so something upstream has to, and
// in this repository that role is played here rather than by a real panel
// client.
package eventsource

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/panelbridge/internal/delivery"
)

// DemoEvent is the payload shape the harness enqueues, carrying its own
// correlation ID so downstream logs can tie a batch of broadcasts together.
type DemoEvent struct {
	CorrelationID string `json:"correlation_id"`
	Kind          string `json:"kind"`
	Seq           int    `json:"seq"`
}

// Producer periodically enqueues synthetic events into one session,
// identified by a freshly minted GUID, to exercise the engine end-to-end
// without a real panel client attached.
type Producer struct {
	registry *delivery.Registry
	user     string
	guid     string
	logger   *slog.Logger
}

// NewProducer creates a Producer targeting a fresh synthetic (user, guid)
// session in registry.
func NewProducer(registry *delivery.Registry, user string, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		registry: registry,
		user:     user,
		guid:     uuid.NewString(),
		logger:   logger,
	}
}

// Guid returns the synthetic session GUID this producer targets.
func (p *Producer) Guid() string { return p.guid }

// Run enqueues one DemoEvent every interval until ctx is canceled.
func (p *Producer) Run(ctx context.Context, interval time.Duration) {
	correlationID := uuid.NewString()
	session := p.registry.LookupOrCreate(p.user, p.guid)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq++
			event := DemoEvent{CorrelationID: correlationID, Kind: "heartbeat", Seq: seq}
			session.EnqueueDefault(event)
			session.Flush(ctx)
			p.logger.Debug("eventsource: enqueued demo event", "user", p.user, "guid", p.guid, "seq", seq)
		}
	}
}
