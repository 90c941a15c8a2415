package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/panelbridge/internal/delivery"
	"github.com/ashureev/panelbridge/internal/identity"
	"github.com/ashureev/panelbridge/internal/transport/longpoll"
	"github.com/ashureev/panelbridge/internal/transport/wsframe"
)

// PanelHandler exposes the delivery engine over HTTP: a long-poll batch
// endpoint and a WebSocket frame endpoint, both keyed by the (user, guid)
// identity the identity middleware attaches to the request context.
type PanelHandler struct {
	registry      *delivery.Registry
	allowedOrigin string
	isDev         bool
	pingInterval  time.Duration
	logger        *slog.Logger
}

// NewPanelHandler creates a PanelHandler backed by registry. pingInterval is
// the deadline SetDeadline refreshes to on every attach and every inbound
// WebSocket ack, matching the registry's own Config.PingInterval.
func NewPanelHandler(registry *delivery.Registry, allowedOrigin string, isDev bool, pingInterval time.Duration) *PanelHandler {
	return &PanelHandler{registry: registry, allowedOrigin: allowedOrigin, isDev: isDev, pingInterval: pingInterval, logger: slog.Default()}
}

// RegisterRoutes registers the long-poll and WebSocket endpoints.
func (h *PanelHandler) RegisterRoutes(r chi.Router) {
	r.Route("/panel", func(r chi.Router) {
		r.Get("/poll", h.Poll)
		r.Get("/ws", h.WebSocket)
	})
}

// Poll services one long-poll request/response cycle: skip everything up to
// lastSeen, then write a single JSON array response (possibly "[]") holding
// the soft-queue replay and detach, all inside AttachAndReplay. The request
// is never held open. Messages still in the strong queue are not part of
// the response, and the Flush that follows finds the batch attachment
// already spent.
func (h *PanelHandler) Poll(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	guid := identity.GuidFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	h.logger.Debug("delivery: poll attach", "user", userID, "guid", guid, "remote_ip", identity.IPFromRequest(r))

	lastSeen := lastSeenFromRequest(r)

	session := h.registry.LookupOrCreate(userID, guid)
	session.SetDeadline(h.pingInterval)

	sink := longpoll.NewSink(w, r)
	session.AttachAndReplay(r.Context(), sink, delivery.KindBatch, lastSeen)
	session.Flush(r.Context())
}

// WebSocket upgrades the request to a persistent frame transport and keeps
// it attached until the connection's read loop observes a close.
func (h *PanelHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	guid := identity.GuidFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := wsframe.Accept(w, r, h.allowedOrigin, h.isDev)
	if err != nil {
		return
	}
	sink := wsframe.NewSink(conn)
	defer sink.Close()

	h.logger.Info("delivery: websocket attach", "user", userID, "guid", guid, "remote_ip", identity.IPFromRequest(r))

	session := h.registry.LookupOrCreate(userID, guid)
	session.SetDeadline(h.pingInterval)

	lastSeen := lastSeenFromRequest(r)
	session.AttachAndReplay(r.Context(), sink, delivery.KindFrame, lastSeen)
	session.Flush(r.Context())

	// Read loop: the client has nothing meaningful to send except
	// acknowledgement coordinates and pings, but Read must still be pumped
	// so close frames and ping/pong control frames are observed.
	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			sink.MarkClosed()
			session.Detach()
			return
		}
		if handleInboundAck(r.Context(), session, data) {
			session.SetDeadline(h.pingInterval)
		}
	}
}

// inboundAck is the wire format for a client-sent acknowledgement: the
// coordinate of the newest message the client has applied. Mirrors
// delivery.Metadata's shape since it names the same coordinate.
type inboundAck struct {
	Ack *delivery.Metadata `json:"ack"`
}

// handleInboundAck parses data as an inboundAck and, if it names a
// coordinate, advances the session's receive clock and drops everything up
// to and including that coordinate from both queues. Reports whether data
// carried a recognized ack, so the caller can treat it as a liveness signal.
// Malformed or unrelated frames are ignored rather than closing the
// connection, since a single bad frame shouldn't tear down the session.
func handleInboundAck(ctx context.Context, session *delivery.Session, data []byte) bool {
	var msg inboundAck
	if err := json.Unmarshal(data, &msg); err != nil || msg.Ack == nil {
		return false
	}
	coord := delivery.Coord{TimestampMS: msg.Ack.Timestamp, Sequence: msg.Ack.Sequence}
	session.RecordReceive(coord)
	session.Skip(ctx, coord)
	return true
}

func lastSeenFromRequest(r *http.Request) delivery.Coord {
	ts, _ := strconv.ParseInt(r.URL.Query().Get("last_ts"), 10, 64)
	seq, _ := strconv.ParseUint(r.URL.Query().Get("last_seq"), 10, 32)
	if ts == 0 && seq == 0 {
		return delivery.ZeroCoord
	}
	return delivery.Coord{TimestampMS: ts, Sequence: uint32(seq)}
}
