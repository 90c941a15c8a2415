// Package delivery implements the per-session outbound message delivery
// engine: a dual strong/soft retention queue, monotonic send/receive
// sequencing, and transport-aware flush semantics shared between a
// persistent frame socket and short-lived long-poll batches.
//
// Ownership boundary:
//   - Message coordinates and retention (Message, DualQueue)
//   - per-session send/receive sequencing (SequenceClock)
//   - the per-client engine (Session) and its registry (Registry)
//
// Out of scope, by design: HTTP routing, WebSocket handshaking, user
// authentication and session-GUID minting, and durable persistence across
// process restart. Those live in internal/transport and cmd/server, or are
// assumed to happen upstream of this package entirely.
package delivery
