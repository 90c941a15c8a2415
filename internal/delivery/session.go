package delivery

import (
	"context"
	"log/slog"
	"time"
)

// Session is the per-client delivery engine: one DualQueue, one send and
// one receive SequenceClock, the current transport attachment, and the
// timeout deadline. Identity is the (user, guid) pair only.
//
// Sequencing and attachment state change under one of three bounded-wait
// locks (send-sequence, receive-sequence, attachment); a lock a caller can't
// acquire within cfg.LockTimeout is treated as a skipped operation, never
// as a block. Skip and Tick's expiry step touch the queue without any of
// these; DualQueue's own mutex guards it. Producers, the tick scheduler, and transport handlers are
// expected to call Session methods concurrently from independent
// goroutines.
type Session struct {
	user string
	guid string

	cfg    Config
	clock  Clock
	logger *slog.Logger

	queue *DualQueue

	sendLock  *boundedLock
	sendClock SequenceClock

	recvLock  *boundedLock
	recvClock SequenceClock

	attachLock *boundedLock
	attached   bool
	handle     any
	kind       Kind
	deadline   time.Time
}

// NewSession constructs a Session for (user, guid). Sessions are normally
// obtained through Registry.LookupOrCreate rather than directly.
func NewSession(user, guid string, cfg Config, clock Clock, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		user:       user,
		guid:       guid,
		cfg:        cfg,
		clock:      clock,
		logger:     logger,
		queue:      NewDualQueue(cfg.SoftCapacity),
		sendLock:   newBoundedLock(),
		recvLock:   newBoundedLock(),
		attachLock: newBoundedLock(),
	}
}

// User returns the session's user identity.
func (s *Session) User() string { return s.user }

// Guid returns the session's GUID.
func (s *Session) Guid() string { return s.guid }

// Enqueue assigns the next send coordinate to data and appends it to both
// queues. Does not attempt delivery; a caller wanting immediate delivery
// must call Flush next. On lock timeout the message is dropped and the
// skip is logged — producers never block unboundedly.
func (s *Session) Enqueue(data any, strongLifetime, softLifetime time.Duration) {
	if !s.sendLock.Acquire(s.cfg.LockTimeout) {
		s.logger.Debug("delivery: enqueue skipped, send-sequence lock timeout", "user", s.user, "guid", s.guid)
		return
	}
	defer s.sendLock.Release()

	now := truncateMS(s.clock.Now())
	coord := s.sendClock.AssignNext(now)
	msg := newMessage(coord, data, now.Add(strongLifetime), now.Add(softLifetime))
	s.queue.Enqueue(msg)
}

// EnqueueDefault enqueues data using the session's configured default
// lifetimes.
func (s *Session) EnqueueDefault(data any) {
	s.Enqueue(data, s.cfg.StrongLifetime, s.cfg.SoftLifetime)
}

// RecordReceive advances the receive SequenceClock to coord if coord is
// strictly newer than the current high-water mark. On lock timeout the
// observation is dropped silently.
func (s *Session) RecordReceive(coord Coord) {
	if !s.recvLock.Acquire(s.cfg.LockTimeout) {
		s.logger.Debug("delivery: recordReceive skipped, receive-sequence lock timeout", "user", s.user, "guid", s.guid)
		return
	}
	defer s.recvLock.Release()

	s.recvClock.Observe(coord)
}

// Skip performs expiry housekeeping via Tick, then discards from both
// queues every message at or before coord. This is how a client
// acknowledges delivery on each reconnect: everything up to and including
// its last-seen coordinate is dropped.
func (s *Session) Skip(ctx context.Context, coord Coord) {
	s.Tick(ctx)
	s.queue.SkipUpTo(coord)
}

// AttachAndReplay associates handle (of the given kind) with the session,
// after skipping everything at or before lastSeen, then best-effort
// replays soft-queue messages the client may have missed.
//
// Frame attachments stay open afterward — a subsequent Flush delivers
// anything still in the strong queue. Batch attachments are spent by this
// call: it always writes exactly one response (possibly "[]") and detaches
// before returning, so the spec pairs it with Flush only for the frame
// kind.
func (s *Session) AttachAndReplay(ctx context.Context, handle any, kind Kind, lastSeen Coord) {
	s.Skip(ctx, lastSeen)

	if !s.attachLock.Acquire(s.cfg.LockTimeout) {
		s.logger.Debug("delivery: attach skipped, attachment lock timeout", "user", s.user, "guid", s.guid)
		return
	}
	defer s.attachLock.Release()

	s.handle = handle
	s.kind = kind
	s.attached = true

	if !s.activeLocked() {
		return
	}

	replay := s.queue.ReplaySoft()

	switch kind {
	case KindFrame:
		sink := handle.(FrameSink)
		for _, m := range replay {
			if err := sink.WriteFrame(ctx, m.Envelope()); err != nil {
				s.logger.Warn("delivery: frame replay write failed, detaching", "user", s.user, "guid", s.guid, "error", err)
				s.detachLocked()
				return
			}
		}
	case KindBatch:
		sink := handle.(BatchSink)
		envs := make([]Envelope, len(replay))
		for i, m := range replay {
			envs[i] = m.Envelope()
		}
		if err := sink.WriteBatch(ctx, envs); err != nil {
			s.logger.Warn("delivery: batch replay write failed", "user", s.user, "guid", s.guid, "error", err)
		}
		s.detachLocked()
	}
}

// Flush performs expiry housekeeping via Tick, then attempts to deliver
// the currently strongly-enqueued messages to whatever is attached. Frame
// attachments emit one frame per message and stay attached; batch
// attachments emit a single response and detach.
func (s *Session) Flush(ctx context.Context) {
	s.Tick(ctx)

	if !s.attachLock.Acquire(s.cfg.LockTimeout) {
		s.logger.Debug("delivery: flush skipped, attachment lock timeout", "user", s.user, "guid", s.guid)
		return
	}
	defer s.attachLock.Release()

	if !s.activeLocked() {
		return
	}

	switch s.kind {
	case KindFrame:
		sink := s.handle.(FrameSink)
		for _, m := range s.queue.DrainStrong() {
			if err := sink.WriteFrame(ctx, m.Envelope()); err != nil {
				s.logger.Warn("delivery: frame flush write failed, detaching", "user", s.user, "guid", s.guid, "error", err)
				s.detachLocked()
				return
			}
		}
	case KindBatch:
		sink := s.handle.(BatchSink)
		drained := s.queue.DrainStrong()
		envs := make([]Envelope, len(drained))
		for i, m := range drained {
			envs[i] = m.Envelope()
		}
		if err := sink.WriteBatch(ctx, envs); err != nil {
			s.logger.Warn("delivery: batch flush write failed", "user", s.user, "guid", s.guid, "error", err)
		}
		s.detachLocked()
	}
}

// Tick performs expiry housekeeping unconditionally, then — if a transport
// is attached and its deadline has passed — pings a frame attachment or
// detaches a batch attachment with an empty response.
//
// The deadline is never advanced here; callers advance it via SetDeadline
// whenever they observe liveness (new attach, inbound message, successful
// flush). A frame attachment whose deadline stays in the past is pinged on
// every subsequent tick, matching the original's behavior of not
// self-resetting nextTimeout.
func (s *Session) Tick(ctx context.Context) {
	now := truncateMS(s.clock.Now())
	s.queue.Expire(now)

	if !s.attachLock.Acquire(s.cfg.LockTimeout) {
		s.logger.Debug("delivery: tick skipped, attachment lock timeout", "user", s.user, "guid", s.guid)
		return
	}
	defer s.attachLock.Release()

	if !s.attached || !s.deadline.Before(now) {
		return
	}
	if !s.activeLocked() {
		s.detachLocked()
		return
	}

	switch s.kind {
	case KindFrame:
		sink := s.handle.(FrameSink)
		if err := sink.Ping(ctx, now.UnixMilli()); err != nil {
			s.logger.Warn("delivery: idle ping failed, detaching", "user", s.user, "guid", s.guid, "error", err)
			s.detachLocked()
		}
	case KindBatch:
		sink := s.handle.(BatchSink)
		if err := sink.WriteBatch(ctx, []Envelope{}); err != nil {
			s.logger.Warn("delivery: idle batch timeout write failed", "user", s.user, "guid", s.guid, "error", err)
		}
		s.detachLocked()
	}
}

// SetDeadline advances the session's idle deadline to now + d. Callers
// invoke this whenever they observe liveness: a fresh attach, an inbound
// message, or a successful flush.
func (s *Session) SetDeadline(d time.Duration) {
	if !s.attachLock.Acquire(s.cfg.LockTimeout) {
		s.logger.Debug("delivery: setDeadline skipped, attachment lock timeout", "user", s.user, "guid", s.guid)
		return
	}
	defer s.attachLock.Release()

	s.deadline = s.clock.Now().Add(d)
}

// DrainOnShutdown forces any batch-attached long-poll to receive its empty
// "[]" response immediately, bypassing the deadline check Tick normally
// applies. Used during graceful shutdown so no in-flight long-poll hangs
// until the process actually exits. Frame attachments are left alone here;
// their transport is closed by the server's own shutdown sequence.
func (s *Session) DrainOnShutdown(ctx context.Context) {
	if !s.attachLock.Acquire(s.cfg.LockTimeout) {
		return
	}
	defer s.attachLock.Release()

	if !s.attached || s.kind != KindBatch {
		return
	}
	if !s.activeLocked() {
		s.detachLocked()
		return
	}
	sink := s.handle.(BatchSink)
	if err := sink.WriteBatch(ctx, []Envelope{}); err != nil {
		s.logger.Warn("delivery: shutdown drain write failed", "user", s.user, "guid", s.guid, "error", err)
	}
	s.detachLocked()
}

// Detach clears the current attachment unconditionally, used when a caller
// observes the underlying transport closed (e.g. a WebSocket read loop
// exiting) outside of Flush/Tick's own liveness checks.
func (s *Session) Detach() {
	if !s.attachLock.Acquire(s.cfg.LockTimeout) {
		return
	}
	defer s.attachLock.Release()
	s.detachLocked()
}

// detachLocked must be called with attachLock held.
func (s *Session) detachLocked() {
	s.handle = nil
	s.attached = false
}

// activeLocked must be called with attachLock held.
func (s *Session) activeLocked() bool {
	if !s.attached || s.handle == nil {
		return false
	}
	switch s.kind {
	case KindFrame:
		sink, ok := s.handle.(FrameSink)
		return ok && sink.IsActive()
	case KindBatch:
		sink, ok := s.handle.(BatchSink)
		return ok && sink.IsActive()
	default:
		return false
	}
}

// Reapable reports whether the session has empty queues, no attachment,
// and a deadline that elapsed more than grace ago — the condition under
// which the Registry's reaper removes it.
func (s *Session) Reapable(now time.Time, grace time.Duration) bool {
	if !s.queue.Empty() {
		return false
	}

	attached := false
	var deadline time.Time
	if s.attachLock.Acquire(s.cfg.LockTimeout) {
		attached = s.attached
		deadline = s.deadline
		s.attachLock.Release()
	} else {
		// Couldn't confirm attachment state; err towards not reaping.
		return false
	}
	if attached {
		return false
	}
	return deadline.Add(grace).Before(now)
}
