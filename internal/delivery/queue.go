package delivery

import (
	"sync"
	"time"
)

// softSlot is one entry in the fixed-capacity ring backing soft holders.
type softSlot struct {
	occupied   bool
	generation uint64
	msg        Message
}

// softHolder is a weak reference into the ring: it resolves to the message
// only while the ring slot's generation still matches the generation
// recorded at enqueue time. Once a later Enqueue recycles the slot, the
// holder silently resolves to empty — the Go stand-in for a reclaimed
// java.lang.ref.SoftReference, since the runtime gives no way to observe
// real garbage collection pressure from application code.
type softHolder struct {
	slot       int
	generation uint64
}

// DualQueue is a pair of FIFO queues over the same logical message stream:
// a strong queue of not-yet-delivered messages, and a soft queue of
// recently enqueued messages eligible for best-effort replay. It owns an
// internal mutex because, unlike the original's lock-free
// ConcurrentLinkedQueue, Go slices are not safe for concurrent mutation —
// Session's own locks serialize which goroutine is allowed to be in the
// middle of a multi-step operation, but this mutex is what keeps the
// slices themselves race-free regardless of which lock a caller is
// holding, or whether it holds one at all (Skip holds none).
type DualQueue struct {
	mu sync.Mutex

	strong []Message
	soft   []softHolder

	ring         []softSlot
	ringNext     int
	ringGenClock uint64
}

// NewDualQueue creates a DualQueue whose soft-holder ring holds at most
// softCapacity live entries before the oldest is silently recycled.
func NewDualQueue(softCapacity int) *DualQueue {
	if softCapacity <= 0 {
		softCapacity = 256
	}
	return &DualQueue{
		ring: make([]softSlot, softCapacity),
	}
}

// Enqueue appends m to the strong queue and records a soft holder for it.
func (q *DualQueue) Enqueue(m Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.strong = append(q.strong, m)

	slot := q.ringNext
	gen := q.ringGenClock
	q.ring[slot] = softSlot{occupied: true, generation: gen, msg: m}
	q.soft = append(q.soft, softHolder{slot: slot, generation: gen})

	q.ringNext = (q.ringNext + 1) % len(q.ring)
	q.ringGenClock++
}

// resolve must be called with mu held.
func (q *DualQueue) resolve(h softHolder) (Message, bool) {
	slot := q.ring[h.slot]
	if !slot.occupied || slot.generation != h.generation {
		return Message{}, false
	}
	return slot.msg, true
}

// Expire drops from strong all messages whose strongDeadline is before now,
// and from soft all holders whose referent is reclaimed or whose
// softDeadline is before now.
func (q *DualQueue) Expire(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	keptStrong := q.strong[:0:0]
	for _, m := range q.strong {
		if !m.strongDeadline.Before(now) {
			keptStrong = append(keptStrong, m)
		}
	}
	q.strong = keptStrong

	keptSoft := q.soft[:0:0]
	for _, h := range q.soft {
		msg, ok := q.resolve(h)
		if !ok {
			continue
		}
		if !msg.softDeadline.Before(now) {
			keptSoft = append(keptSoft, h)
		}
	}
	q.soft = keptSoft
}

// SkipUpTo drops from strong all messages with coord <= given, and from
// soft all holders whose referent has coord <= given or is reclaimed.
func (q *DualQueue) SkipUpTo(coord Coord) {
	q.mu.Lock()
	defer q.mu.Unlock()

	keptStrong := q.strong[:0:0]
	for _, m := range q.strong {
		if !m.coord.LessEqual(coord) {
			keptStrong = append(keptStrong, m)
		}
	}
	q.strong = keptStrong

	keptSoft := q.soft[:0:0]
	for _, h := range q.soft {
		msg, ok := q.resolve(h)
		if !ok {
			continue
		}
		if !msg.coord.LessEqual(coord) {
			keptSoft = append(keptSoft, h)
		}
	}
	q.soft = keptSoft
}

// DrainStrong removes and returns all strong messages in FIFO order.
func (q *DualQueue) DrainStrong() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.strong
	q.strong = nil
	return out
}

// ReplaySoft returns the live soft-queue messages eligible for replay: the
// soft queue from the head, stopping at (not including) the first holder
// whose referent matches the current strong-queue head. If the strong
// queue is empty, the entire live soft tail is replayed. Peeking the
// strong head and walking the soft queue happen under one lock acquisition
// so a concurrent DrainStrong can't slip in between and invalidate the
// stopping point. Does not mutate either queue.
func (q *DualQueue) ReplaySoft() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	var headStrong Message
	hasHead := len(q.strong) > 0
	if hasHead {
		headStrong = q.strong[0]
	}

	var out []Message
	for _, h := range q.soft {
		msg, ok := q.resolve(h)
		if !ok {
			continue
		}
		if hasHead && msg.coord == headStrong.coord {
			break
		}
		out = append(out, msg)
	}
	return out
}

// Empty reports whether both the strong and soft queues hold no live
// messages.
func (q *DualQueue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.strong) != 0 {
		return false
	}
	for _, h := range q.soft {
		if _, ok := q.resolve(h); ok {
			return false
		}
	}
	return true
}
