package delivery

import (
	"testing"
	"time"
)

func newTestMessage(ms int64, seq uint32, strongDL, softDL time.Time) Message {
	return newMessage(Coord{TimestampMS: ms, Sequence: seq}, nil, strongDL, softDL)
}

func TestDualQueueEnqueueDrainStrongFIFO(t *testing.T) {
	q := NewDualQueue(8)
	far := time.UnixMilli(1_000_000)

	q.Enqueue(newTestMessage(1, 0, far, far))
	q.Enqueue(newTestMessage(2, 0, far, far))
	q.Enqueue(newTestMessage(3, 0, far, far))

	drained := q.DrainStrong()
	if len(drained) != 3 {
		t.Fatalf("len(drained) = %d, want 3", len(drained))
	}
	for i, want := range []int64{1, 2, 3} {
		if drained[i].Coord().TimestampMS != want {
			t.Fatalf("drained[%d] ts = %d, want %d", i, drained[i].Coord().TimestampMS, want)
		}
	}

	// Second drain is empty.
	if got := q.DrainStrong(); len(got) != 0 {
		t.Fatalf("second DrainStrong() = %v, want empty", got)
	}
}

func TestDualQueueExpireStrongIndependentOfSoft(t *testing.T) {
	q := NewDualQueue(8)
	now := time.UnixMilli(100_000)
	strongDL := now.Add(10 * time.Second)
	softDL := now.Add(5 * time.Minute)

	q.Enqueue(newTestMessage(1, 0, strongDL, softDL))

	// Before strong deadline: still in strong queue.
	q.Expire(now)
	if q.Empty() {
		t.Fatalf("queue reported empty before any deadline passed")
	}

	// After strong deadline but before soft deadline: strong gone, soft lives on.
	q.Expire(strongDL.Add(time.Second))
	drained := q.DrainStrong()
	if len(drained) != 0 {
		t.Fatalf("strong queue not expired: %v", drained)
	}
	if q.Empty() {
		t.Fatalf("queue reported empty while soft message still alive")
	}

	// After soft deadline too: fully empty.
	q.Expire(softDL.Add(time.Second))
	if !q.Empty() {
		t.Fatalf("queue not empty after soft deadline passed")
	}
}

func TestDualQueueSkipUpToDropsBothQueues(t *testing.T) {
	q := NewDualQueue(8)
	far := time.UnixMilli(10_000_000)

	q.Enqueue(newTestMessage(100, 0, far, far))
	q.Enqueue(newTestMessage(200, 0, far, far))
	q.Enqueue(newTestMessage(300, 0, far, far))

	q.SkipUpTo(Coord{TimestampMS: 200, Sequence: 0})

	drained := q.DrainStrong()
	if len(drained) != 1 || drained[0].Coord().TimestampMS != 300 {
		t.Fatalf("drained after skip = %+v, want only ts=300", drained)
	}

	// Soft side should also have dropped 100 and 200: replay (with no strong
	// head left after the drain above) should only surface 300.
	replay := q.ReplaySoft()
	if len(replay) != 1 || replay[0].Coord().TimestampMS != 300 {
		t.Fatalf("replay after skip = %+v, want only ts=300", replay)
	}
}

func TestDualQueueReplaySoftStopsAtStrongHead(t *testing.T) {
	q := NewDualQueue(8)
	far := time.UnixMilli(10_000_000)

	q.Enqueue(newTestMessage(1, 0, far, far))
	q.Enqueue(newTestMessage(2, 0, far, far))
	q.Enqueue(newTestMessage(3, 0, far, far))

	// Nothing drained yet: strong head is ts=1, so replay should be empty
	// (nothing precedes the head).
	replay := q.ReplaySoft()
	if len(replay) != 0 {
		t.Fatalf("replay before any drain = %+v, want empty", replay)
	}

	drained := q.DrainStrong()
	if len(drained) != 3 {
		t.Fatalf("drained = %+v", drained)
	}

	// Now strong is empty: replay should surface the entire live soft tail.
	replay = q.ReplaySoft()
	if len(replay) != 3 {
		t.Fatalf("replay after drain = %+v, want all 3", replay)
	}
}

func TestDualQueueReplaySoftDoesNotMutate(t *testing.T) {
	q := NewDualQueue(8)
	far := time.UnixMilli(10_000_000)
	q.Enqueue(newTestMessage(1, 0, far, far))

	q.DrainStrong()
	first := q.ReplaySoft()
	second := q.ReplaySoft()
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("ReplaySoft should be idempotent: first=%v second=%v", first, second)
	}
}

func TestDualQueueRingRecyclesOldestSoftHolder(t *testing.T) {
	q := NewDualQueue(2)
	far := time.UnixMilli(10_000_000)

	q.Enqueue(newTestMessage(1, 0, far, far))
	q.Enqueue(newTestMessage(2, 0, far, far))
	q.Enqueue(newTestMessage(3, 0, far, far)) // recycles slot for ts=1

	q.DrainStrong()
	replay := q.ReplaySoft()
	if len(replay) != 2 {
		t.Fatalf("replay = %+v, want 2 live entries (oldest recycled)", replay)
	}
	for _, m := range replay {
		if m.Coord().TimestampMS == 1 {
			t.Fatalf("recycled message ts=1 still resolved: %+v", replay)
		}
	}
}

func TestDualQueueEmpty(t *testing.T) {
	q := NewDualQueue(4)
	if !q.Empty() {
		t.Fatalf("new queue should be empty")
	}
	far := time.UnixMilli(10_000_000)
	q.Enqueue(newTestMessage(1, 0, far, far))
	if q.Empty() {
		t.Fatalf("queue with a live message should not be empty")
	}
}
