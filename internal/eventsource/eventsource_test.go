package eventsource

import (
	"context"
	"testing"
	"time"

	"github.com/ashureev/panelbridge/internal/delivery"
)

func testConfig() delivery.Config {
	return delivery.Config{
		LockTimeout:    100 * time.Millisecond,
		StrongLifetime: 30 * time.Second,
		SoftLifetime:   time.Minute,
		PingInterval:   15 * time.Second,
		GraceWindow:    60 * time.Second,
		SoftCapacity:   64,
	}
}

func TestProducerGuidsAreUnique(t *testing.T) {
	r := delivery.NewRegistry(testConfig(), delivery.SystemClock{}, nil)
	a := NewProducer(r, "demo-user", nil)
	b := NewProducer(r, "demo-user", nil)

	if a.Guid() == b.Guid() {
		t.Fatal("two producers should mint distinct session GUIDs")
	}
}

func TestProducerRunEnqueuesUntilCanceled(t *testing.T) {
	r := delivery.NewRegistry(testConfig(), delivery.SystemClock{}, nil)
	p := NewProducer(r, "demo-user", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	if got := r.Len(); got != 1 {
		t.Fatalf("registry session count = %d, want 1", got)
	}
}
