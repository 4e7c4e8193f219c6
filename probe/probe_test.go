package probe

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestStartProbeWritesSlotOnSuccess(t *testing.T) {
	b := NewBase("Test")
	var got int32

	b.StartProbe(func(ctx context.Context, log Logger) {
		atomic.StoreInt32(&got, 1)
	}, "probe-a", 500*time.Millisecond)

	b.Join()

	if atomic.LoadInt32(&got) != 1 {
		t.Error("expected probe function to run and write its slot")
	}
}

func TestJoinTimesOutSlowProbe(t *testing.T) {
	b := NewBase("Test")
	var finishedLate int32

	b.StartProbe(func(ctx context.Context, log Logger) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
			atomic.StoreInt32(&finishedLate, 1)
		}
	}, "slow", 20*time.Millisecond)

	elapsed := b.Join()

	if elapsed > 150*time.Millisecond {
		t.Errorf("Join took %v, want it to return promptly after the short deadline", elapsed)
	}
	if atomic.LoadInt32(&finishedLate) != 0 {
		t.Error("probe wrote its slot after cancellation; late writes must not occur")
	}
}

func TestJoinWaitsForProbesSpawnedOutOfCutoffOrder(t *testing.T) {
	b := NewBase("Test")
	var order []int
	record := func(n int) Func {
		return func(ctx context.Context, log Logger) {
			order = append(order, n)
		}
	}

	// Spawn out of cutoff order; Join must still wait for every probe.
	b.StartProbe(record(3), "c", 30*time.Millisecond)
	b.StartProbe(record(1), "a", 10*time.Millisecond)
	b.StartProbe(record(2), "b", 20*time.Millisecond)

	b.Join()

	if len(order) != 3 {
		t.Fatalf("expected 3 probes to run, got %d", len(order))
	}
}

func TestPanicRecoveredAsDone(t *testing.T) {
	b := NewBase("Test")
	b.StartProbe(func(ctx context.Context, log Logger) {
		panic("boom")
	}, "panicky", 100*time.Millisecond)

	done := make(chan struct{})
	go func() {
		b.Join()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Join never returned after a panicking probe")
	}
}

func TestElapsedRounding(t *testing.T) {
	got := Elapsed(1234567 * time.Microsecond)
	if got != 1.235 {
		t.Errorf("Elapsed = %v, want 1.235", got)
	}
}
