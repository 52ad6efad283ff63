package backoff

import (
	"testing"
	"time"
)

func TestDefaultScheduleShape(t *testing.T) {
	sched := DefaultSchedule()
	if len(sched) != 3+30*4 {
		t.Fatalf("len = %d, want %d", len(sched), 3+30*4)
	}
	for i := 0; i < 3; i++ {
		if sched[i] != 0 {
			t.Fatalf("sched[%d] = %v, want 0", i, sched[i])
		}
	}
	steps := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for s, step := range steps {
		base := 3 + s*30
		for i := 0; i < 30; i++ {
			if sched[base+i] != step {
				t.Fatalf("sched[%d] = %v, want %v", base+i, sched[base+i], step)
			}
		}
	}
}

func TestNextFloorsAtOneMillisecond(t *testing.T) {
	b := New(nil)
	for i := 0; i < 3; i++ {
		if got := b.Next(); got != floorDelay {
			t.Fatalf("Next() = %v, want %v", got, floorDelay)
		}
	}
	if got := b.Next(); got != time.Second {
		t.Fatalf("Next() after floor entries = %v, want 1s", got)
	}
}

func TestNextFallsBackToTailDelay(t *testing.T) {
	sched := []time.Duration{time.Second}
	b := New(sched)
	if got := b.Next(); got != time.Second {
		t.Fatalf("Next() = %v, want 1s", got)
	}
	if got := b.Next(); got != tailDelay {
		t.Fatalf("Next() past schedule end = %v, want %v", got, tailDelay)
	}
	if got := b.Next(); got != tailDelay {
		t.Fatalf("Next() repeated past schedule end = %v, want %v", got, tailDelay)
	}
}

func TestResetReturnsToStart(t *testing.T) {
	b := New([]time.Duration{time.Second, 2 * time.Second})
	b.Next()
	b.Next()
	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Fatalf("Next() after Reset = %v, want 1s", got)
	}
}

func TestMaybeResetOnLongUptime(t *testing.T) {
	b := New([]time.Duration{time.Second, 2 * time.Second, 4 * time.Second})
	b.Next()
	b.Next()

	if reset := b.MaybeReset(20*time.Second, time.Second, time.Second); reset {
		t.Fatal("MaybeReset returned true for uptime under the threshold")
	}
	if got := b.Next(); got != 4*time.Second {
		t.Fatalf("schedule advanced after no-op MaybeReset: Next() = %v, want 4s", got)
	}

	if reset := b.MaybeReset(40*time.Second, time.Second, time.Second); !reset {
		t.Fatal("MaybeReset returned false for uptime over the threshold")
	}
	if got := b.Next(); got != time.Second {
		t.Fatalf("Next() after MaybeReset = %v, want 1s", got)
	}
}

// The reset threshold is pinned to the schedule's tail delay, not to how far
// a given reconnect attempt happened to get through the schedule: a
// connection that comes up while only a few steps in still waits out the
// same threshold as one that came up at the tail.
func TestMaybeResetThresholdIgnoresScheduleDepth(t *testing.T) {
	handshakeTimeout := 10 * time.Second
	tcpConnectTimeout := 10 * time.Second
	wantThreshold := 32 * time.Second // 2 * max(10s, 10s, tailDelay=16s)

	b := New(nil)
	for i := 0; i < 33; i++ { // lands on the 8s step, well short of the 16s tail
		b.Next()
	}

	if reset := b.MaybeReset(wantThreshold-time.Second, handshakeTimeout, tcpConnectTimeout); reset {
		t.Fatal("MaybeReset returned true just under the 32s threshold")
	}
	if reset := b.MaybeReset(wantThreshold+time.Second, handshakeTimeout, tcpConnectTimeout); !reset {
		t.Fatal("MaybeReset returned false just over the 32s threshold")
	}
}
