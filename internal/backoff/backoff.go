// Package backoff implements the client-side reconnect delay schedule used
// by the client and bank connection FSMs.
package backoff

import "time"

// DefaultSchedule is the fixed reconnect delay table: three immediate
// retries, then thirty retries at each of 1s/2s/4s/8s, then 16s forever
// after.
func DefaultSchedule() []time.Duration {
	sched := make([]time.Duration, 0, 3+30*4)
	for i := 0; i < 3; i++ {
		sched = append(sched, 0)
	}
	for _, step := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second} {
		for i := 0; i < 30; i++ {
			sched = append(sched, step)
		}
	}
	return sched
}

// tailDelay is used once the schedule is exhausted.
const tailDelay = 16 * time.Second

// floorDelay is the minimum delay ever returned by Next, matching the
// reference behavior of never scheduling a reconnect at exactly time zero.
const floorDelay = time.Millisecond

// Backoff tracks reconnect attempts against a fixed delay schedule. It is
// not safe for concurrent use; callers drive it from a single FSM goroutine.
type Backoff struct {
	schedule []time.Duration
	idx      int
}

// New creates a Backoff over the given schedule. A nil schedule uses
// DefaultSchedule().
func New(schedule []time.Duration) *Backoff {
	if schedule == nil {
		schedule = DefaultSchedule()
	}
	return &Backoff{schedule: schedule}
}

// Next returns the delay before the next reconnect attempt and advances the
// schedule. It never returns less than floorDelay.
func (b *Backoff) Next() time.Duration {
	var delay time.Duration
	if b.idx < len(b.schedule) {
		delay = b.schedule[b.idx]
		b.idx++
	} else {
		delay = tailDelay
	}
	if delay < floorDelay {
		delay = floorDelay
	}
	return delay
}

// Reset returns the schedule to its first entry, as happens after a
// connection is judged "good" (see MaybeReset) or when the owning FSM
// receives its ESTABLISH event.
func (b *Backoff) Reset() {
	b.idx = 0
}

// MaybeReset resets the schedule if a connection that was up for
// upFor exceeds the "good connection" threshold: twice the largest of the
// handshake timeout, the TCP connect timeout, and the schedule's tail delay.
// The threshold uses the schedule's saturation value rather than whatever
// delay this particular connection happened to wait, so it stays constant
// regardless of how deep into the schedule a reconnect attempt was when it
// finally succeeded. A long-lived connection is evidence the peer is healthy
// again, so the next disconnect should retry fast rather than resume from
// wherever the schedule left off.
func (b *Backoff) MaybeReset(upFor, handshakeTimeout, tcpConnectTimeout time.Duration) bool {
	threshold := 2 * max3(handshakeTimeout, tcpConnectTimeout, tailDelay)
	if threshold <= 0 {
		return false
	}
	if upFor > threshold {
		b.Reset()
		return true
	}
	return false
}

func max3(a, b, c time.Duration) time.Duration {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}
