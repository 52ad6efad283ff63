// Package notify implements the external notification endpoint: a
// process-local, coalescing wakeup signal from out-of-thread producers (the
// admin surface, the CLI) into the single-threaded server event loop.
package notify

// Endpoint is a depth-1 buffered wakeup channel: a non-blocking Signal when
// a wakeup is already pending is a correctly-coalesced no-op.
type Endpoint struct {
	ch chan struct{}
}

// New creates an Endpoint with no pending wakeup.
func New() *Endpoint {
	return &Endpoint{ch: make(chan struct{}, 1)}
}

// Signal requests a wakeup. Repeated calls while a wakeup is already
// pending are no-ops.
func (e *Endpoint) Signal() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// C returns the channel the event loop selects on to receive wakeups.
func (e *Endpoint) C() <-chan struct{} {
	return e.ch
}
