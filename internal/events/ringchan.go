package events

// RingChannel is a bounded channel-like buffer with overwrite-oldest
// semantics. Producers never block: if the buffer is full, the oldest
// element is discarded to make room.
//
// Radio callbacks and the state mirror publish through RingChannels so a
// slow or absent consumer (no screen mounted, CLI detached) can never stall
// the signal-delivery path.
type RingChannel[T any] struct {
	ch chan T
}

// NewRingChannel creates a RingChannel with the given capacity.
func NewRingChannel[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("events: ring channel capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. Consumers can range over
// it until Close.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts an item, discarding the oldest buffered element if the
// buffer is full. Reports whether an element was dropped.
func (rc *RingChannel[T]) Send(v T) bool {
	select {
	case rc.ch <- v:
		return false
	default:
	}

	dropped := false
	select {
	case <-rc.ch:
		dropped = true
	default:
		// Consumer raced us and drained the buffer.
	}
	rc.ch <- v
	return dropped
}

// TrySend attempts a non-blocking insert without displacing anything.
// Returns false if the buffer is full.
func (rc *RingChannel[T]) TrySend(v T) bool {
	select {
	case rc.ch <- v:
		return true
	default:
		return false
	}
}

// TryReceive attempts a non-blocking receive. Returns (zero, false) if no
// value is ready.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int { return len(rc.ch) }

// Cap returns the buffer capacity.
func (rc *RingChannel[T]) Cap() int { return cap(rc.ch) }

// Close closes the underlying channel. After Close, Send panics.
func (rc *RingChannel[T]) Close() { close(rc.ch) }
