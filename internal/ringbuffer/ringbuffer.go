package ringbuffer

import "sync"

// RingBuffer keeps the most recent N values, overwriting the oldest when full.
// It is safe for concurrent use.
type RingBuffer[T any] struct {
	mu       sync.Mutex
	buf      []T
	writePos int
	capacity int
	written  int // total values ever written (for tracking fill level)
}

// New creates a ring buffer holding up to capacity values.
func New[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
}

// Write appends values, overwriting the oldest data when full.
func (rb *RingBuffer[T]) Write(values ...T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for _, v := range values {
		rb.buf[rb.writePos] = v
		rb.writePos = (rb.writePos + 1) % rb.capacity
		rb.written++
	}
}

// Snapshot returns a copy of the last n values, oldest first.
// If fewer values are stored, only the available ones are returned.
// n <= 0 returns everything stored.
func (rb *RingBuffer[T]) Snapshot(n int) []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	available := rb.lenLocked()
	if n <= 0 || n > available {
		n = available
	}
	if n == 0 {
		return nil
	}

	out := make([]T, n)
	start := (rb.writePos - n + rb.capacity) % rb.capacity

	if start+n <= rb.capacity {
		copy(out, rb.buf[start:start+n])
	} else {
		first := rb.capacity - start
		copy(out[:first], rb.buf[start:])
		copy(out[first:], rb.buf[:n-first])
	}

	return out
}

// Latest returns the most recently written value.
func (rb *RingBuffer[T]) Latest() (T, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var zero T
	if rb.written == 0 {
		return zero, false
	}
	return rb.buf[(rb.writePos-1+rb.capacity)%rb.capacity], true
}

// Len returns the number of values currently stored.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.lenLocked()
}

// Reset drops every stored value.
func (rb *RingBuffer[T]) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var zero T
	for i := range rb.buf {
		rb.buf[i] = zero
	}
	rb.writePos = 0
	rb.written = 0
}

func (rb *RingBuffer[T]) lenLocked() int {
	if rb.written > rb.capacity {
		return rb.capacity
	}
	return rb.written
}
