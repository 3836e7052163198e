// Package observable provides push-updated state holders shared between the
// scan pipeline and its presentation layers.
package observable

import "sync"

// Value holds the latest state of type T and pushes changes to subscribers.
//
// Writes equal to the current value are not delivered. Each subscriber has a
// single-slot buffer: a lagging subscriber skips intermediate values and
// always observes the most recent one. Publishers never block.
type Value[T comparable] struct {
	mu    sync.Mutex
	value T
	subs  map[uint64]chan T
	next  uint64
}

// New returns a Value initialised to initial.
func New[T comparable](initial T) *Value[T] {
	return &Value[T]{value: initial, subs: make(map[uint64]chan T)}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}

// Set stores next and notifies subscribers. It reports whether the value changed.
func (v *Value[T]) Set(next T) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.value == next {
		return false
	}
	v.value = next
	for _, ch := range v.subs {
		offer(ch, next)
	}
	return true
}

// Subscribe returns a channel primed with the current value and a cancel
// function. Cancel closes the channel and is safe to call more than once.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)

	v.mu.Lock()
	id := v.next
	v.next++
	v.subs[id] = ch
	ch <- v.value
	v.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subs, id)
			close(ch)
			v.mu.Unlock()
		})
	}
	return ch, cancel
}

// Subscribers reports the number of active subscriptions.
func (v *Value[T]) Subscribers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}

// offer replaces any unread value in ch with next. Callers hold the lock, so
// the slot is free once drained.
func offer[T any](ch chan T, next T) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- next:
	default:
	}
}
