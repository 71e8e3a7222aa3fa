package notify

import "sync"

// Value is an observable value. Set notifies subscribers only when the new
// value differs from the current one.
type Value[T comparable] struct {
	mu    sync.RWMutex
	value T
	subs  subscribers[func(T)]
}

// NewValue creates a Value holding initial.
func NewValue[T comparable](initial T, opts ...Option) *Value[T] {
	o := buildOptions(opts)
	v := &Value[T]{value: initial}
	v.subs.logger = o.logger
	return v
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Set stores value and notifies every subscriber in attach order. It is a
// no-op returning false when value equals the current value.
func (v *Value[T]) Set(value T) bool {
	v.mu.Lock()
	if v.value == value {
		v.mu.Unlock()
		return false
	}
	v.value = value
	v.mu.Unlock()

	for _, s := range v.subs.snapshot() {
		if s.sub.Active() {
			s.fn(value)
		}
	}
	return true
}

// Attach appends fn to the subscriber list. owner is an optional context
// used only to detect accidental duplicate attachment.
func (v *Value[T]) Attach(fn func(T), owner any) *Subscription {
	return v.subs.attach(fn, owner)
}

// Detach removes the subscription. It returns false, after logging a
// warning, when the subscription is not attached to this Value.
func (v *Value[T]) Detach(sub *Subscription) bool {
	return v.subs.detach(sub)
}

// Subscribers returns the number of attached subscribers.
func (v *Value[T]) Subscribers() int {
	return v.subs.len()
}
