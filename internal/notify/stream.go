package notify

// Stream broadcasts discrete events. Unlike Value, every Emit is delivered,
// including repeats of an identical event.
type Stream[E any] struct {
	subs subscribers[func(E)]
}

// NewStream creates an empty Stream.
func NewStream[E any](opts ...Option) *Stream[E] {
	o := buildOptions(opts)
	s := &Stream[E]{}
	s.subs.logger = o.logger
	return s
}

// Emit delivers event to every subscriber in attach order.
func (s *Stream[E]) Emit(event E) {
	for _, sub := range s.subs.snapshot() {
		if sub.sub.Active() {
			sub.fn(event)
		}
	}
}

// Attach appends fn to the subscriber list.
func (s *Stream[E]) Attach(fn func(E), owner any) *Subscription {
	return s.subs.attach(fn, owner)
}

// Detach removes the subscription, warning when it is unknown.
func (s *Stream[E]) Detach(sub *Subscription) bool {
	return s.subs.detach(sub)
}

// Subscribers returns the number of attached subscribers.
func (s *Stream[E]) Subscribers() int {
	return s.subs.len()
}
