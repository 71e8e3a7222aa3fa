package notify

import (
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
)

// Option configures a Value or Stream.
type Option func(*options)

type options struct {
	logger *slog.Logger
	name   string
}

// WithLogger sets the logger that receives subscriber anomaly warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithName labels warnings emitted by this notifier.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "notify")
	if o.name != "" {
		o.logger = o.logger.With("notifier", o.name)
	}
	return o
}

// Subscription identifies one attached callback.
type Subscription struct {
	id       uint64
	owner    any
	fnPtr    uintptr
	detached atomic.Bool
}

// Active reports whether the subscription is still attached.
func (s *Subscription) Active() bool {
	return s != nil && !s.detached.Load()
}

type subscriber[F any] struct {
	sub *Subscription
	fn  F
}

// subscribers is the ordered subscriber list shared by Value and Stream.
type subscribers[F any] struct {
	mu     sync.Mutex
	list   []subscriber[F]
	nextID uint64
	logger *slog.Logger
}

func (s *subscribers[F]) attach(fn F, owner any) *Subscription {
	ptr := funcPointer(fn)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.list {
		if existing.sub.fnPtr == ptr && sameOwner(existing.sub.owner, owner) {
			s.logger.Warn("duplicate callback and owner pair attached", "subscription", existing.sub.id)
			break
		}
	}

	s.nextID++
	sub := &Subscription{id: s.nextID, owner: owner, fnPtr: ptr}
	s.list = append(s.list, subscriber[F]{sub: sub, fn: fn})
	return sub
}

func (s *subscribers[F]) detach(sub *Subscription) bool {
	if sub == nil {
		s.logger.Warn("nil subscription passed to detach, nothing was removed")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.list {
		if existing.sub == sub {
			// Neutralise first so an in-flight dispatch holding a snapshot
			// skips it.
			sub.detached.Store(true)
			s.list = append(s.list[:i:i], s.list[i+1:]...)
			return true
		}
	}

	s.logger.Warn("subscription not found, nothing was removed", "subscription", sub.id)
	return false
}

// snapshot returns the current list so callbacks can attach or detach while
// being dispatched.
func (s *subscribers[F]) snapshot() []subscriber[F] {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]subscriber[F], len(s.list))
	copy(out, s.list)
	return out
}

func (s *subscribers[F]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}

func funcPointer(fn any) uintptr {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return 0
	}
	return v.Pointer()
}

// sameOwner reports whether two owners are equal. A nil owner never
// matches: closures from one function literal share a code pointer, so
// without an owner two attachments cannot be told apart.
func sameOwner(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}
