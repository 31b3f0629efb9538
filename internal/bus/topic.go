// Package bus fans values out to the widgets of one server view.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Topic delivers values of one kind to its subscribers, in subscription
// order. A replaying topic hands its latest value to new subscribers.
//
// Handlers run on the publishing goroutine and must not block or
// publish to the same topic.
type Topic[T any] struct {
	name   string
	replay bool
	logger *slog.Logger

	mu     sync.Mutex
	subs   []*subscription[T]
	latest T
	has    bool
	seq    uint64
	closed bool
}

type subscription[T any] struct {
	fn     func(T)
	active atomic.Bool

	mu   sync.Mutex
	last uint64
}

func NewTopic[T any](name string, replay bool, logger *slog.Logger) *Topic[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Topic[T]{name: name, replay: replay, logger: logger}
}

// Subscribe registers fn and returns a function that removes it. The
// returned function is idempotent and safe to call from inside fn.
func (t *Topic[T]) Subscribe(fn func(T)) func() {
	s := &subscription[T]{fn: fn}
	s.active.Store(true)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return func() {}
	}
	t.subs = append(t.subs, s)
	replay, has, seq := t.latest, t.has && t.replay, t.seq
	t.mu.Unlock()

	if has {
		t.deliver(s, seq, replay)
	}
	return func() { t.unsubscribe(s) }
}

func (t *Topic[T]) unsubscribe(s *subscription[T]) {
	s.active.Store(false)
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, sub := range t.subs {
		if sub == s {
			t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
			return
		}
	}
}

// Publish records v as the latest value and delivers it.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.seq++
	seq := t.seq
	t.latest, t.has = v, true
	subs := t.subs
	t.mu.Unlock()

	for _, s := range subs {
		t.deliver(s, seq, v)
	}
}

// deliver hands v to s unless s was removed or already saw a newer
// value. The per-subscription sequence keeps a replay racing a publish
// from arriving out of order.
func (t *Topic[T]) deliver(s *subscription[T], seq uint64, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active.Load() || seq <= s.last {
		return
	}
	s.last = seq
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("subscriber panicked", "topic", t.name, "panic", r)
		}
	}()
	s.fn(v)
}

// Latest returns the most recently published value.
func (t *Topic[T]) Latest() (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest, t.has
}

// Reset forgets the latest value without notifying anyone.
func (t *Topic[T]) Reset() {
	t.mu.Lock()
	var zero T
	t.latest, t.has = zero, false
	t.mu.Unlock()
}

// Close detaches every subscriber. Nothing is delivered afterwards.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.subs {
		s.active.Store(false)
	}
	t.subs = nil
	t.closed = true
	var zero T
	t.latest, t.has = zero, false
}

func (t *Topic[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
