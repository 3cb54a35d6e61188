// Package fanout delivers values to subscribers in publication order without
// letting a slow subscriber block the publisher.
//
// Each subscriber owns a goroutine and an unbounded FIFO queue. The identity
// providers use it for sign-in/sign-out events and the session reconciler uses
// it for published snapshots.
package fanout

import "sync"

// Hub fans values of type T out to subscribers. The zero value is ready to use.
//
// Values are shared between subscribers, so a T containing pointers must be
// treated as read-only by them.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[int]*subscriber[T]
	nextID int
	closed bool
}

type subscriber[T any] struct {
	fn    func(T)
	mu    sync.Mutex
	queue []T
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// Subscribe registers fn. When withInitial is true, initial is queued before any
// value published after Subscribe returns. The returned function unsubscribes;
// calling it more than once is safe.
//
// To deliver "current state, then changes" without gaps, the caller must hold
// the lock protecting its state across reading initial and calling Subscribe,
// and across mutating the state and calling Publish.
func (h *Hub[T]) Subscribe(fn func(T), initial T, withInitial bool) (unsubscribe func()) {
	s := &subscriber[T]{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	if withInitial {
		s.push(initial)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.stop()
		return func() {}
	}
	if h.subs == nil {
		h.subs = make(map[int]*subscriber[T])
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = s
	h.mu.Unlock()

	go s.run()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		s.stop()
	}
}

// Publish queues v for every current subscriber. It never blocks on a
// subscriber.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		s.push(v)
	}
}

// Len returns the number of current subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close stops every subscriber goroutine. Values still queued are dropped and
// later Subscribe calls return inert subscriptions.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = nil
	h.closed = true
	h.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

func (s *subscriber[T]) push(v T) {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber[T]) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber[T]) next() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	if len(s.queue) == 0 {
		return zero, false
	}
	v := s.queue[0]
	s.queue[0] = zero
	s.queue = s.queue[1:]
	return v, true
}

func (s *subscriber[T]) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			v, ok := s.next()
			if !ok {
				break
			}
			select {
			case <-s.done:
				return
			default:
			}
			s.fn(v)
		}
	}
}
