package store

import (
	"context"
	"sync"
)

// Subscription is a live feed of snapshots. C always holds at most one
// pending value: a slow reader skips intermediate snapshots and only sees
// the newest one. C is closed once the subscription ends.
type Subscription[T any] struct {
	C <-chan T

	once   sync.Once
	cancel func()
}

// Unsubscribe stops delivery and closes C. It is safe to call more than once.
func (s *Subscription[T]) Unsubscribe() {
	s.once.Do(s.cancel)
}

// Hub fans snapshots out to subscribers with newest-wins delivery.
// The zero value is ready to use.
type Hub[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan T
	closed bool
}

// Subscribe registers a subscriber and queues initial as its first value.
// The subscription ends when ctx is done, Unsubscribe is called, or the
// hub is closed.
func (h *Hub[T]) Subscribe(ctx context.Context, initial T) (*Subscription[T], error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	if h.subs == nil {
		h.subs = make(map[uint64]chan T)
	}

	id := h.nextID
	h.nextID++
	ch := make(chan T, 1)
	ch <- initial
	h.subs[id] = ch

	stop := make(chan struct{})
	sub := &Subscription[T]{C: ch}
	sub.cancel = func() {
		close(stop)
		h.remove(id)
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-stop:
		}
	}()

	return sub, nil
}

// Publish delivers v to every subscriber, replacing any value a subscriber
// has not read yet.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case <-ch:
		default:
		}
		// Only the hub sends, under h.mu, so the buffer has room now.
		select {
		case ch <- v:
		default:
		}
	}
}

// Len reports the number of active subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription. Later Subscribe calls fail with ErrClosed.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

func (h *Hub[T]) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}
