package pubsub

import "sync"

// Hub fans a value out to registered callbacks.
// Callbacks run synchronously on the publishing goroutine, in registration order.
type Hub[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscription[T]
}

type subscription[T any] struct {
	id uint64
	fn func(T)
}

// NewHub creates an empty Hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{}
}

// Subscribe registers fn and returns a function that removes it.
// The returned function is safe to call more than once.
func (h *Hub[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs = append(h.subs, subscription[T]{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

// Publish delivers v to every callback registered when Publish was called.
// Changes to the registry made by callbacks apply to the next Publish only.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	snapshot := make([]subscription[T], len(h.subs))
	copy(snapshot, h.subs)
	h.mu.Unlock()

	for _, s := range snapshot {
		s.fn(v)
	}
}

// Len reports the number of active subscriptions.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub[T]) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, s := range h.subs {
		if s.id == id {
			// Copy instead of reslicing in place so a concurrent Publish snapshot stays intact.
			next := make([]subscription[T], 0, len(h.subs)-1)
			next = append(next, h.subs[:i]...)
			next = append(next, h.subs[i+1:]...)
			h.subs = next
			return
		}
	}
}
