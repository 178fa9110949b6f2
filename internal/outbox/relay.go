package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/i474232898/agroassist/internal/metrics"
)

// SendFunc delivers one message.
type SendFunc[T any] func(ctx context.Context, msg T) error

// Relay forwards messages while the link is up and parks them in an Outbox
// while it is down. The outbox is drained once per down-to-up transition.
type Relay[T any] struct {
	box    *Outbox[T]
	send   SendFunc[T]
	logger zerolog.Logger

	mu     sync.Mutex
	up     bool
	drains int
}

// NewRelay creates a relay that starts in the disconnected state.
func NewRelay[T any](box *Outbox[T], send SendFunc[T], logger zerolog.Logger) *Relay[T] {
	return &Relay[T]{
		box:    box,
		send:   send,
		logger: logger.With().Str("component", "outbox.relay").Logger(),
	}
}

// Publish sends msg immediately when connected, otherwise queues it.
// A failed direct send queues the message and marks the link down.
func (r *Relay[T]) Publish(ctx context.Context, msg T) error {
	r.mu.Lock()
	up := r.up
	r.mu.Unlock()

	if up {
		err := r.send(ctx, msg)
		if err == nil {
			metrics.AddOutboxSent(1)
			return nil
		}
		r.logger.Warn().Err(err).Msg("direct send failed, queueing")
		r.setUp(false)
	}
	return r.box.Enqueue(msg)
}

// SetReachable records the link state. On a transition to reachable the
// pending queue is drained exactly once before returning.
func (r *Relay[T]) SetReachable(ctx context.Context, reachable bool) {
	if r.transition(reachable) {
		r.drain(ctx)
	}
}

// SetReachableAsync records the link state like SetReachable but runs the
// drain in the background, bounded by timeout. The returned channel is closed
// once the drain ends, or immediately when no drain was due.
func (r *Relay[T]) SetReachableAsync(reachable bool, timeout time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if !r.transition(reachable) {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		r.drain(ctx)
	}()
	return done
}

// transition stores the link state and reports whether a drain is due.
func (r *Relay[T]) transition(reachable bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	due := reachable && !r.up
	r.up = reachable
	if due {
		r.drains++
	}
	return due
}

func (r *Relay[T]) drain(ctx context.Context) {
	sent, err := r.box.Drain(ctx, r.send)
	if err != nil {
		r.logger.Warn().Err(err).Int("sent", sent).Int("pending", r.box.Len()).Msg("outbox drain interrupted")
		r.setUp(false)
		return
	}
	if sent > 0 {
		r.logger.Info().Int("sent", sent).Msg("outbox drained")
	}
}

// Drains reports how many drain passes have been started.
func (r *Relay[T]) Drains() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drains
}

// Pending returns the number of queued messages.
func (r *Relay[T]) Pending() int {
	return r.box.Len()
}

// Dropped returns how many queued messages the overflow policy discarded.
func (r *Relay[T]) Dropped() int {
	return r.box.Dropped()
}

func (r *Relay[T]) setUp(v bool) {
	r.mu.Lock()
	r.up = v
	r.mu.Unlock()
}
