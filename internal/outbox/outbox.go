package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/i474232898/agroassist/internal/metrics"
)

// ErrFull is returned by Enqueue under RejectNew when the outbox is at capacity.
var ErrFull = errors.New("outbox full")

// Policy decides what happens when a message arrives at a full outbox.
type Policy string

const (
	// DropOldest evicts the oldest pending message to make room.
	DropOldest Policy = "drop-oldest"
	// RejectNew refuses the incoming message with ErrFull.
	RejectNew Policy = "reject"
)

// ParsePolicy maps a configuration string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case DropOldest, RejectNew:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown outbox policy %q", s)
	}
}

// Outbox is a FIFO queue of pending messages with a fixed capacity.
type Outbox[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	policy   Policy
	dropped  int
}

// New creates an outbox. Capacity below 1 is raised to 1.
func New[T any](capacity int, policy Policy) *Outbox[T] {
	if capacity < 1 {
		capacity = 1
	}
	if policy == "" {
		policy = DropOldest
	}
	return &Outbox[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
		policy:   policy,
	}
}

// Enqueue appends msg, applying the overflow policy when full.
func (o *Outbox[T]) Enqueue(msg T) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.items) >= o.capacity {
		o.dropped++
		metrics.AddOutboxDropped(string(o.policy), 1)
		if o.policy == RejectNew {
			return ErrFull
		}
		var zero T
		o.items[0] = zero
		o.items = o.items[1:]
	}
	o.items = append(o.items, msg)
	return nil
}

// Len returns the number of pending messages.
func (o *Outbox[T]) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

// Dropped returns how many messages the overflow policy discarded or refused.
func (o *Outbox[T]) Dropped() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

// Drain sends pending messages in order until the queue is empty or send fails.
// On failure the failed message and everything after it stay queued ahead of
// messages enqueued during the drain.
func (o *Outbox[T]) Drain(ctx context.Context, send func(context.Context, T) error) (int, error) {
	o.mu.Lock()
	batch := o.items
	o.items = make([]T, 0, o.capacity)
	o.mu.Unlock()

	sent := 0
	for i, msg := range batch {
		if err := ctx.Err(); err != nil {
			o.requeue(batch[i:])
			metrics.AddOutboxSent(sent)
			return sent, err
		}
		if err := send(ctx, msg); err != nil {
			o.requeue(batch[i:])
			metrics.AddOutboxSent(sent)
			return sent, fmt.Errorf("send pending message %d: %w", i, err)
		}
		sent++
	}
	metrics.AddOutboxSent(sent)
	return sent, nil
}

// requeue puts rest in front of anything enqueued meanwhile. If the combined
// queue exceeds capacity the overflow policy picks which end is trimmed.
func (o *Outbox[T]) requeue(rest []T) {
	o.mu.Lock()
	defer o.mu.Unlock()

	merged := make([]T, 0, len(rest)+len(o.items))
	merged = append(merged, rest...)
	merged = append(merged, o.items...)
	if over := len(merged) - o.capacity; over > 0 {
		o.dropped += over
		metrics.AddOutboxDropped(string(o.policy), over)
		if o.policy == DropOldest {
			merged = merged[over:]
		} else {
			merged = merged[:o.capacity]
		}
	}
	o.items = merged
}
