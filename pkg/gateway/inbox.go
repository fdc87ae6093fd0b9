package gateway

import (
	"context"
	"sync"
	"time"
)

// dedupeWindow is how many recent message ids an Inbox remembers.
const dedupeWindow = 4096

// Inbox buffers inbound messages between an event source and Poll.
type Inbox struct {
	mu     sync.Mutex
	queue  []Message
	seen   map[string]struct{}
	order  []string
	wake   chan struct{}
	closed bool
}

// NewInbox returns an empty Inbox.
func NewInbox() *Inbox {
	return &Inbox{
		seen: make(map[string]struct{}),
		wake: make(chan struct{}, 1),
	}
}

// Push queues m. Messages with an id already pushed, and pushes after Close,
// are dropped and reported as false.
func (b *Inbox) Push(m Message) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	if m.ID != "" {
		if _, dup := b.seen[m.ID]; dup {
			b.mu.Unlock()
			return false
		}
		b.seen[m.ID] = struct{}{}
		b.order = append(b.order, m.ID)
		if len(b.order) > dedupeWindow {
			delete(b.seen, b.order[0])
			b.order = b.order[1:]
		}
	}
	b.queue = append(b.queue, m)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return true
}

// Wait returns queued messages, blocking up to timeout for the first one.
// It returns an empty batch on timeout, ctx.Err() when ctx is done and
// ErrClosed once the inbox is closed and drained.
func (b *Inbox) Wait(ctx context.Context, timeout time.Duration) ([]Message, error) {
	if msgs, closed := b.drain(); len(msgs) > 0 || closed {
		if len(msgs) == 0 {
			return nil, ErrClosed
		}
		return msgs, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			msgs, _ := b.drain()
			return msgs, nil
		case <-b.wake:
			msgs, closed := b.drain()
			if len(msgs) > 0 {
				return msgs, nil
			}
			if closed {
				return nil, ErrClosed
			}
		}
	}
}

// Close wakes any waiter. Queued messages are still returned.
func (b *Inbox) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Inbox) drain() ([]Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.queue
	b.queue = nil
	return msgs, b.closed
}
