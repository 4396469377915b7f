package queue

import (
	"context"
	"fmt"
	"sync"
)

// MemoryQueue implements Queue in process. Each subscription has its own
// buffered channel and goroutine, so a slow handler only delays its own
// subject.
type MemoryQueue struct {
	subscriptions map[string]*memorySubscription
	closed        bool
	mu            sync.RWMutex
}

type memorySubscription struct {
	ch   chan []byte
	done chan struct{}
}

// memoryBuffer is the per-subscription channel capacity
const memoryBuffer = 1024

// newMemoryQueue creates a new in-memory queue instance
func newMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		subscriptions: make(map[string]*memorySubscription),
	}
}

// Publish delivers a copy of data to the subject's subscriber, if any.
// Messages for subjects without a subscriber are dropped.
func (q *MemoryQueue) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("queue closed")
	}
	sub, ok := q.subscriptions[subject]
	if !ok {
		return nil
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	select {
	case sub.ch <- dataCopy:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("channel full for subject: %s", subject)
	}
}

// Subscribe subscribes to a subject
func (q *MemoryQueue) Subscribe(subject string, handler MessageHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("queue closed")
	}
	if _, exists := q.subscriptions[subject]; exists {
		return fmt.Errorf("already subscribed to subject: %s", subject)
	}

	sub := &memorySubscription{ch: make(chan []byte, memoryBuffer), done: make(chan struct{})}
	q.subscriptions[subject] = sub

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case data := <-sub.ch:
				_ = handler(data)
			}
		}
	}()
	return nil
}

// Unsubscribe unsubscribes from a subject
func (q *MemoryQueue) Unsubscribe(subject string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	sub, exists := q.subscriptions[subject]
	if !exists {
		return fmt.Errorf("not subscribed to subject: %s", subject)
	}

	close(sub.done)
	delete(q.subscriptions, subject)
	return nil
}

// Close stops all subscriptions
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for subject, sub := range q.subscriptions {
		close(sub.done)
		delete(q.subscriptions, subject)
	}
	q.closed = true
	return nil
}

// PendingCount returns the number of undelivered messages for a subject
func (q *MemoryQueue) PendingCount(subject string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if sub, exists := q.subscriptions[subject]; exists {
		return len(sub.ch)
	}
	return 0
}
