package bus

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sec0304qqcc/Multi-Agent-Dev/pkg/models"
)

// subscriberBufferSize bounds each subscriber's channel. A slow subscriber
// drops messages rather than stalling publishers; dropped counts are logged.
const subscriberBufferSize = 256

// taskQueueSize bounds each per-agent work queue.
const taskQueueSize = 64

// InMemoryBus is a channel-backed Bus for tests and single-process
// deployments. It provides no durability across restarts.
type InMemoryBus struct {
	// subscribers maps topic to the set of live subscriber channels.
	subscribers map[string][]*subscription
	// queues maps agent ID to its work queue.
	queues map[string]chan *models.Task
	// closed is set by Close; all operations fail afterwards.
	closed bool
	// dropped counts messages discarded due to full subscriber buffers.
	dropped atomic.Uint64
	// mu protects all fields except dropped.
	mu sync.RWMutex
}

type subscription struct {
	topic string
	ch    chan Message
	done  <-chan struct{}
}

// NewInMemoryBus creates an empty in-memory bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		subscribers: make(map[string][]*subscription),
		queues:      make(map[string]chan *models.Task),
	}
}

// Publish delivers msg to every current subscriber of topic. Subscribers
// with full buffers are skipped; at-least-once holds for keeping-up
// consumers only, matching the no-replay contract.
func (b *InMemoryBus) Publish(_ context.Context, topic string, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}

	for _, sub := range b.subscribers[topic] {
		select {
		case <-sub.done:
			// Subscriber context gone; reaped on next Subscribe/Close.
		case sub.ch <- msg:
		default:
			count := b.dropped.Add(1)
			if count%10 == 1 { // Log every 10th drop to avoid spam
				log.Printf("[bus] WARNING: subscriber buffer full on %s, dropped message (total dropped: %d): type=%s", topic, count, msg.Type)
			}
		}
	}
	return nil
}

// Subscribe registers a new subscriber for topic. The returned channel
// closes when ctx is done or the bus closes.
func (b *InMemoryBus) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &subscription{
		topic: topic,
		ch:    make(chan Message, subscriberBufferSize),
		done:  ctx.Done(),
	}
	b.subscribers[topic] = append(b.subscribers[topic], sub)

	go func() {
		<-ctx.Done()
		b.removeSubscription(sub)
	}()

	return sub.ch, nil
}

// removeSubscription detaches sub and closes its channel.
func (b *InMemoryBus) removeSubscription(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[sub.topic]
	for i, s := range subs {
		if s == sub {
			b.subscribers[sub.topic] = append(subs[:i], subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// EnqueueTask appends a task to the agent's queue, creating the queue on
// first use. A full queue blocks until there is room or ctx is done.
func (b *InMemoryBus) EnqueueTask(ctx context.Context, agentID string, task *models.Task) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	q, ok := b.queues[agentID]
	if !ok {
		q = make(chan *models.Task, taskQueueSize)
		b.queues[agentID] = q
	}
	b.mu.Unlock()

	select {
	case q <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DequeueTask blocks until a task is available, timeout elapses, or ctx is
// done. Timeout on an empty queue returns (nil, nil).
func (b *InMemoryBus) DequeueTask(ctx context.Context, agentID string, timeout time.Duration) (*models.Task, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	q, ok := b.queues[agentID]
	if !ok {
		q = make(chan *models.Task, taskQueueSize)
		b.queues[agentID] = q
	}
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case task := <-q:
		return task, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *InMemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for topic, subs := range b.subscribers {
		for _, sub := range subs {
			close(sub.ch)
		}
		delete(b.subscribers, topic)
	}
	return nil
}

// DroppedCount returns the number of messages dropped due to slow
// subscribers since the bus was created.
func (b *InMemoryBus) DroppedCount() uint64 {
	return b.dropped.Load()
}
