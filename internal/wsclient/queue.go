package wsclient

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueCapacity bounds the offline message queue
const DefaultQueueCapacity = 100

// QueuedMessage is a message composed while disconnected, held for replay.
// The idempotency key lets the server deduplicate if a send raced with the
// disconnect and actually arrived.
type QueuedMessage struct {
	IdempotencyKey string
	Type           string
	Payload        interface{}
	EnqueuedAt     time.Time
}

// Queue is a bounded FIFO of messages awaiting reconnection. When full,
// enqueuing drops the oldest message to make room.
type Queue struct {
	mu       sync.Mutex
	capacity int
	items    []QueuedMessage
	dropped  int
}

// NewQueue creates a queue with the given capacity
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		capacity: capacity,
		items:    make([]QueuedMessage, 0, capacity),
	}
}

// Enqueue appends a message, assigning it an idempotency key. Returns the
// queued message and whether an older message was dropped to make room.
func (q *Queue) Enqueue(msgType string, payload interface{}) (QueuedMessage, bool) {
	msg := QueuedMessage{
		IdempotencyKey: uuid.New().String(),
		Type:           msgType,
		Payload:        payload,
		EnqueuedAt:     time.Now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := false
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.dropped++
		dropped = true
	}
	q.items = append(q.items, msg)

	return msg, dropped
}

// Requeue pushes messages back onto the front of the queue in their original
// order, keeping their idempotency keys. Used when a replay is interrupted
// mid-flight so the unsent remainder survives into the next connection. If
// the combined length exceeds capacity the oldest messages are dropped.
func (q *Queue) Requeue(msgs []QueuedMessage) {
	if len(msgs) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]QueuedMessage, 0, len(msgs)+len(q.items))
	items = append(items, msgs...)
	items = append(items, q.items...)
	for len(items) > q.capacity {
		items = items[1:]
		q.dropped++
	}
	q.items = items
}

// DequeueAll drains the queue in FIFO order
func (q *Queue) DequeueAll() []QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = make([]QueuedMessage, 0, q.capacity)
	return items
}

// Len returns the number of queued messages
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many messages have been dropped since creation
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
