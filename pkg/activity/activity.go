// Package activity implements the Activity Log (C10): an observability-only,
// in-process subscriber bus for every significant runtime event.
package activity

import (
	"context"
	"sync"
	"time"

	"github.com/laceai/lace/pkg/logger"
)

// EventType enumerates the observable event surface.
type EventType string

const (
	EventStateChange        EventType = "state_change"
	EventMessageQueued      EventType = "message_queued"
	EventToken              EventType = "token"
	EventMessage            EventType = "message"
	EventToolCall           EventType = "tool_call"
	EventToolResult         EventType = "tool_result"
	EventTokenBudgetWarning EventType = "token_budget_warning"
	EventTokenExhaustion    EventType = "token_exhaustion"
	EventCompaction         EventType = "compaction"
	EventCircuitOpen        EventType = "circuit_open"
	EventCircuitClose       EventType = "circuit_close"
	EventRetry              EventType = "retry"
	EventQueueOverflow      EventType = "queue_overflow"
	EventQueueProcessStart  EventType = "queue_processing_start"
	EventQueueProcessDone   EventType = "queue_processing_complete"
	EventQueueCleared       EventType = "queue_cleared"
)

// Event is one observable occurrence. Payload is type-specific; callers
// type-assert based on Type.
type Event struct {
	Type      EventType
	ThreadID  string
	Timestamp time.Time
	Payload   interface{}
}

// Publisher is the capability every core component depends on to emit
// observable events, without knowing about subscriber management.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// subscription is one subscriber's buffered channel; Publish detects a drop
// when a non-blocking send to it fails.
type subscription struct {
	ch chan Event
}

// Log is the in-process event bus. Publish never blocks: a subscriber
// whose buffer is full has the event dropped for it (logged), so a slow
// subscriber can never stall the runtime.
type Log struct {
	mu          sync.RWMutex
	subscribers map[int]*subscription
	nextID      int
	bufferSize  int
}

// New constructs a Log whose per-subscriber channel buffer holds
// bufferSize pending events before dropping.
func New(bufferSize int) *Log {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Log{subscribers: make(map[int]*subscription), bufferSize: bufferSize}
}

// Subscribe registers a new subscriber and returns its id (for
// Unsubscribe) and a receive-only channel of events.
func (l *Log) Subscribe() (int, <-chan Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	sub := &subscription{ch: make(chan Event, l.bufferSize)}
	l.subscribers[id] = sub
	return id, sub.ch
}

// Unsubscribe removes and closes the subscriber's channel.
func (l *Log) Unsubscribe(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sub, ok := l.subscribers[id]; ok {
		close(sub.ch)
		delete(l.subscribers, id)
	}
}

// Publish fans ev out to every current subscriber, non-blocking.
func (l *Log) Publish(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	for id, sub := range l.subscribers {
		select {
		case sub.ch <- ev:
		default:
			logger.G(ctx).WithField("subscriber_id", id).WithField("event_type", string(ev.Type)).Warn("activity log: dropped event, subscriber buffer full")
		}
	}
}
