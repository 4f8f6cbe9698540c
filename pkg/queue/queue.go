// Package queue implements the Message Queue (C6): a per-agent FIFO and
// priority buffer that lets notifications and user input arrive while an
// agent is busy.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/activity"
)

// MessageType enumerates a QueuedMessage's kind.
type MessageType string

const (
	MessageUser             MessageType = "user"
	MessageSystem           MessageType = "system"
	MessageTaskNotification MessageType = "task_notification"
)

// Priority enumerates a QueuedMessage's scheduling priority.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Metadata is the optional structured payload of a QueuedMessage.
type Metadata struct {
	TaskID    string   `mapstructure:"taskId"`
	FromAgent string   `mapstructure:"fromAgent"`
	Priority  Priority `mapstructure:"priority"`
	Source    string   `mapstructure:"source"`
}

// DecodeMetadata decodes a heterogeneous raw payload (as it arrives from a
// task-notification event's data field) into a typed Metadata via
// mapstructure's weakly-typed decoding.
func DecodeMetadata(raw map[string]interface{}) (Metadata, error) {
	var m Metadata
	if raw == nil {
		return m, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: &m, WeaklyTypedInput: true})
	if err != nil {
		return m, errors.Wrap(err, "queue: constructing metadata decoder")
	}
	return m, errors.Wrap(decoder.Decode(raw), "queue: decoding metadata")
}

// Message is one buffered item awaiting an idle Agent.
type Message struct {
	ID        string
	Type      MessageType
	Content   string
	Timestamp time.Time
	Metadata  *Metadata
}

// priorityOf returns the message's effective priority, defaulting to
// normal when no metadata (or metadata without a priority) is present.
func (m Message) priorityOf() Priority {
	if m.Metadata != nil && m.Metadata.Priority == PriorityHigh {
		return PriorityHigh
	}
	return PriorityNormal
}

// Stats is the snapshot returned by Queue.Stats.
type Stats struct {
	Length            int
	OldestAgeMs       int64
	HighPriorityCount int
}

// Queue is one Agent's message buffer. Enqueue is always permitted;
// messages are only *consumed* via Dequeue/Drain, which callers must only
// invoke when their Agent is idle (enforced by the caller, not the Queue
// itself).
type Queue struct {
	mu        sync.Mutex
	high      []Message
	normal    []Message
	capacity  int
	publisher activity.Publisher
	threadID  string
}

// New constructs a Queue with the given capacity (100 is a reasonable
// default), emitting activity events tagged with threadID via publisher.
// publisher may be nil to disable emission (e.g. in tests).
func New(capacity int, publisher activity.Publisher, threadID string) *Queue {
	if capacity <= 0 {
		capacity = 100
	}
	return &Queue{capacity: capacity, publisher: publisher, threadID: threadID}
}

func (q *Queue) emit(ctx context.Context, evType activity.EventType, payload interface{}) {
	if q.publisher == nil {
		return
	}
	q.publisher.Publish(ctx, activity.Event{Type: evType, ThreadID: q.threadID, Payload: payload})
}

// Enqueue appends msg to the appropriate priority lane, assigning an id and
// timestamp if unset. If the queue is at capacity, the oldest
// normal-priority message is dropped to make room; if every message is
// high-priority, the new message is dropped instead and an overflow
// signal still fires.
func (q *Queue) Enqueue(ctx context.Context, msg Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	q.mu.Lock()
	if q.length() >= q.capacity {
		if len(q.normal) > 0 {
			q.normal = q.normal[1:]
		} else {
			// Nothing normal-priority to evict; drop the incoming message
			// rather than starve existing high-priority work.
			q.mu.Unlock()
			q.emit(ctx, activity.EventQueueOverflow, msg)
			return
		}
		q.mu.Unlock()
		q.emit(ctx, activity.EventQueueOverflow, msg)
		q.mu.Lock()
	}

	if msg.priorityOf() == PriorityHigh {
		q.high = append(q.high, msg)
	} else {
		q.normal = append(q.normal, msg)
	}
	q.mu.Unlock()

	q.emit(ctx, activity.EventMessageQueued, msg)
}

func (q *Queue) length() int {
	return len(q.high) + len(q.normal)
}

// Dequeue removes and returns the single next buffered message, high
// priority first, FIFO within each priority lane, along with true. It
// returns false if the queue is empty. Each call consumes exactly one
// message, so callers that start a new turn per dequeued message get one
// turn per message rather than one turn for an entire batch.
func (q *Queue) Dequeue(ctx context.Context) (Message, bool) {
	q.mu.Lock()
	var m Message
	switch {
	case len(q.high) > 0:
		m = q.high[0]
		q.high = q.high[1:]
	case len(q.normal) > 0:
		m = q.normal[0]
		q.normal = q.normal[1:]
	default:
		q.mu.Unlock()
		return Message{}, false
	}
	remaining := q.length()
	q.mu.Unlock()

	q.emit(ctx, activity.EventQueueProcessStart, remaining+1)
	return m, true
}

// Drain removes and returns every buffered message, high priority first,
// FIFO within each priority lane.
func (q *Queue) Drain(ctx context.Context) []Message {
	q.mu.Lock()
	if q.length() == 0 {
		q.mu.Unlock()
		return nil
	}
	out := make([]Message, 0, q.length())
	out = append(out, q.high...)
	out = append(out, q.normal...)
	q.high = nil
	q.normal = nil
	q.mu.Unlock()

	q.emit(ctx, activity.EventQueueProcessStart, len(out))
	return out
}

// Stats returns a snapshot of the queue's current occupancy.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var oldest time.Time
	for _, m := range append(append([]Message{}, q.high...), q.normal...) {
		if oldest.IsZero() || m.Timestamp.Before(oldest) {
			oldest = m.Timestamp
		}
	}
	var ageMs int64
	if !oldest.IsZero() {
		ageMs = time.Since(oldest).Milliseconds()
	}

	return Stats{
		Length:            q.length(),
		OldestAgeMs:       ageMs,
		HighPriorityCount: len(q.high),
	}
}

// Clear empties the queue. If filter is non-nil, only messages for which
// filter returns true are removed; others are retained in their original
// relative order within their lane.
func (q *Queue) Clear(ctx context.Context, filter func(Message) bool) {
	q.mu.Lock()
	if filter == nil {
		q.high = nil
		q.normal = nil
	} else {
		q.high = removeMatching(q.high, filter)
		q.normal = removeMatching(q.normal, filter)
	}
	q.mu.Unlock()

	q.emit(ctx, activity.EventQueueCleared, nil)
}

func removeMatching(msgs []Message, filter func(Message) bool) []Message {
	kept := msgs[:0:0]
	for _, m := range msgs {
		if !filter(m) {
			kept = append(kept, m)
		}
	}
	return kept
}
