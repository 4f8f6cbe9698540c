package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laceai/lace/pkg/activity"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []activity.Event
}

func (r *recordingPublisher) Publish(ctx context.Context, ev activity.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingPublisher) has(t activity.EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Type == t {
			return true
		}
	}
	return false
}

func TestDrain_HighPriorityBeforeNormalFIFO(t *testing.T) {
	q := New(10, nil, "t1")
	ctx := context.Background()

	q.Enqueue(ctx, Message{ID: "a", Content: "first normal"})
	q.Enqueue(ctx, Message{ID: "b", Content: "urgent", Metadata: &Metadata{Priority: PriorityHigh}})
	q.Enqueue(ctx, Message{ID: "c", Content: "second normal"})

	out := q.Drain(ctx)
	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].ID)
	assert.Equal(t, "a", out[1].ID)
	assert.Equal(t, "c", out[2].ID)

	assert.Empty(t, q.Drain(ctx))
}

func TestDequeue_OneAtATimeHighPriorityBeforeNormalFIFO(t *testing.T) {
	q := New(10, nil, "t1")
	ctx := context.Background()

	q.Enqueue(ctx, Message{ID: "a", Content: "first normal"})
	q.Enqueue(ctx, Message{ID: "b", Content: "urgent", Metadata: &Metadata{Priority: PriorityHigh}})
	q.Enqueue(ctx, Message{ID: "c", Content: "second normal"})

	m, ok := q.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, "b", m.ID)

	m, ok = q.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, "a", m.ID)

	m, ok = q.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, "c", m.ID)

	_, ok = q.Dequeue(ctx)
	assert.False(t, ok)
}

func TestEnqueue_OverflowDropsOldestNormal(t *testing.T) {
	pub := &recordingPublisher{}
	q := New(2, pub, "t1")
	ctx := context.Background()

	q.Enqueue(ctx, Message{ID: "a"})
	q.Enqueue(ctx, Message{ID: "b"})
	q.Enqueue(ctx, Message{ID: "c"})

	out := q.Drain(ctx)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].ID)
	assert.Equal(t, "c", out[1].ID)
	assert.True(t, pub.has(activity.EventQueueOverflow))
}

func TestStats_ReportsLengthAndHighPriorityCount(t *testing.T) {
	q := New(10, nil, "t1")
	ctx := context.Background()

	q.Enqueue(ctx, Message{ID: "a", Timestamp: time.Now().Add(-time.Minute)})
	q.Enqueue(ctx, Message{ID: "b", Metadata: &Metadata{Priority: PriorityHigh}})

	stats := q.Stats()
	assert.Equal(t, 2, stats.Length)
	assert.Equal(t, 1, stats.HighPriorityCount)
	assert.GreaterOrEqual(t, stats.OldestAgeMs, int64(0))
}

func TestClear_WithFilterOnlyRemovesMatching(t *testing.T) {
	q := New(10, nil, "t1")
	ctx := context.Background()

	q.Enqueue(ctx, Message{ID: "a", Type: MessageUser})
	q.Enqueue(ctx, Message{ID: "b", Type: MessageTaskNotification})

	q.Clear(ctx, func(m Message) bool { return m.Type == MessageTaskNotification })

	out := q.Drain(ctx)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID)
}

func TestDecodeMetadata_FromRawMap(t *testing.T) {
	m, err := DecodeMetadata(map[string]interface{}{
		"taskId":   "task-1",
		"priority": "high",
		"source":   "task_store",
	})
	require.NoError(t, err)
	assert.Equal(t, "task-1", m.TaskID)
	assert.Equal(t, PriorityHigh, m.Priority)
	assert.Equal(t, "task_store", m.Source)
}
