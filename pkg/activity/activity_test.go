package activity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribe_ReceivesPublishedEvent(t *testing.T) {
	log := New(4)
	_, ch := log.Subscribe()

	log.Publish(context.Background(), Event{Type: EventToolCall, ThreadID: "t1"})

	select {
	case ev := <-ch:
		assert.Equal(t, EventToolCall, ev.Type)
		assert.Equal(t, "t1", ev.ThreadID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("did not receive published event")
	}
}

func TestPublish_DoesNotBlockOnFullSubscriberBuffer(t *testing.T) {
	log := New(1)
	_, ch := log.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			log.Publish(context.Background(), Event{Type: EventToken})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}
	require.NotNil(t, ch)
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	log := New(4)
	id, ch := log.Subscribe()
	log.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok)
}
