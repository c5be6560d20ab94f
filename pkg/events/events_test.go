package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub1 := broker.Subscribe()
	sub2 := broker.Subscribe()
	assert.Equal(t, 2, broker.SubscriberCount())

	broker.Publish(&Event{Type: EventNodeJoined, Message: "node-1 joined"})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case ev := <-sub:
			assert.Equal(t, EventNodeJoined, ev.Type)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)
	assert.Equal(t, 0, broker.SubscriberCount())

	_, open := <-sub
	require.False(t, open)
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	slow := broker.Subscribe()
	fast := broker.Subscribe()

	// Fill the slow subscriber's buffer completely.
	for i := 0; i < cap(slow)+10; i++ {
		broker.Publish(&Event{Type: EventTaskCreated})
	}

	deadline := time.After(2 * time.Second)
	received := 0
	for received < cap(slow) {
		select {
		case <-fast:
			received++
		case <-deadline:
			t.Fatalf("fast subscriber starved after %d events", received)
		}
	}
}
