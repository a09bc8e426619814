package bridge

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesPublished(t *testing.T) {
	bus := NewBus()
	events, cancel := bus.Subscribe(TopicOutput)
	defer cancel()

	bus.Publish(TopicOutput, OutputChunk{Role: RoleConsole, Data: "hello"})

	select {
	case event := <-events:
		chunk, ok := event.Payload.(OutputChunk)
		require.True(t, ok)
		assert.Equal(t, "hello", chunk.Data)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestPublishStampsUniqueEventIDs(t *testing.T) {
	bus := NewBus()
	events, cancel := bus.Subscribe(TopicLog)
	defer cancel()

	bus.Publish(TopicLog, LogEntry{Level: LevelInfo, Message: "a"})
	bus.Publish(TopicLog, LogEntry{Level: LevelInfo, Message: "b"})

	first := <-events
	second := <-events
	assert.True(t, strings.HasPrefix(first.ID, "evt_"))
	assert.True(t, strings.HasPrefix(second.ID, "evt_"))
	assert.NotEqual(t, first.ID, second.ID)
}

func TestTopicsAreIsolated(t *testing.T) {
	bus := NewBus()
	logs, cancel := bus.Subscribe(TopicLog)
	defer cancel()

	bus.Publish(TopicOutput, OutputChunk{Role: RoleApp, Data: "noise"})

	select {
	case <-logs:
		t.Fatal("log subscriber received output event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.Subscribe(TopicOutput)
	defer cancel()

	// Nobody drains the channel; publishing past the buffer must not stall.
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultSubscriberBuffer*4; i++ {
			bus.Publish(TopicOutput, OutputChunk{Data: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestCancelDetachesSubscriber(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.Subscribe(TopicStatus)
	assert.Equal(t, 1, bus.SubscriberCount(TopicStatus))

	cancel()
	assert.Equal(t, 0, bus.SubscriberCount(TopicStatus))

	// Second cancel is a no-op.
	cancel()
}

func TestMultipleSubscribersAllReceive(t *testing.T) {
	bus := NewBus()
	a, cancelA := bus.Subscribe(TopicStatus)
	b, cancelB := bus.Subscribe(TopicStatus)
	defer cancelA()
	defer cancelB()

	bus.Publish(TopicStatus, Status{Role: RoleApp, State: StateRunning})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case event := <-ch:
			status := event.Payload.(Status)
			assert.Equal(t, StateRunning, status.State)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed event")
		}
	}
}
