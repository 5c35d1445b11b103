package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func TestNewBus(t *testing.T) {
	bus := NewBus()
	require.NotNil(t, bus)
	assert.Zero(t, bus.SubscriberCount())
	assert.Equal(t, defaultBufferSize, bus.bufferSize)

	assert.Equal(t, defaultBufferSize, NewBusWithBuffer(0).bufferSize)
	assert.Equal(t, 8, NewBusWithBuffer(8).bufferSize)
}

func TestBusSubscribeUnsubscribe(t *testing.T) {
	bus := NewBus()

	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	assert.Equal(t, 2, bus.SubscriberCount())

	bus.Unsubscribe(ch1)
	assert.Equal(t, 1, bus.SubscriberCount())

	_, ok := <-ch1
	assert.False(t, ok, "unsubscribed channel should be closed")

	bus.Unsubscribe(ch2)
	assert.Zero(t, bus.SubscriberCount())
}

func TestBusPublish(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()

	bus.Publish(NewTaskThrottledEvent("run-1", "42", 2, 400*time.Millisecond, "retryable_overload"))

	ev := receive(t, ch)
	assert.Equal(t, EventTaskThrottled, ev.Type)
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, "42", ev.RecordID)
	assert.Equal(t, 2, ev.Data.Attempt)
	assert.Equal(t, "400ms", ev.Data.Backoff)
}

func TestBusPublishMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()

	bus.Publish(NewRunStartedEvent("run-1", 3))

	for _, ch := range []<-chan Event{ch1, ch2} {
		ev := receive(t, ch)
		assert.Equal(t, EventRunStarted, ev.Type)
		assert.Equal(t, 3, ev.Data.Total)
	}
}

func TestBusPublishNonBlocking(t *testing.T) {
	bus := NewBusWithBuffer(1)
	ch := bus.Subscribe()

	bus.Publish(NewRunStartedEvent("a", 1))
	bus.Publish(NewRunStartedEvent("b", 1))
	bus.Publish(NewRunStartedEvent("c", 1))

	ev := receive(t, ch)
	assert.Equal(t, "a", ev.RunID)
	assert.Equal(t, uint64(2), bus.Dropped())
}

func TestBusPublishNil(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(NewRunStartedEvent("run", 0)) })
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	bus.Close()

	assert.Zero(t, bus.SubscriberCount())
	_, ok := <-ch
	assert.False(t, ok)

	late := bus.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribe after close should return a closed channel")
	assert.NotPanics(t, func() { bus.Publish(NewRunStartedEvent("run", 0)) })
}

func TestEventCreation(t *testing.T) {
	t.Run("RunCompleted", func(t *testing.T) {
		ev := NewRunCompletedEvent("run-1", 10, 2, 1500*time.Millisecond, errors.New("interrupted"))
		assert.Equal(t, EventRunCompleted, ev.Type)
		assert.Equal(t, 10, ev.Data.Total)
		assert.Equal(t, 2, ev.Data.Pending)
		assert.Equal(t, "1.5s", ev.Data.Duration)
		assert.Equal(t, "interrupted", ev.Data.Error)
		assert.False(t, ev.Timestamp.IsZero())
	})

	t.Run("TaskCompleted", func(t *testing.T) {
		ev := NewTaskCompletedEvent("run-1", "7", "succeeded", 1, nil)
		assert.Equal(t, EventTaskCompleted, ev.Type)
		assert.Equal(t, "succeeded", ev.Data.Outcome)
		assert.Equal(t, 1, ev.Data.Attempt)
		assert.Empty(t, ev.Data.Error)
	})
}
