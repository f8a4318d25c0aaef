package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToTopicSubscribers(t *testing.T) {
	b := NewBus()
	defer b.Close()

	runCh := b.Subscribe(TopicRun, 4)
	taskCh := b.Subscribe(TopicTask, 4)

	b.Publish(TopicRun, StepStartedEvent{Run: "r1", Step: "plan_tasks", Timestamp: time.Now()})

	select {
	case ev := <-runCh:
		assert.Equal(t, EventTypeStepStarted, ev.EventType())
		assert.Equal(t, "r1", ev.RunID())
	default:
		t.Fatal("expected event on run topic")
	}

	select {
	case <-taskCh:
		t.Fatal("task topic should not receive run events")
	default:
	}
}

func TestBusSubscribeAll(t *testing.T) {
	b := NewBus()
	defer b.Close()

	all := b.SubscribeAll(4)
	b.Publish(TopicRun, RunFinishedEvent{Run: "r1", Steps: 3})
	b.Publish(TopicTask, TaskDispatchedEvent{Run: "r1", Task: "t1"})

	require.Len(t, all, 2)
}

func TestBusPublishNeverBlocks(t *testing.T) {
	b := NewBus()
	defer b.Close()

	b.Subscribe(TopicRun, 1)
	// Fill the buffer, then keep publishing; a slow subscriber misses
	// events instead of stalling the publisher.
	for i := 0; i < 10; i++ {
		b.Publish(TopicRun, StepStartedEvent{Run: "r1", Step: "s"})
	}
}

func TestNilBusPublishIsSafe(t *testing.T) {
	var b *Bus
	b.Publish(TopicRun, StepStartedEvent{Run: "r1"})
}

func TestBusCloseIsIdempotent(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe(TopicRun, 1)
	b.Close()
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after close is a no-op.
	b.Publish(TopicRun, StepStartedEvent{Run: "r1"})
}
