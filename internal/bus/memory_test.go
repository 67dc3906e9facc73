package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sec0304qqcc/Multi-Agent-Dev/pkg/models"
)

func TestInMemoryBus_PublishSubscribe(t *testing.T) {
	b := NewInMemoryBus()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, TopicTaskUpdate)
	require.NoError(t, err)

	msg, err := NewMessage("task_state_changed", "orchestrator", map[string]string{"task_id": "t1"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, TopicTaskUpdate, msg))

	select {
	case got := <-ch:
		assert.Equal(t, msg.ID, got.ID)
		assert.Equal(t, "task_state_changed", got.Type)
		var payload map[string]string
		require.NoError(t, got.DecodePayload(&payload))
		assert.Equal(t, "t1", payload["task_id"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestInMemoryBus_SubscribeIsolation(t *testing.T) {
	b := NewInMemoryBus()
	defer b.Close()

	ctx := context.Background()
	taskCh, err := b.Subscribe(ctx, TopicTaskUpdate)
	require.NoError(t, err)
	agentCh, err := b.Subscribe(ctx, TopicAgentStatus)
	require.NoError(t, err)

	msg, err := NewMessage("heartbeat", "agent-1", nil)
	require.NoError(t, err)
	// Messages with a nil payload still need an ID and timestamp.
	msg.Payload = []byte(`{}`)
	require.NoError(t, b.Publish(ctx, TopicAgentStatus, msg))

	select {
	case got := <-agentCh:
		assert.Equal(t, "heartbeat", got.Type)
	case <-time.After(time.Second):
		t.Fatal("agent subscriber did not receive message")
	}

	select {
	case got := <-taskCh:
		t.Fatalf("task subscriber received message from wrong topic: %v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInMemoryBus_NoBacklogReplay(t *testing.T) {
	b := NewInMemoryBus()
	defer b.Close()

	ctx := context.Background()
	early, err := NewMessage("early", "test", nil)
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, TopicSystemAlert, early))

	ch, err := b.Subscribe(ctx, TopicSystemAlert)
	require.NoError(t, err)

	select {
	case got := <-ch:
		t.Fatalf("subscriber received message published before subscription: %v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInMemoryBus_TaskQueueOrdering(t *testing.T) {
	b := NewInMemoryBus()
	defer b.Close()

	ctx := context.Background()
	for _, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, b.EnqueueTask(ctx, "agent-1", &models.Task{ID: id}))
	}

	for _, want := range []string{"t1", "t2", "t3"} {
		task, err := b.DequeueTask(ctx, "agent-1", time.Second)
		require.NoError(t, err)
		require.NotNil(t, task)
		assert.Equal(t, want, task.ID)
	}
}

func TestInMemoryBus_DequeueTimeout(t *testing.T) {
	b := NewInMemoryBus()
	defer b.Close()

	start := time.Now()
	task, err := b.DequeueTask(context.Background(), "agent-1", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, task)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestInMemoryBus_QueuesAreIndependent(t *testing.T) {
	b := NewInMemoryBus()
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.EnqueueTask(ctx, "agent-a", &models.Task{ID: "for-a"}))

	task, err := b.DequeueTask(ctx, "agent-b", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, task, "agent-b must not see agent-a's task")

	task, err = b.DequeueTask(ctx, "agent-a", time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "for-a", task.ID)
}

func TestInMemoryBus_ClosedBusRejectsOperations(t *testing.T) {
	b := NewInMemoryBus()
	require.NoError(t, b.Close())

	msg, err := NewMessage("x", "test", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, b.Publish(context.Background(), TopicSystemAlert, msg), ErrBusClosed)
	_, err = b.Subscribe(context.Background(), TopicSystemAlert)
	assert.ErrorIs(t, err, ErrBusClosed)
	assert.ErrorIs(t, b.EnqueueTask(context.Background(), "a", &models.Task{ID: "t"}), ErrBusClosed)
}

func TestInMemoryBus_CancelledSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewInMemoryBus()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	_, err := b.Subscribe(ctx, TopicCoordination)
	require.NoError(t, err)
	cancel()

	// Give the unsubscribe goroutine a moment to run.
	time.Sleep(20 * time.Millisecond)

	msg, err := NewMessage("cancel_workflow", "orchestrator", nil)
	require.NoError(t, err)
	assert.NoError(t, b.Publish(context.Background(), TopicCoordination, msg))
}
