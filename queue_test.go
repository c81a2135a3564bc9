package scxml

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInternalQueueFIFO(t *testing.T) {
	q := NewQueue()
	assert.True(t, q.IsEmpty())
	assert.Nil(t, q.Dequeue())

	q.Enqueue(NewEvent("a", EventTypeInternal))
	q.Enqueue(NewEvent("b", EventTypeInternal))
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, "a", q.Dequeue().Name)
	assert.Equal(t, "b", q.Dequeue().Name)
	assert.Nil(t, q.Dequeue())
}

func TestBlockingQueueDelivers(t *testing.T) {
	q := NewBlockingQueue()
	q.Enqueue(NewEvent("one", EventTypeExternal))

	ev, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "one", ev.Name)
}

func TestBlockingQueueBlocksUntilEnqueue(t *testing.T) {
	q := NewBlockingQueue()
	done := make(chan string, 1)
	go func() {
		ev, err := q.Dequeue(context.Background())
		if err != nil {
			done <- err.Error()
			return
		}
		done <- ev.Name
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue(NewEvent("late", EventTypeExternal))

	select {
	case name := <-done:
		assert.Equal(t, "late", name)
	case <-time.After(time.Second):
		t.Fatal("dequeue never woke up")
	}
}

func TestBlockingQueueClose(t *testing.T) {
	q := NewBlockingQueue()
	q.Enqueue(NewEvent("pending", EventTypeExternal))
	q.Close()

	// Drains the pending event, then reports closed.
	ev, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pending", ev.Name)

	_, err = q.Dequeue(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)

	// Enqueue after close is dropped.
	q.Enqueue(NewEvent("dropped", EventTypeExternal))
	_, err = q.Dequeue(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestBlockingQueueContextCancel(t *testing.T) {
	q := NewBlockingQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBlockingQueueManyProducers(t *testing.T) {
	q := NewBlockingQueue()
	const n = 50
	for i := 0; i < 5; i++ {
		go func() {
			for j := 0; j < n/5; j++ {
				q.Enqueue(NewEvent("e", EventTypeExternal))
			}
		}()
	}
	for i := 0; i < n; i++ {
		_, err := q.Dequeue(context.Background())
		require.NoError(t, err)
	}
}
