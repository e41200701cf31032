package bus

import (
	"context"
	"testing"
	"time"

	"main/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

func TestTryPublishFull(t *testing.T) {
	q := NewQueue[int](1)
	require.NoError(t, q.TryPublish(1))

	err := q.TryPublish(2)
	assert.True(t, errors.Is(err, exception.ErrQueueFull))

	assert.Equal(t, 1, <-q.C())
	assert.NoError(t, q.TryPublish(3))
}

func TestPublishBlocksUntilDrained(t *testing.T) {
	q := NewQueue[int](1)
	require.NoError(t, q.Publish(t.Context(), 1))

	done := make(chan error, 1)
	go func() {
		done <- q.Publish(t.Context(), 2)
	}()

	select {
	case err := <-done:
		t.Fatalf("publish returned before drain: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	assert.Equal(t, 1, <-q.C())
	require.NoError(t, <-done)
	assert.Equal(t, 2, <-q.C())
}

func TestPublishHonorsContext(t *testing.T) {
	q := NewQueue[int](1)
	require.NoError(t, q.Publish(t.Context(), 1))

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	err := q.Publish(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseDrainsBuffered(t *testing.T) {
	q := NewQueue[int](4)
	require.NoError(t, q.TryPublish(1))
	require.NoError(t, q.TryPublish(2))
	q.Close()
	q.Close()

	assert.True(t, errors.Is(q.TryPublish(3), exception.ErrQueueClosed))
	assert.True(t, errors.Is(q.Publish(t.Context(), 3), exception.ErrQueueClosed))

	assert.Equal(t, 1, <-q.C())
	assert.Equal(t, 2, <-q.C())
	_, ok := <-q.C()
	assert.False(t, ok)
}

func TestRunConsumesUntilClosed(t *testing.T) {
	q := NewQueue[int](4)
	for i := 1; i <= 3; i++ {
		require.NoError(t, q.TryPublish(i))
	}
	q.Close()

	var got []int
	q.Run(t.Context(), func(v int) { got = append(got, v) })
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestRunStopsOnContext(t *testing.T) {
	q := NewQueue[int](1)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(ctx, func(int) {})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not stop on cancelled context")
	}
}
