package device

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/eventcam/internal/events"
)

func TestContainerQueueDropsOldest(t *testing.T) {
	t.Parallel()

	q := NewContainerQueue(2)
	a, b, c := polarityContainer(1), polarityContainer(2), polarityContainer(3)
	assert.False(t, q.Push(a))
	assert.False(t, q.Push(b))
	assert.True(t, q.Push(c))
	assert.Equal(t, uint64(1), q.Dropped())
	assert.Equal(t, 2, q.Len())

	got, err := q.Pop(context.Background(), false)
	require.NoError(t, err)
	assert.Same(t, b, got)
	got, err = q.Pop(context.Background(), false)
	require.NoError(t, err)
	assert.Same(t, c, got)

	got, err = q.Pop(context.Background(), false)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestContainerQueueSetCapacity(t *testing.T) {
	t.Parallel()

	q := NewContainerQueue(0)
	q.SetCapacity(4)
	for i := 0; i < 4; i++ {
		q.Push(polarityContainer(uint64(i)))
	}
	q.SetCapacity(1)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, uint64(3), q.Dropped())
}

func TestContainerQueueDrainsBeforeEOF(t *testing.T) {
	t.Parallel()

	q := NewContainerQueue(4)
	q.Push(polarityContainer(1))
	q.CloseInput()
	assert.False(t, q.Push(polarityContainer(2)))

	c, err := q.Pop(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	_, err = q.Pop(context.Background(), true)
	assert.ErrorIs(t, err, io.EOF)
}

func TestContainerQueueBlockingPop(t *testing.T) {
	t.Parallel()

	q := NewContainerQueue(4)
	done := make(chan *events.PacketContainer)
	go func() {
		c, _ := q.Pop(context.Background(), true)
		done <- c
	}()

	select {
	case <-done:
		t.Fatal("Pop returned before anything was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	want := polarityContainer(7)
	q.Push(want)
	select {
	case got := <-done:
		assert.Same(t, want, got)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake on Push")
	}
}

func TestContainerQueuePopHonoursContext(t *testing.T) {
	t.Parallel()

	q := NewContainerQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := q.Pop(ctx, true)
		errc <- err
	}()
	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Pop ignored cancellation")
	}
}

func TestContainerQueuePushWait(t *testing.T) {
	t.Parallel()

	q := NewContainerQueue(1)
	ctx := context.Background()
	require.NoError(t, q.PushWait(ctx, polarityContainer(1)))

	pushed := make(chan error, 1)
	go func() { pushed <- q.PushWait(ctx, polarityContainer(2)) }()

	select {
	case <-pushed:
		t.Fatal("PushWait did not wait for room")
	case <-time.After(20 * time.Millisecond):
	}

	first, err := q.Pop(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Packets[0].(*events.PolarityPacket).Events[0].Timestamp)
	select {
	case err := <-pushed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("PushWait did not wake after Pop")
	}
	assert.Equal(t, uint64(0), q.Dropped())

	q.CloseInput()
	assert.ErrorIs(t, q.PushWait(ctx, polarityContainer(3)), ErrQueueClosed)
}
