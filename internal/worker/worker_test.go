package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_RunsJobs(t *testing.T) {
	q := NewQueue(2, 10, time.Second, zerolog.Nop())

	var n atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(Job{Name: "count", Run: func(ctx context.Context) error {
			n.Add(1)
			return nil
		}}))
	}

	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, int32(5), n.Load())
}

func TestQueue_FullQueueDoesNotBlock(t *testing.T) {
	q := NewQueue(1, 1, time.Second, zerolog.Nop())
	var dropped atomic.Int32
	q.OnDrop = func(Job) { dropped.Add(1) }

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, q.Enqueue(Job{Name: "block", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	require.NoError(t, q.Enqueue(Job{Name: "buffered", Run: func(context.Context) error { return nil }}))

	err := q.Enqueue(Job{Name: "overflow", Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int32(1), dropped.Load())

	close(release)
	require.NoError(t, q.Close(context.Background()))
}

func TestQueue_JobContextHasTimeout(t *testing.T) {
	q := NewQueue(1, 1, 20*time.Millisecond, zerolog.Nop())

	errCh := make(chan error, 1)
	require.NoError(t, q.Enqueue(Job{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	}}))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("job context never expired")
	}
	require.NoError(t, q.Close(context.Background()))
}

func TestQueue_SurvivesFailuresAndPanics(t *testing.T) {
	q := NewQueue(1, 4, time.Second, zerolog.Nop())
	var ran atomic.Bool

	require.NoError(t, q.Enqueue(Job{Name: "err", Run: func(context.Context) error { return errors.New("boom") }}))
	require.NoError(t, q.Enqueue(Job{Name: "panic", Run: func(context.Context) error { panic("bad") }}))
	require.NoError(t, q.Enqueue(Job{Name: "ok", Run: func(context.Context) error { ran.Store(true); return nil }}))

	require.NoError(t, q.Close(context.Background()))
	assert.True(t, ran.Load())
}

func TestQueue_EnqueueAfterClose(t *testing.T) {
	q := NewQueue(1, 1, time.Second, zerolog.Nop())
	require.NoError(t, q.Close(context.Background()))
	require.NoError(t, q.Close(context.Background()))

	err := q.Enqueue(Job{Name: "late", Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueClosed)
}
