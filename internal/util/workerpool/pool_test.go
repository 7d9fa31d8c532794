package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func noop(context.Context) error { return nil }

func TestPool_RunsAndDrains(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := New(context.Background(), Config{Name: "test", Workers: 2, QueueSize: 8, Logger: zap.NewNop()})

	var ran int32
	for i := 0; i < 8; i++ {
		err := pool.Submit(Task{
			ID: "task",
			Fn: func(ctx context.Context) error {
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&ran, 1)
				return nil
			},
		})
		require.NoError(t, err)
	}

	require.NoError(t, pool.Stop(5*time.Second))
	assert.Equal(t, int32(8), atomic.LoadInt32(&ran))
	assert.Equal(t, Stats{Submitted: 8, Completed: 8}, pool.Stats())
}

func TestPool_TasksSeePoolContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	pool := New(ctx, Config{Name: "test", Workers: 1})
	cancel()

	var got error
	require.NoError(t, pool.Submit(Task{ID: "ctx", Fn: func(ctx context.Context) error {
		got = ctx.Err()
		return got
	}}))
	require.NoError(t, pool.Stop(5*time.Second))

	assert.ErrorIs(t, got, context.Canceled)
	assert.Equal(t, uint64(1), pool.Stats().Failed)
}

func TestPool_FailuresAndPanics(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := New(context.Background(), Config{Name: "test", Workers: 1})

	require.NoError(t, pool.Submit(Task{ID: "fail", Fn: func(context.Context) error { return errors.New("boom") }}))
	require.NoError(t, pool.Submit(Task{ID: "panic", Fn: func(context.Context) error { panic("bad") }}))
	require.NoError(t, pool.Submit(Task{ID: "ok", Fn: noop}))
	require.NoError(t, pool.Stop(5*time.Second))

	stats := pool.Stats()
	assert.Equal(t, uint64(2), stats.Failed)
	assert.Equal(t, uint64(1), stats.Completed)
}

func TestPool_RejectsAfterStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := New(context.Background(), Config{Name: "test", Workers: 1})
	require.NoError(t, pool.Stop(time.Second))

	assert.Error(t, pool.Submit(Task{ID: "late", Fn: noop}))
	assert.Equal(t, uint64(1), pool.Stats().Rejected)

	// Stop is idempotent
	assert.NoError(t, pool.Stop(time.Second))
}

func TestPool_QueueFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := New(context.Background(), Config{Name: "test", Workers: 1, QueueSize: 1})
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, pool.Submit(Task{ID: "block", Fn: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	require.NoError(t, pool.Submit(Task{ID: "queued", Fn: noop}))
	assert.Error(t, pool.Submit(Task{ID: "overflow", Fn: noop}))

	close(release)
	require.NoError(t, pool.Stop(5*time.Second))
}

func TestPool_StopTimeout(t *testing.T) {
	pool := New(context.Background(), Config{Name: "test", Workers: 1})
	release := make(chan struct{})

	require.NoError(t, pool.Submit(Task{ID: "slow", Fn: func(context.Context) error {
		<-release
		return nil
	}}))

	assert.Error(t, pool.Stop(20*time.Millisecond))
	close(release)
}
