package executor

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcome struct {
	res any
	err error
}

func submit(t *testing.T, e *Executor, work Work) <-chan outcome {
	t.Helper()
	ch := make(chan outcome, 1)
	require.NoError(t, e.Go(work, func(res any, err error) { ch <- outcome{res, err} }))
	return ch
}

func wait(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("job did not deliver")
		return outcome{}
	}
}

func TestExecutor_DeliversResult(t *testing.T) {
	e := New(2, nil)
	defer func() { _ = e.Close(time.Second) }()

	o := wait(t, submit(t, e, func(context.Context) (any, error) { return "ok", nil }))
	assert.NoError(t, o.err)
	assert.Equal(t, "ok", o.res)
}

func TestExecutor_PanicIsolated(t *testing.T) {
	e := New(2, nil)
	defer func() { _ = e.Close(time.Second) }()

	o := wait(t, submit(t, e, func(context.Context) (any, error) { panic("worker fault") }))
	var pe PanicError
	require.True(t, errors.As(o.err, &pe))
	assert.Equal(t, "worker fault", pe.Value)
	assert.NotEmpty(t, pe.Stack)
}

func TestExecutor_GoexitDetected(t *testing.T) {
	e := New(2, nil)
	defer func() { _ = e.Close(time.Second) }()

	o := wait(t, submit(t, e, func(context.Context) (any, error) {
		runtime.Goexit()
		return nil, nil
	}))
	assert.ErrorIs(t, o.err, ErrGoexit)
	assert.Eventually(t, func() bool { return e.Active() == 0 }, time.Second, time.Millisecond)
}

func TestExecutor_BoundsConcurrency(t *testing.T) {
	e := New(2, nil)
	defer func() { _ = e.Close(time.Second) }()

	var running, peak atomic.Int64
	var chans []<-chan outcome
	for i := 0; i < 8; i++ {
		chans = append(chans, submit(t, e, func(context.Context) (any, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil, nil
		}))
	}
	for _, ch := range chans {
		wait(t, ch)
	}
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestExecutor_CloseCancelsWork(t *testing.T) {
	e := New(1, nil)
	started := make(chan struct{})
	ch := submit(t, e, func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-started

	require.NoError(t, e.Close(time.Second))
	assert.ErrorIs(t, wait(t, ch).err, context.Canceled)
	assert.ErrorIs(t, e.Go(func(context.Context) (any, error) { return nil, nil }, func(any, error) {}), ErrClosed)
}

func TestExecutor_CloseTimesOutOnStubbornWork(t *testing.T) {
	e := New(1, nil)
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	_ = submit(t, e, func(context.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	<-started

	err := e.Close(10 * time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still running")
}
