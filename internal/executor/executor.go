// Package executor runs native work for pending jobs on worker goroutines.
// Work never touches the engine: it receives a context and returns plain Go
// values, which the caller moves back to the loop through the Task Channel.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrClosed is returned by Go after Close.
	ErrClosed = errors.New("executor: closed")
	// ErrGoexit is delivered when work calls runtime.Goexit.
	ErrGoexit = errors.New("executor: work exited via runtime.Goexit")
)

// PanicError is delivered when work panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e PanicError) Error() string {
	return fmt.Sprintf("executor: work panicked: %v", e.Value)
}

// Work is native work run off the engine goroutine. It should return
// promptly once ctx is done.
type Work func(ctx context.Context) (any, error)

// Executor is a bounded pool of worker goroutines.
type Executor struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
	active atomic.Int64
	log    *zap.Logger
}

// New creates an executor running at most maxWorkers jobs at once.
func New(maxWorkers int, log *zap.Logger) *Executor {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		sem:    semaphore.NewWeighted(int64(maxWorkers)),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
}

// Context is cancelled when the executor closes.
func (e *Executor) Context() context.Context { return e.ctx }

// Active returns the number of submitted jobs that have not delivered.
func (e *Executor) Active() int { return int(e.active.Load()) }

// Go runs work on a worker goroutine. done is called exactly once, on the
// worker goroutine, with the result, a PanicError, ErrGoexit, or the
// context error if the executor closed before a worker was free.
func (e *Executor) Go(work Work, done func(any, error)) error {
	if e.closed.Load() {
		return ErrClosed
	}
	e.wg.Add(1)
	e.active.Add(1)
	go func() {
		defer e.wg.Done()
		delivered := false
		defer func() {
			if !delivered {
				e.active.Add(-1)
				done(nil, ErrGoexit)
			}
		}()

		var (
			res any
			err error
		)
		if err = e.sem.Acquire(e.ctx, 1); err == nil {
			res, err = e.run(work)
		}
		delivered = true
		e.active.Add(-1)
		done(res, err)
	}()
	return nil
}

// run executes work holding one semaphore slot.
func (e *Executor) run(work Work) (res any, err error) {
	defer e.sem.Release(1)
	defer func() {
		if r := recover(); r != nil {
			pe := PanicError{Value: r, Stack: debug.Stack()}
			e.log.Error("native work panicked", zap.Any("panic", r), zap.ByteString("stack", pe.Stack))
			res, err = nil, pe
		}
	}()
	return work(e.ctx)
}

// Close cancels the shared context and waits up to timeout for workers to
// deliver. Work that ignores cancellation keeps running after a timeout;
// its result is discarded by the caller.
func (e *Executor) Close(timeout time.Duration) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.cancel()
	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-time.After(timeout):
		e.log.Warn("executor close timed out", zap.Int("active", e.Active()))
		return fmt.Errorf("executor: %d jobs still running after %s", e.Active(), timeout)
	}
}
