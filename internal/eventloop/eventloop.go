// Package eventloop implements the single-goroutine run loop that owns the
// engine: it runs completed native work delivered through the Task Channel
// and fires timers, with a microtask checkpoint after every task.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("eventloop: closed")

// Hooks connect the loop to the engine that owns it.
type Hooks struct {
	// Checkpoint runs after every task and timer callback.
	Checkpoint func()
	// BeforeExit runs when nothing is pending. It may schedule more work;
	// a returned error fails the run.
	BeforeExit func() error
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop logger.
func WithLogger(log *zap.Logger) Option {
	return func(l *Loop) { l.log = log }
}

// WithHooks sets the engine hooks.
func WithHooks(h Hooks) Option {
	return func(l *Loop) { l.hooks = h }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// Loop is not safe for concurrent use, except for Submit and Ingress.
type Loop struct {
	ingress   *Ingress
	timers    timerHeap
	timerByID map[int]*timer
	nextID    int
	seq       uint64
	nesting   int
	ops       int
	running   bool
	stopped   bool
	stopErr   error
	closed    bool
	now       func() time.Time
	log       *zap.Logger
	hooks     Hooks
}

// New creates a loop.
func New(opts ...Option) *Loop {
	l := &Loop{
		ingress:   NewIngress(),
		timerByID: make(map[int]*timer),
		now:       time.Now,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Ingress returns the loop's Task Channel.
func (l *Loop) Ingress() *Ingress { return l.ingress }

// Submit queues t to run on the loop goroutine. Safe for concurrent use.
// It reports false once the loop is closed; t is then dropped.
func (l *Loop) Submit(t Task) bool {
	return l.ingress.Push(t)
}

// Add registers an outstanding operation (native job in flight or an
// unsettled top-level evaluation).
func (l *Loop) Add() { l.ops++ }

// Done completes an operation registered with Add.
func (l *Loop) Done() {
	if l.ops > 0 {
		l.ops--
	}
}

// Pending returns the outstanding-operation counter: operations plus live
// timers.
func (l *Loop) Pending() int {
	return l.ops + len(l.timerByID)
}

// Running reports whether Run is executing.
func (l *Loop) Running() bool { return l.running }

// Stop ends the current Run after the running task returns. The first
// non-nil error wins.
func (l *Loop) Stop(err error) {
	if !l.stopped {
		l.stopped = true
		l.stopErr = err
	}
}

// Close tears the loop down: queued and future tasks are dropped and
// timers are cleared. Safe to call more than once.
func (l *Loop) Close() {
	if l.closed {
		return
	}
	l.closed = true
	l.ingress.Close()
	l.clearTimers()
	l.ops = 0
}

// Closed reports whether Close has been called.
func (l *Loop) Closed() bool { return l.closed }

// RunTask runs t on the calling goroutine followed by a checkpoint. Use it
// for the entry point before Run.
func (l *Loop) RunTask(t Task) {
	l.runTask(t)
}

// Run drives the loop until nothing is pending, Stop is called, or ctx is
// done. It must be called from the goroutine that owns the engine.
func (l *Loop) Run(ctx context.Context) error {
	if l.closed {
		return ErrClosed
	}
	l.running = true
	defer func() { l.running = false }()

	var wait *time.Timer
	defer func() {
		if wait != nil {
			wait.Stop()
		}
	}()

	for {
		if l.stopped {
			l.stopped = false
			err := l.stopErr
			l.stopErr = nil
			return err
		}
		if l.closed {
			return ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if tasks := l.ingress.Drain(); len(tasks) > 0 {
			for i, t := range tasks {
				l.runTask(t)
				if l.stopped || l.closed {
					l.ingress.Requeue(tasks[i+1:])
					break
				}
			}
			continue
		}

		now := l.now()
		next := l.nextTimer()
		if next != nil && !next.deadline.After(now) {
			l.fire(next)
			continue
		}

		if l.Pending() == 0 {
			if l.hooks.BeforeExit != nil {
				if err := l.hooks.BeforeExit(); err != nil {
					return err
				}
			}
			if l.Pending() == 0 && l.ingress.Len() == 0 && !l.stopped {
				l.log.Debug("event loop drained")
				return nil
			}
			continue
		}

		var timeout <-chan time.Time
		if next != nil {
			d := next.deadline.Sub(now)
			if wait == nil {
				wait = time.NewTimer(d)
			} else {
				wait.Reset(d)
			}
			timeout = wait.C
		}
		select {
		case <-l.ingress.Wake():
		case <-timeout:
		case <-ctx.Done():
		}
		if wait != nil && !wait.Stop() {
			select {
			case <-wait.C:
			default:
			}
		}
	}
}

// runTask runs t and the checkpoint. A panic stops the loop with an error
// instead of unwinding through the host.
func (l *Loop) runTask(t Task) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("task panicked", zap.Any("panic", r))
			l.Stop(fmt.Errorf("eventloop: task panicked: %v\n%s", r, debug.Stack()))
		}
	}()
	if t != nil {
		t()
	}
	if l.hooks.Checkpoint != nil && !l.closed {
		l.hooks.Checkpoint()
	}
}
