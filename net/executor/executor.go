// Package executor serializes the work of an endpoint onto one goroutine.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/atomic"
)

var (
	ErrStopped        = errors.New("executor is stopped")
	ErrAlreadyRunning = errors.New("executor is already running")
)

// Executor runs queued tasks sequentially in the goroutine calling Run.
type Executor struct {
	tasks   chan func()
	done    chan struct{}
	stopped atomic.Bool
	running atomic.Bool
	errors  func(error)
}

// New creates an executor with a queue holding queueSize tasks. Panics of
// tasks are reported to errors.
func New(queueSize int, errors func(error)) *Executor {
	if errors == nil {
		errors = func(error) {
			// NO-OP
		}
	}
	return &Executor{
		tasks:  make(chan func(), queueSize),
		done:   make(chan struct{}),
		errors: errors,
	}
}

// Execute queues the task. It blocks while the queue is full.
func (e *Executor) Execute(task func()) error {
	if e.stopped.Load() {
		return ErrStopped
	}
	select {
	case e.tasks <- task:
		return nil
	case <-e.done:
		return ErrStopped
	}
}

// Call runs f on the executor and waits until it returns.
func (e *Executor) Call(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	err := e.Execute(func() {
		defer close(finished)
		f()
	})
	if err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

// Run processes tasks until ctx is done or Stop is called.
func (e *Executor) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.done:
			return nil
		case task := <-e.tasks:
			e.run(task)
		}
	}
}

func (e *Executor) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			e.errors(fmt.Errorf("executor: task panicked: %v", r))
		}
	}()
	task()
}

// Stop stops the executor; queued tasks are discarded.
func (e *Executor) Stop() {
	if e.stopped.CompareAndSwap(false, true) {
		close(e.done)
	}
}

// Done is closed when the executor stops.
func (e *Executor) Done() <-chan struct{} {
	return e.done
}

// Timer is a task scheduled on the executor. Its methods must be called
// from the executor.
type Timer struct {
	timer    *time.Timer
	finished bool
}

// Schedule runs task on the executor after d.
func (e *Executor) Schedule(d time.Duration, task func()) *Timer {
	t := &Timer{}
	t.timer = time.AfterFunc(d, func() {
		_ = e.Execute(func() {
			if t.finished {
				return
			}
			t.finished = true
			task()
		})
	})
	return t
}

// Cancel prevents the task from running. It reports whether the task was
// still pending.
func (t *Timer) Cancel() bool {
	if t == nil || t.finished {
		return false
	}
	t.finished = true
	t.timer.Stop()
	return true
}
