package core

import (
	"context"
	"errors"
	"sync"
)

// ErrLoopStopped is returned when work is posted after the loop exited.
var ErrLoopStopped = errors.New("loop stopped")

// Loop is the single processing queue every socket callback, timer callback
// and UI call goes through. Tasks run one at a time in the order they were
// posted, so code executed by the loop needs no further locking.
type Loop struct {
	tasks   chan func()
	done    chan struct{}
	stopped sync.Once
}

// NewLoop constructs a loop with the given queue depth.
func NewLoop(size int) *Loop {
	if size <= 0 {
		size = 256
	}
	return &Loop{
		tasks: make(chan func(), size),
		done:  make(chan struct{}),
	}
}

// Run executes posted tasks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	defer l.stopped.Do(func() { close(l.done) })
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-l.tasks:
			task()
		}
	}
}

// Post enqueues fn. It blocks while the queue is full and returns false once
// the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish.
// Calling Do from a task running on the loop deadlocks.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrLoopStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLoopStopped
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
