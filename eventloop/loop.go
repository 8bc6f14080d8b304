package eventloop

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when submitting to a closed loop.
var ErrClosed = errors.New("eventloop: closed")

// Loop runs submitted tasks sequentially on one goroutine.
type Loop struct {
	mu      sync.Mutex
	tasks   []func()
	wake    chan struct{}
	done    chan struct{}
	closed  bool
	running bool
	ran     uint64
}

// New creates an idle loop.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Submit queues fn to run on the loop.
func (l *Loop) Submit(fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run executes tasks until ctx is done or the loop is closed. Tasks still
// queued at Close are run before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return errors.New("eventloop: already running")
	}
	l.running = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	for {
		l.RunPending()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			l.RunPending()
			return nil
		case <-l.wake:
		}
	}
}

// RunPending runs the tasks queued so far, including tasks they submit, and
// returns how many ran. It lets a caller that already owns the loop
// goroutine pump it without Run.
func (l *Loop) RunPending() int {
	n := 0
	for {
		l.mu.Lock()
		batch := l.tasks
		l.tasks = nil
		l.mu.Unlock()
		if len(batch) == 0 {
			return n
		}
		for _, fn := range batch {
			fn()
			n++
		}
		l.mu.Lock()
		l.ran += uint64(len(batch))
		l.mu.Unlock()
	}
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Ran returns the number of tasks executed so far.
func (l *Loop) Ran() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ran
}

// Do submits fn and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := l.Submit(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and signals Run to drain and return.
func (l *Loop) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.done)
	return nil
}
