package atomics

import (
	"context"
	"time"

	"github.com/wippyai/hostbridge/eventloop"
)

// Waiter waits until a cell changes from an expected value.
// A negative timeout waits forever. done is called exactly once.
type Waiter interface {
	Wait(ctx context.Context, c Cell, expected int32, timeout time.Duration, done func(Result)) error
}

// Blocking parks the calling goroutine until notified.
type Blocking struct {
	N *Notifier
}

// Wait calls done before returning.
func (b Blocking) Wait(ctx context.Context, c Cell, expected int32, timeout time.Duration, done func(Result)) error {
	done(park(ctx, b.N, c, expected, timeout))
	return nil
}

// Async registers the wait and delivers the result on a loop.
type Async struct {
	N    *Notifier
	Loop *eventloop.Loop
}

// Wait returns immediately; done runs later as a loop task.
func (a Async) Wait(ctx context.Context, c Cell, expected int32, timeout time.Duration, done func(Result)) error {
	w, ok := a.N.register(c, expected)
	if !ok {
		return a.Loop.Submit(func() { done(NotEqual) })
	}
	go func() {
		r := sleep(ctx, a.N, c, w, timeout)
		if err := a.Loop.Submit(func() { done(r) }); err != nil {
			done(Cancelled)
		}
	}()
	return nil
}

func park(ctx context.Context, n *Notifier, c Cell, expected int32, timeout time.Duration) Result {
	w, ok := n.register(c, expected)
	if !ok {
		return NotEqual
	}
	return sleep(ctx, n, c, w, timeout)
}

func sleep(ctx context.Context, n *Notifier, c Cell, w *waiter, timeout time.Duration) Result {
	var expire <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expire = t.C
	}

	select {
	case <-w.ch:
		return OK
	case <-expire:
		if n.cancel(c, w) {
			return TimedOut
		}
		return OK
	case <-ctx.Done():
		if n.cancel(c, w) {
			return Cancelled
		}
		return OK
	}
}

// WaitUntil waits on the loop until c equals want, re-arming after every
// wake. done runs on the loop with OK, or with the first non-OK result
// other than NotEqual.
func WaitUntil(ctx context.Context, w Waiter, c Cell, want int32, done func(Result)) error {
	var step func(Result)
	arm := func() error {
		v := c.Load()
		if v == want {
			done(OK)
			return nil
		}
		return w.Wait(ctx, c, v, -1, step)
	}
	step = func(r Result) {
		if r != OK && r != NotEqual {
			done(r)
			return
		}
		if err := arm(); err != nil {
			done(Cancelled)
		}
	}
	return arm()
}
