package eventloop

import (
	"context"
	"sync"
)

// State is the settlement state of a Promise.
type State uint8

const (
	Pending State = iota
	Fulfilled
	Rejected
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Promise is a value settled once, whose callbacks run on a loop.
type Promise struct {
	loop *Loop

	mu        sync.Mutex
	state     State
	value     any
	err       error
	callbacks []func()
	settled   chan struct{}
}

// NewPromise creates a pending promise and its settle functions. Only the
// first call to either function has an effect.
func NewPromise(loop *Loop) (p *Promise, resolve func(any), reject func(error)) {
	p = &Promise{loop: loop, settled: make(chan struct{})}
	return p, func(v any) { p.settle(Fulfilled, v, nil) }, func(err error) { p.settle(Rejected, nil, err) }
}

// Resolved returns a fulfilled promise.
func Resolved(loop *Loop, v any) *Promise {
	p, resolve, _ := NewPromise(loop)
	resolve(v)
	return p
}

// RejectedWith returns a rejected promise.
func RejectedWith(loop *Loop, err error) *Promise {
	p, _, reject := NewPromise(loop)
	reject(err)
	return p
}

func (p *Promise) settle(state State, v any, err error) {
	p.mu.Lock()
	if p.state != Pending {
		p.mu.Unlock()
		return
	}
	p.state, p.value, p.err = state, v, err
	cbs := p.callbacks
	p.callbacks = nil
	close(p.settled)
	p.mu.Unlock()

	for _, cb := range cbs {
		p.dispatch(cb)
	}
}

func (p *Promise) dispatch(cb func()) {
	if p.loop == nil || p.loop.Submit(cb) != nil {
		cb()
	}
}

// Then registers callbacks run on the loop once the promise settles.
// Either callback may be nil.
func (p *Promise) Then(onFulfilled func(any), onRejected func(error)) {
	cb := func() {
		p.mu.Lock()
		state, v, err := p.state, p.value, p.err
		p.mu.Unlock()
		if state == Fulfilled && onFulfilled != nil {
			onFulfilled(v)
		}
		if state == Rejected && onRejected != nil {
			onRejected(err)
		}
	}

	p.mu.Lock()
	if p.state == Pending {
		p.callbacks = append(p.callbacks, cb)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.dispatch(cb)
}

// State returns the current settlement state.
func (p *Promise) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Done is closed when the promise settles.
func (p *Promise) Done() <-chan struct{} {
	return p.settled
}

// Await blocks until the promise settles or ctx is done. It must not be
// called from the loop goroutine while the loop is needed to settle p.
func (p *Promise) Await(ctx context.Context) (any, error) {
	select {
	case <-p.settled:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.err
}
