package eventloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func runLoop(t *testing.T, l *Loop) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestLoop_RunsInOrder(t *testing.T) {
	l := New()
	runLoop(t, l)

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		if err := l.Submit(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Do(context.Background(), func() {}); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 100 {
		t.Fatalf("ran %d tasks, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestLoop_RunPendingIncludesNestedSubmits(t *testing.T) {
	l := New()
	count := 0
	l.Submit(func() {
		count++
		l.Submit(func() { count++ })
	})
	if n := l.RunPending(); n != 2 {
		t.Errorf("RunPending = %d, want 2", n)
	}
	if count != 2 || l.Pending() != 0 || l.Ran() != 2 {
		t.Errorf("count=%d pending=%d ran=%d", count, l.Pending(), l.Ran())
	}
}

func TestLoop_Close(t *testing.T) {
	l := New()
	ran := false
	l.Submit(func() { ran = true })

	result := make(chan error, 1)
	go func() { result <- l.Run(context.Background()) }()

	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-result:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	if !ran {
		t.Error("queued task dropped at Close")
	}
	if err := l.Submit(func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after Close = %v", err)
	}
}

func TestLoop_RunCancelled(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v", err)
	}
}

func TestPromise_ThenRunsOnLoop(t *testing.T) {
	l := New()
	p, resolve, reject := NewPromise(l)

	var got any
	p.Then(func(v any) { got = v }, func(error) { t.Error("rejected") })
	resolve(7)
	reject(errors.New("late"))

	if got != nil {
		t.Fatal("callback ran inline")
	}
	l.RunPending()
	if got != 7 {
		t.Errorf("got %v, want 7", got)
	}
	if p.State() != Fulfilled {
		t.Errorf("State = %v", p.State())
	}

	// registration after settlement still dispatches through the loop
	var again any
	p.Then(func(v any) { again = v }, nil)
	l.RunPending()
	if again != 7 {
		t.Errorf("late Then got %v", again)
	}
}

func TestPromise_Reject(t *testing.T) {
	l := New()
	want := errors.New("boom")
	p := RejectedWith(l, want)

	var got error
	p.Then(nil, func(err error) { got = err })
	l.RunPending()
	if !errors.Is(got, want) {
		t.Errorf("got %v", got)
	}

	_, err := p.Await(context.Background())
	if !errors.Is(err, want) {
		t.Errorf("Await = %v", err)
	}
	if p.State().String() != "rejected" {
		t.Errorf("State = %v", p.State())
	}
}

func TestPromise_AwaitTimeout(t *testing.T) {
	p, _, _ := NewPromise(New())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Await = %v", err)
	}
}

func TestPromise_Resolved(t *testing.T) {
	p := Resolved(nil, "ok")
	v, err := p.Await(context.Background())
	if err != nil || v != "ok" {
		t.Errorf("Await = %v, %v", v, err)
	}
	// nil loop runs callbacks inline
	var got any
	p.Then(func(v any) { got = v }, nil)
	if got != "ok" {
		t.Errorf("got %v", got)
	}
}
