package atomics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wippyai/hostbridge/errors"
	"github.com/wippyai/hostbridge/eventloop"
	"github.com/wippyai/hostbridge/memory"
)

func TestAt(t *testing.T) {
	buf := memory.NewBuffer(1, 0)
	view := memory.NewView(buf)

	c, err := At(view, 64)
	if err != nil {
		t.Fatal(err)
	}
	c.Store(0x01020304)
	if got := buf.Buffer()[64:68]; got[0] != 4 || got[3] != 1 {
		t.Errorf("memory bytes = %v, want little-endian", got)
	}
	if c.Add(1) != 0x01020305 {
		t.Error("Add returned wrong value")
	}
	if c.Key() != uint32(64) {
		t.Errorf("Key = %v", c.Key())
	}

	if _, err := At(view, 66); !errors.IsKind(err, errors.KindOutOfBounds) {
		t.Errorf("misaligned err = %v", err)
	}
	if _, err := At(view, memory.PageSize); !errors.IsKind(err, errors.KindOutOfBounds) {
		t.Errorf("past end err = %v", err)
	}
}

func TestBlocking_NotEqual(t *testing.T) {
	n := NewNotifier()
	c := NewCell(5)
	var got Result = 99
	Blocking{N: n}.Wait(context.Background(), c, 4, -1, func(r Result) { got = r })
	if got != NotEqual {
		t.Errorf("result = %v, want not-equal", got)
	}
}

func TestBlocking_Timeout(t *testing.T) {
	n := NewNotifier()
	c := NewCell(0)
	var got Result
	Blocking{N: n}.Wait(context.Background(), c, 0, 10*time.Millisecond, func(r Result) { got = r })
	if got != TimedOut {
		t.Errorf("result = %v, want timed-out", got)
	}
	if n.Waiting(c) != 0 {
		t.Error("timed out waiter left registered")
	}
}

func TestBlocking_Notify(t *testing.T) {
	n := NewNotifier()
	c := NewCell(0)

	results := make(chan Result, 3)
	for i := 0; i < 3; i++ {
		go Blocking{N: n}.Wait(context.Background(), c, 0, 5*time.Second, func(r Result) { results <- r })
	}
	deadline := time.Now().Add(2 * time.Second)
	for n.Waiting(c) != 3 {
		if time.Now().After(deadline) {
			t.Fatal("waiters did not register")
		}
		time.Sleep(time.Millisecond)
	}

	c.Store(1)
	if woke := n.Notify(c, 2); woke != 2 {
		t.Errorf("Notify woke %d, want 2", woke)
	}
	for i := 0; i < 2; i++ {
		if r := <-results; r != OK {
			t.Errorf("result = %v", r)
		}
	}
	if n.Waiting(c) != 1 {
		t.Errorf("Waiting = %d, want 1", n.Waiting(c))
	}
	if woke := n.Notify(c, All); woke != 1 {
		t.Errorf("Notify(All) woke %d", woke)
	}
	<-results
}

func TestBlocking_Cancel(t *testing.T) {
	n := NewNotifier()
	c := NewCell(0)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	var got Result
	Blocking{N: n}.Wait(ctx, c, 0, -1, func(r Result) { got = r })
	if got != Cancelled {
		t.Errorf("result = %v, want cancelled", got)
	}
}

func TestAsync_DeliversOnLoop(t *testing.T) {
	n := NewNotifier()
	loop := eventloop.New()
	c := NewCell(0)

	var got []Result
	if err := (Async{N: n, Loop: loop}).Wait(context.Background(), c, 0, -1, func(r Result) {
		got = append(got, r)
	}); err != nil {
		t.Fatal(err)
	}
	if n.Waiting(c) != 1 {
		t.Fatal("async wait did not register")
	}
	if len(got) != 0 {
		t.Fatal("async wait completed synchronously")
	}

	c.Store(1)
	n.Notify(c, All)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for len(got) == 0 {
		loop.RunPending()
		if ctx.Err() != nil {
			t.Fatal("result never delivered")
		}
		time.Sleep(time.Millisecond)
	}
	if got[0] != OK {
		t.Errorf("result = %v", got[0])
	}
}

func TestAsync_NotEqualIsPosted(t *testing.T) {
	loop := eventloop.New()
	c := NewCell(3)
	var got Result = 99
	(Async{N: NewNotifier(), Loop: loop}).Wait(context.Background(), c, 1, -1, func(r Result) { got = r })
	if got != 99 {
		t.Fatal("not-equal delivered inline")
	}
	loop.RunPending()
	if got != NotEqual {
		t.Errorf("result = %v", got)
	}
}

func TestWaitUntil(t *testing.T) {
	n := NewNotifier()
	loop := eventloop.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	c := NewCell(0)
	finished := make(chan Result, 1)
	loop.Submit(func() {
		WaitUntil(ctx, Async{N: n, Loop: loop}, c, 4, func(r Result) { finished <- r })
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Add(1)
			n.Notify(c, All)
		}()
	}
	wg.Wait()

	select {
	case r := <-finished:
		if r != OK {
			t.Errorf("result = %v", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitUntil never completed")
	}
}

func TestResultString(t *testing.T) {
	tests := map[Result]string{OK: "ok", NotEqual: "not-equal", TimedOut: "timed-out", Cancelled: "cancelled"}
	for r, want := range tests {
		if r.String() != want {
			t.Errorf("%d.String() = %q, want %q", r, r.String(), want)
		}
	}
}
