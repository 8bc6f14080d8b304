// Package eventloop provides the single-threaded cooperative loop that the
// main module instance runs on, and a Promise type settled on that loop.
//
//	loop := eventloop.New()
//	defer loop.Close()
//
//	loop.Submit(func() {
//		// runs on the loop goroutine
//	})
//
//	go loop.Run(ctx)
//
// Submit is safe from any goroutine. Tasks run one at a time in submission
// order, so code that touches a module instance from tasks never races with
// itself. Promise callbacks are always submitted, never run inline.
package eventloop
