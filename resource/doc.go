// Package resource provides the handle table that lets a module refer to
// host values it cannot allocate or inspect.
//
// A Table maps small integers to Go values. The first Reserved slots hold
// fixed singletons and are never recycled:
//
//	0..127  Undefined (slot 0 doubles as HandleNone)
//	128     Undefined
//	129     nil (null)
//	130     true
//	131     false
//
// Released slots form a free chain encoded in place: each free slot stores
// the index of the next free slot, rooted at the table's cursor. When the
// chain is empty a new slot is appended. The table never shrinks.
//
//	table := resource.NewTable()
//	h := table.Alloc("hello")
//	v, err := table.Get(h)
//	v, err = table.Take(h) // get then release
//
// Releasing a reserved handle is a no-op. Releasing a handle twice, or
// reading a released one, returns a StaleHandle error and leaves the chain
// intact.
//
// # Concurrency
//
// A Table is owned by one module instance and must only be used from that
// instance's call sequence. Workers each get their own table.
//
// # Observers
//
// Register observers to track allocation and release:
//
//	table.Subscribe(observer)
package resource
