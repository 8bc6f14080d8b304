package atomics

import (
	"math"
	"sync"
)

// All wakes every waiter.
const All = math.MaxUint32

// Result is the outcome of a wait.
type Result uint8

const (
	OK Result = iota
	NotEqual
	TimedOut
	Cancelled
)

func (r Result) String() string {
	switch r {
	case OK:
		return "ok"
	case NotEqual:
		return "not-equal"
	case TimedOut:
		return "timed-out"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type waiter struct {
	ch chan struct{}
}

// Notifier tracks waiters per cell key. One Notifier serves every context
// that shares a memory.
type Notifier struct {
	mu      sync.Mutex
	waiters map[any][]*waiter
	woken   uint64
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{waiters: make(map[any][]*waiter)}
}

// register adds a waiter for c if c still holds expected.
func (n *Notifier) register(c Cell, expected int32) (*waiter, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c.Load() != expected {
		return nil, false
	}
	w := &waiter{ch: make(chan struct{})}
	n.waiters[c.key] = append(n.waiters[c.key], w)
	return w, true
}

// cancel removes w. It reports false when w was already woken.
func (n *Notifier) cancel(c Cell, w *waiter) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	list := n.waiters[c.key]
	for i, x := range list {
		if x == w {
			list = append(list[:i], list[i+1:]...)
			if len(list) == 0 {
				delete(n.waiters, c.key)
			} else {
				n.waiters[c.key] = list
			}
			return true
		}
	}
	return false
}

// Notify wakes up to count waiters on c in arrival order and returns how
// many were woken.
func (n *Notifier) Notify(c Cell, count uint32) uint32 {
	n.mu.Lock()
	list := n.waiters[c.key]
	k := len(list)
	if uint64(count) < uint64(k) {
		k = int(count)
	}
	woken := list[:k]
	if k == len(list) {
		delete(n.waiters, c.key)
	} else {
		n.waiters[c.key] = append([]*waiter(nil), list[k:]...)
	}
	n.woken += uint64(k)
	n.mu.Unlock()

	for _, w := range woken {
		close(w.ch)
	}
	return uint32(k)
}

// Waiting returns the number of waiters registered on c.
func (n *Notifier) Waiting(c Cell) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.waiters[c.key])
}
