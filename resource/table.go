package resource

import (
	"fmt"

	"github.com/wippyai/hostbridge/errors"
)

type slot struct {
	value any
	next  Handle
	live  bool
}

// Table is a dense handle table with an in-place free chain.
type Table struct {
	slots     []slot
	next      Handle
	live      int
	allocs    uint64
	releases  uint64
	observers []Observer
}

// NewTable creates a table with the reserved singletons in place.
func NewTable() *Table {
	t := &Table{slots: make([]slot, Reserved, Reserved+64)}
	for i := range t.slots[:HandleUndefined] {
		t.slots[i] = slot{value: Undefined, live: true}
	}
	t.slots[HandleUndefined] = slot{value: Undefined, live: true}
	t.slots[HandleNull] = slot{value: nil, live: true}
	t.slots[HandleTrue] = slot{value: true, live: true}
	t.slots[HandleFalse] = slot{value: false, live: true}
	t.next = Reserved
	return t
}

// Alloc stores value and returns its handle. Pops the free chain head when
// there is one, otherwise appends a slot.
func (t *Table) Alloc(value any) Handle {
	if int(t.next) == len(t.slots) {
		t.slots = append(t.slots, slot{next: t.next + 1})
	}
	h := t.next
	t.next = t.slots[h].next
	t.slots[h] = slot{value: value, live: true}
	t.live++
	t.allocs++

	t.notify(Event{Type: EventCreated, Handle: h, Value: value})
	return h
}

// Get returns the value at h without removing it.
func (t *Table) Get(h Handle) (any, error) {
	if int(h) >= len(t.slots) {
		return nil, errors.StaleHandle(errors.PhaseHandle, uint32(h), "never allocated")
	}
	s := &t.slots[h]
	if !s.live {
		return nil, errors.StaleHandle(errors.PhaseHandle, uint32(h), "released")
	}
	return s.value, nil
}

// Take returns the value at h and releases the handle.
func (t *Table) Take(h Handle) (any, error) {
	v, err := t.Get(h)
	if err != nil {
		return nil, err
	}
	if err := t.Release(h); err != nil {
		return nil, err
	}
	return v, nil
}

// Release pushes h onto the free chain. Reserved handles are ignored.
// Releasing a handle that is not live is reported and changes nothing.
func (t *Table) Release(h Handle) error {
	if h.IsReserved() {
		return nil
	}
	if int(h) >= len(t.slots) {
		return errors.StaleHandle(errors.PhaseHandle, uint32(h), "never allocated")
	}
	s := &t.slots[h]
	if !s.live {
		return errors.StaleHandle(errors.PhaseHandle, uint32(h), "released twice")
	}
	value := s.value
	*s = slot{next: t.next}
	t.next = h
	t.live--
	t.releases++

	t.notify(Event{Type: EventDropped, Handle: h, Value: value})
	return nil
}

// CloneRef allocates a second handle to the value at h.
func (t *Table) CloneRef(h Handle) (Handle, error) {
	v, err := t.Get(h)
	if err != nil {
		return HandleNone, err
	}
	return t.Alloc(v), nil
}

// Len returns the number of live dynamic handles.
func (t *Table) Len() int {
	return t.live
}

// Stats returns a snapshot of the table counters.
func (t *Table) Stats() Stats {
	return Stats{
		Slots:    len(t.slots),
		Live:     t.live,
		Free:     len(t.slots) - int(Reserved) - t.live,
		Allocs:   t.allocs,
		Releases: t.releases,
	}
}

// Each calls fn for every live dynamic handle in index order.
func (t *Table) Each(fn func(Handle, any) bool) {
	for i := int(Reserved); i < len(t.slots); i++ {
		if t.slots[i].live && !fn(Handle(i), t.slots[i].value) {
			return
		}
	}
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer. Observers must be comparable.
func (t *Table) Unsubscribe(o Observer) {
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

func (t *Table) notify(e Event) {
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}

// As returns the value at h as T.
func As[T any](t *Table, h Handle) (T, error) {
	var zero T
	v, err := t.Get(h)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, errors.New(errors.PhaseHandle, errors.KindTypeMismatch).
			GoType(fmt.Sprintf("%T", v)).
			Value(v).
			Detail("handle %d: expected %s", h, typeName[T]()).
			Build()
	}
	return out, nil
}

func typeName[T any]() string {
	var p *T
	return fmt.Sprintf("%T", p)[1:]
}
