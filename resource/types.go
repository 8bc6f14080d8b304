package resource

// Handle is an index into a Table.
type Handle uint32

// Reserved slots. Handles below Reserved are never released.
const (
	HandleNone      Handle = 0
	HandleUndefined Handle = 128
	HandleNull      Handle = 129
	HandleTrue      Handle = 130
	HandleFalse     Handle = 131
	Reserved        Handle = 132
)

// UndefinedValue is the host "undefined" singleton. Go nil is used for null.
type UndefinedValue struct{}

func (UndefinedValue) String() string { return "undefined" }

// Undefined is the value stored in undefined slots.
var Undefined = UndefinedValue{}

// IsNone reports whether h is the "no value" sentinel.
func (h Handle) IsNone() bool {
	return h == HandleNone
}

// IsReserved reports whether h refers to a permanent singleton slot.
func (h Handle) IsReserved() bool {
	return h < Reserved
}

// BoolHandle returns the reserved handle for b.
func BoolHandle(b bool) Handle {
	if b {
		return HandleTrue
	}
	return HandleFalse
}

// EventType identifies a table lifecycle event.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
)

func (e EventType) String() string {
	switch e {
	case EventCreated:
		return "created"
	case EventDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Event represents a handle lifecycle event.
type Event struct {
	Value  any
	Handle Handle
	Type   EventType
}

// Observer receives notifications about handle lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnResourceEvent(e Event) { f(e) }

// Stats is a snapshot of table counters.
type Stats struct {
	Slots    int    // total slots including reserved
	Live     int    // allocated dynamic slots
	Free     int    // slots on the free chain
	Allocs   uint64 // lifetime allocations
	Releases uint64 // lifetime releases
}
