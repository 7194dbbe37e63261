package resource

import (
	"sync"
)

// Handle is an opaque reference to a host object held on behalf of a
// guest. Handle 0 is reserved and always invalid; externref values
// carry handles as their payload.
type Handle uint32

// Dropper is implemented by host objects that need a destructor when
// their last reference goes away.
type Dropper interface {
	Drop()
}

// EventType identifies a lifecycle notification.
type EventType uint8

const (
	EventCreated EventType = iota
	EventRetained
	EventReleased
	EventDropped
)

// Event is a resource lifecycle notification.
type Event struct {
	Value  any
	Handle Handle
	Refs   uint32
	Type   EventType
}

// Observer receives lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

type entry struct {
	value any
	refs  uint32
}

// Table is a reference-counted handle table for host objects crossing
// the guest boundary. Inserting mints a handle with one reference;
// Retain and Release adjust the count, and the value's destructor
// runs when the count reaches zero.
type Table struct {
	entries   map[Handle]*entry
	observers []Observer
	next      Handle
	mu        sync.Mutex
	capacity  int
}

// NewTable creates a table holding at most capacity live handles.
func NewTable(capacity int) *Table {
	return &Table{
		entries:  make(map[Handle]*entry, capacity),
		next:     1,
		capacity: capacity,
	}
}

// Subscribe adds a lifecycle observer.
func (t *Table) Subscribe(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

func (t *Table) notify(ev Event) {
	for _, o := range t.observers {
		o.OnResourceEvent(ev)
	}
}

// Insert stores a value and returns its handle, or 0 when the table
// is full.
func (t *Table) Insert(value any) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.entries) >= t.capacity {
		return 0
	}
	h := t.next
	t.next++
	t.entries[h] = &entry{value: value, refs: 1}
	t.notify(Event{Type: EventCreated, Handle: h, Refs: 1, Value: value})
	return h
}

// Get retrieves a value by handle.
func (t *Table) Get(h Handle) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Retain adds a reference.
func (t *Table) Retain(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	if !ok {
		return false
	}
	e.refs++
	t.notify(Event{Type: EventRetained, Handle: h, Refs: e.refs, Value: e.value})
	return true
}

// Release drops a reference; the value's destructor runs when the
// last reference goes.
func (t *Table) Release(h Handle) bool {
	t.mu.Lock()
	e, ok := t.entries[h]
	if !ok {
		t.mu.Unlock()
		return false
	}
	e.refs--
	if e.refs > 0 {
		refs := e.refs
		value := e.value
		t.mu.Unlock()
		t.notify(Event{Type: EventReleased, Handle: h, Refs: refs, Value: value})
		return true
	}
	delete(t.entries, h)
	value := e.value
	t.mu.Unlock()

	if d, ok := value.(Dropper); ok {
		d.Drop()
	}
	t.notify(Event{Type: EventDropped, Handle: h, Refs: 0, Value: value})
	return true
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Clear releases every handle, running destructors.
func (t *Table) Clear() {
	t.mu.Lock()
	handles := make([]Handle, 0, len(t.entries))
	for h := range t.entries {
		handles = append(handles, h)
	}
	for _, h := range handles {
		t.entries[h].refs = 1
	}
	t.mu.Unlock()

	for _, h := range handles {
		t.Release(h)
	}
}
