package safemem

import (
	"github.com/wippyai/wrt/budget"
	"github.com/wippyai/wrt/errors"
)

// Bounded collections allocate their full capacity once at
// construction and fail with CapacityExceeded instead of growing.
// Failed operations leave the collection unchanged.

// BoundedVec is a capacity-capped vector.
type BoundedVec[T any] struct {
	items []T
	token *budget.Token
}

// NewVec creates a vector holding at most capacity elements.
func NewVec[T any](capacity int) *BoundedVec[T] {
	return &BoundedVec[T]{items: make([]T, 0, capacity)}
}

// AcquireVec reserves capacity*elemBytes from the registry before
// allocating. The token is released by Close.
func AcquireVec[T any](reg *budget.Registry, crate budget.CrateID, capacity int, elemBytes uint64) (*BoundedVec[T], error) {
	token, err := reg.Acquire(crate, uint64(capacity)*elemBytes)
	if err != nil {
		return nil, err
	}
	return &BoundedVec[T]{items: make([]T, 0, capacity), token: token}, nil
}

func (v *BoundedVec[T]) Len() int { return len(v.items) }
func (v *BoundedVec[T]) Cap() int { return cap(v.items) }

// Push appends an element, failing when the vector is full.
func (v *BoundedVec[T]) Push(item T) error {
	if len(v.items) == cap(v.items) {
		return errors.CapacityExceeded(uint64(cap(v.items)))
	}
	v.items = append(v.items, item)
	return nil
}

// Get returns the element at index i.
func (v *BoundedVec[T]) Get(i int) (T, error) {
	var zero T
	if i < 0 || i >= len(v.items) {
		return zero, errors.OutOfBounds(uint64(i), 1, uint64(len(v.items)))
	}
	return v.items[i], nil
}

// Set replaces the element at index i.
func (v *BoundedVec[T]) Set(i int, item T) error {
	if i < 0 || i >= len(v.items) {
		return errors.OutOfBounds(uint64(i), 1, uint64(len(v.items)))
	}
	v.items[i] = item
	return nil
}

// Truncate shortens the vector to n elements.
func (v *BoundedVec[T]) Truncate(n int) {
	if n >= 0 && n <= len(v.items) {
		v.items = v.items[:n]
	}
}

// Items returns the live element slice. Callers must not grow it.
func (v *BoundedVec[T]) Items() []T { return v.items }

// Close releases the vector's budget token, if any.
func (v *BoundedVec[T]) Close() {
	v.token.Release()
	v.items = nil
}

// BoundedStack is a capacity-capped LIFO stack.
type BoundedStack[T any] struct {
	items []T
	peak  int
	token *budget.Token
}

// NewStack creates a stack holding at most capacity elements.
func NewStack[T any](capacity int) *BoundedStack[T] {
	return &BoundedStack[T]{items: make([]T, 0, capacity)}
}

// AcquireStack reserves capacity*elemBytes from the registry before
// allocating. The token is released by Close.
func AcquireStack[T any](reg *budget.Registry, crate budget.CrateID, capacity int, elemBytes uint64) (*BoundedStack[T], error) {
	token, err := reg.Acquire(crate, uint64(capacity)*elemBytes)
	if err != nil {
		return nil, err
	}
	return &BoundedStack[T]{items: make([]T, 0, capacity), token: token}, nil
}

func (s *BoundedStack[T]) Len() int  { return len(s.items) }
func (s *BoundedStack[T]) Cap() int  { return cap(s.items) }
func (s *BoundedStack[T]) Peak() int { return s.peak }

// Push appends an element, failing with CapacityExceeded when full.
func (s *BoundedStack[T]) Push(item T) error {
	if len(s.items) == cap(s.items) {
		return errors.CapacityExceeded(uint64(cap(s.items)))
	}
	s.items = append(s.items, item)
	if len(s.items) > s.peak {
		s.peak = len(s.items)
	}
	return nil
}

// Pop removes and returns the top element.
func (s *BoundedStack[T]) Pop() (T, error) {
	var zero T
	if len(s.items) == 0 {
		return zero, errors.ErrStackUnderflow
	}
	item := s.items[len(s.items)-1]
	s.items[len(s.items)-1] = zero
	s.items = s.items[:len(s.items)-1]
	return item, nil
}

// Top returns the top element without removing it.
func (s *BoundedStack[T]) Top() (T, error) {
	var zero T
	if len(s.items) == 0 {
		return zero, errors.ErrStackUnderflow
	}
	return s.items[len(s.items)-1], nil
}

// TopMut returns a pointer to the top element.
func (s *BoundedStack[T]) TopMut() (*T, error) {
	if len(s.items) == 0 {
		return nil, errors.ErrStackUnderflow
	}
	return &s.items[len(s.items)-1], nil
}

// At returns the element at depth i from the bottom.
func (s *BoundedStack[T]) At(i int) (T, error) {
	var zero T
	if i < 0 || i >= len(s.items) {
		return zero, errors.OutOfBounds(uint64(i), 1, uint64(len(s.items)))
	}
	return s.items[i], nil
}

// SetAt replaces the element at depth i from the bottom.
func (s *BoundedStack[T]) SetAt(i int, item T) error {
	if i < 0 || i >= len(s.items) {
		return errors.OutOfBounds(uint64(i), 1, uint64(len(s.items)))
	}
	s.items[i] = item
	return nil
}

// Truncate drops elements above depth n.
func (s *BoundedStack[T]) Truncate(n int) {
	if n >= 0 && n <= len(s.items) {
		var zero T
		for i := n; i < len(s.items); i++ {
			s.items[i] = zero
		}
		s.items = s.items[:n]
	}
}

// Items returns the live elements, bottom first. Callers must not
// grow the returned slice.
func (s *BoundedStack[T]) Items() []T { return s.items }

// Close releases the stack's budget token, if any.
func (s *BoundedStack[T]) Close() {
	s.token.Release()
	s.items = nil
}

// BoundedMap is a capacity-capped map. Inserting a new key into a full
// map fails; updating an existing key always succeeds.
type BoundedMap[K comparable, V any] struct {
	m        map[K]V
	capacity int
}

// NewMap creates a map holding at most capacity entries.
func NewMap[K comparable, V any](capacity int) *BoundedMap[K, V] {
	return &BoundedMap[K, V]{m: make(map[K]V, capacity), capacity: capacity}
}

func (b *BoundedMap[K, V]) Len() int { return len(b.m) }
func (b *BoundedMap[K, V]) Cap() int { return b.capacity }

// Put inserts or updates a key.
func (b *BoundedMap[K, V]) Put(key K, value V) error {
	if _, exists := b.m[key]; !exists && len(b.m) == b.capacity {
		return errors.CapacityExceeded(uint64(b.capacity))
	}
	b.m[key] = value
	return nil
}

// Get looks up a key.
func (b *BoundedMap[K, V]) Get(key K) (V, bool) {
	v, ok := b.m[key]
	return v, ok
}

// Delete removes a key if present.
func (b *BoundedMap[K, V]) Delete(key K) {
	delete(b.m, key)
}

// Each visits all entries until fn returns false.
func (b *BoundedMap[K, V]) Each(fn func(K, V) bool) {
	for k, v := range b.m {
		if !fn(k, v) {
			return
		}
	}
}
