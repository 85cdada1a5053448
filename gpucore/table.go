package gpucore

import (
	"errors"
	"sync"
)

// Resource table errors.
var (
	// ErrUnknownResource is returned for IDs that were never issued or
	// have been destroyed.
	ErrUnknownResource = errors.New("gpucore: unknown or destroyed resource")

	// ErrInvalidResource is returned for IDs issued by a failed creation.
	ErrInvalidResource = errors.New("gpucore: invalid resource")
)

type slot[T any] struct {
	value T
	valid bool
}

// Table maps opaque IDs to backend resources, including the error objects
// produced by failed creations. IDs start at 1 and are never reused.
//
// The zero value is ready to use. It is safe for concurrent use.
type Table[T any] struct {
	mu    sync.Mutex
	next  uint64
	slots map[uint64]slot[T]
}

func (t *Table[T]) insert(s slot[T]) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.slots == nil {
		t.slots = make(map[uint64]slot[T])
	}
	t.next++
	t.slots[t.next] = s
	return t.next
}

// Insert stores v and returns its new ID.
func (t *Table[T]) Insert(v T) uint64 {
	return t.insert(slot[T]{value: v, valid: true})
}

// InsertInvalid allocates an ID for an error object.
func (t *Table[T]) InsertInvalid() uint64 {
	return t.insert(slot[T]{})
}

// Get returns the resource for id. It fails with ErrInvalidResource for
// error objects and ErrUnknownResource for IDs not in the table.
func (t *Table[T]) Get(id uint64) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[id]
	if !ok {
		var zero T
		return zero, ErrUnknownResource
	}
	if !s.valid {
		var zero T
		return zero, ErrInvalidResource
	}
	return s.value, nil
}

// Remove deletes id and returns its resource. ok is false when the ID was
// unknown or referred to an error object.
func (t *Table[T]) Remove(id uint64) (v T, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, found := t.slots[id]
	if !found {
		return v, false
	}
	delete(t.slots, id)
	return s.value, s.valid
}

// Drain removes every valid resource and returns them in no particular order.
func (t *Table[T]) Drain() []T {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]T, 0, len(t.slots))
	for id, s := range t.slots {
		if s.valid {
			out = append(out, s.value)
		}
		delete(t.slots, id)
	}
	return out
}

// Len returns the number of IDs in the table, error objects included.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
