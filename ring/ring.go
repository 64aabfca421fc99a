// Package ring implements a fixed-capacity ring buffer: a bounded,
// allocation-stable sequence that evicts its oldest element instead of
// growing when appended past capacity. It is the sliding-window container
// behind the metrics store, but stands alone as a library.
//
// The buffer is represented by one storage slice and two wrap-aware
// positions, start and end. Fullness is derived from the end position's
// wrapped flag; there is no separate element counter to fall out of sync.
//
// The core is not safe for concurrent use. Callers that share a buffer
// across goroutines synchronize around it, and copies made with Clone are
// fully independent.
package ring

import (
	"fmt"
	"iter"
)

// Buffer holds the last Cap() appended elements of type T, oldest first.
//
// Plain struct assignment aliases the underlying storage; use Clone when an
// independent copy is needed.
type Buffer[T any] struct {
	slots []T
	start Position
	end   Position
}

// New returns an empty buffer holding at most capacity elements.
// Capacities below 2 fail with ErrInvalidCapacity.
func New[T any](capacity int) (*Buffer[T], error) {
	if capacity < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	bound := capacity - 1
	return &Buffer[T]{
		slots: make([]T, capacity),
		start: Position{bound: bound, role: Start},
		end:   Position{bound: bound, role: End},
	}, nil
}

// FromSlice returns an already-full buffer whose capacity and contents are
// those of elems, oldest first. The slice is copied, never aliased. Fewer
// than two elements fail with ErrInvalidCapacity.
func FromSlice[T any](elems []T) (*Buffer[T], error) {
	b, err := New[T](len(elems))
	if err != nil {
		return nil, err
	}
	copy(b.slots, elems)
	b.end.wrapped = true
	return b, nil
}

// Repeating returns a full buffer of count copies of value. Counts below 2
// fail with ErrInvalidCapacity.
func Repeating[T any](value T, count int) (*Buffer[T], error) {
	b, err := New[T](count)
	if err != nil {
		return nil, err
	}
	for i := range b.slots {
		b.slots[i] = value
	}
	b.end.wrapped = true
	return b, nil
}

// Append writes v as the newest element, evicting the oldest when the buffer
// is already full. It never fails and allocates nothing.
func (b *Buffer[T]) Append(v T) {
	full := b.end.wrapped
	b.slots[b.end.offset] = v
	b.end = b.end.Next()
	if full {
		// Once full, start advances in lock-step with end so the window
		// keeps exactly Cap() elements.
		b.start = b.start.Next()
	}
}

// Len returns the number of elements currently held. It is derived from the
// end position: capacity once end has wrapped, its raw offset before that.
func (b *Buffer[T]) Len() int {
	if b.end.wrapped {
		return len(b.slots)
	}
	return b.end.offset
}

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int { return len(b.slots) }

// Start returns the position of the oldest element.
func (b *Buffer[T]) Start() Position { return b.start }

// End returns the position just past the newest element.
func (b *Buffer[T]) End() Position { return b.end }

// Valid reports whether p addresses a populated slot of b: any slot once the
// buffer is full, otherwise only offsets below end's. Positions carrying a
// different capacity bound never validate.
func (b *Buffer[T]) Valid(p Position) bool {
	if p.bound != len(b.slots)-1 || p.offset < 0 {
		return false
	}
	if b.end.wrapped {
		return p.offset < len(b.slots)
	}
	return p.offset < b.end.offset
}

// Get returns the element stored at p, or ErrInvalidPosition when p does not
// address a populated slot.
func (b *Buffer[T]) Get(p Position) (T, error) {
	if !b.Valid(p) {
		var zero T
		return zero, fmt.Errorf("%w: offset %d", ErrInvalidPosition, p.offset)
	}
	return b.slots[p.offset], nil
}

// At returns the element at logical offset i, where 0 is the oldest element
// and Len()-1 the newest. Out-of-range offsets fail with ErrInvalidPosition.
func (b *Buffer[T]) At(i int) (T, error) {
	if i < 0 || i >= b.Len() {
		var zero T
		return zero, fmt.Errorf("%w: logical offset %d with %d elements", ErrInvalidPosition, i, b.Len())
	}
	return b.slots[(b.start.offset+i)%len(b.slots)], nil
}

// All returns a forward, oldest-first traversal of the logical contents.
// Each call is an independent traversal and never mutates the buffer.
//
// Termination is the offset-only position equality: yield the element under
// the cursor, step it, stop once it lands on end's offset. That single rule
// both stops a partially-filled pass and keeps a fully-wrapped buffer from
// cycling forever.
func (b *Buffer[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		if b.Len() == 0 {
			return
		}
		pos := b.start
		for {
			if !yield(b.slots[pos.offset]) {
				return
			}
			pos = pos.Next()
			if pos.Equal(b.end) {
				return
			}
		}
	}
}

// Values returns the logical contents as a fresh slice, oldest first.
func (b *Buffer[T]) Values() []T {
	out := make([]T, 0, b.Len())
	for v := range b.All() {
		out = append(out, v)
	}
	return out
}

// Clone returns an independent copy: same capacity, positions, and contents,
// with its own storage. Mutating either buffer is never visible through the
// other.
func (b *Buffer[T]) Clone() *Buffer[T] {
	slots := make([]T, len(b.slots))
	copy(slots, b.slots)
	return &Buffer[T]{slots: slots, start: b.start, end: b.end}
}

// String renders the raw physical storage, delegating element rendering to
// the element type. Slots not yet logically populated show their zero value.
func (b *Buffer[T]) String() string {
	return fmt.Sprint(b.slots)
}

// Equal reports whether a and b hold the same logical sequence. Physical
// layout, wrap state, and even capacity do not matter, only the iterated
// contents and their length.
func Equal[T comparable](a, b *Buffer[T]) bool {
	return EqualFunc(a, b, func(x, y T) bool { return x == y })
}

// EqualFunc is Equal for element types without ==, comparing pairwise with eq.
func EqualFunc[T any](a, b *Buffer[T], eq func(T, T) bool) bool {
	if a.Len() != b.Len() {
		return false
	}
	next, stop := iter.Pull(b.All())
	defer stop()
	for v := range a.All() {
		w, ok := next()
		if !ok || !eq(v, w) {
			return false
		}
	}
	return true
}
