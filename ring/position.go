package ring

// Role marks which logical endpoint of a buffer a Position represents.
type Role uint8

const (
	// Start addresses the oldest logical element.
	Start Role = iota

	// End addresses the slot just past the newest logical element.
	End
)

// Position is one logical endpoint of a buffer: a raw offset into physical
// storage, the storage bound it wraps at, the endpoint it plays, and whether
// it has wrapped past the physical end at least once. Positions only advance,
// one step at a time, via Next.
//
// Two positions are only meaningfully compared when they belong to the same
// buffer (share the same bound).
type Position struct {
	offset  int
	bound   int
	role    Role
	wrapped bool
}

// Offset returns the raw offset into physical storage.
func (p Position) Offset() int { return p.offset }

// Role returns the endpoint this position represents.
func (p Position) Role() Role { return p.role }

// Wrapped reports whether this position has ever advanced past the physical
// end of storage. Once set it stays set.
func (p Position) Wrapped() bool { return p.wrapped }

// Next returns the position one step forward, wrapping to offset 0 (and
// latching the wrapped flag) when the step would pass the bound.
func (p Position) Next() Position {
	if p.offset+1 > p.bound {
		return Position{offset: 0, bound: p.bound, role: p.role, wrapped: true}
	}
	return Position{offset: p.offset + 1, bound: p.bound, role: p.role, wrapped: p.wrapped}
}

// Equal reports whether p and q address the same physical slot. Role and the
// wrapped flag are deliberately ignored: a Start and an End at the same
// offset are "the same place" for traversal-termination purposes even though
// Compare orders them apart.
func (p Position) Equal(q Position) bool {
	return p.offset == q.offset
}

// Compare orders p against q, returning -1, 0, or +1. Positions with
// different roles order by role alone (Start before End, whatever the
// offsets, so the oldest element precedes the end-of-sequence marker even
// when both sit on the same slot of an empty or full buffer). Positions
// sharing a role order by offset.
func (p Position) Compare(q Position) int {
	if p.role != q.role {
		if p.role == Start {
			return -1
		}
		return 1
	}
	switch {
	case p.offset < q.offset:
		return -1
	case p.offset > q.offset:
		return 1
	}
	return 0
}
