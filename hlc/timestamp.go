// Package hlc implements a Hybrid Logical Clock timestamp: a (wall, logical)
// pair with a total order, used to assign a serial order to transactions.
package hlc

import "fmt"

// Timestamp is a Hybrid Logical Clock value. Wall is a physical clock
// reading (whatever unit the caller advances it in); Logical disambiguates
// events that share a Wall value.
type Timestamp struct {
	Wall    uint64
	Logical uint32
}

// New constructs a Timestamp from its two components.
func New(wall uint64, logical uint32) Timestamp {
	return Timestamp{Wall: wall, Logical: logical}
}

// Less reports whether t sorts strictly before other: Wall first, Logical
// breaks ties.
func (t Timestamp) Less(other Timestamp) bool {
	if t.Wall != other.Wall {
		return t.Wall < other.Wall
	}
	return t.Logical < other.Logical
}

// LessEq reports t <= other.
func (t Timestamp) LessEq(other Timestamp) bool {
	return t == other || t.Less(other)
}

// Greater reports t > other.
func (t Timestamp) Greater(other Timestamp) bool {
	return other.Less(t)
}

// GreaterEq reports t >= other.
func (t Timestamp) GreaterEq(other Timestamp) bool {
	return t == other || other.Less(t)
}

// NextLogical returns the timestamp immediately after t in HLC order,
// obtained by incrementing the logical counter without touching Wall.
func (t Timestamp) NextLogical() Timestamp {
	return Timestamp{Wall: t.Wall, Logical: t.Logical + 1}
}

// AdvanceBy returns a timestamp with Wall moved forward by step and the
// logical counter reset.
func (t Timestamp) AdvanceBy(step uint64) Timestamp {
	return Timestamp{Wall: t.Wall + step, Logical: 0}
}

// Max returns whichever of a, b sorts later.
func Max(a, b Timestamp) Timestamp {
	if a.Less(b) {
		return b
	}
	return a
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%d", t.Wall, t.Logical)
}
