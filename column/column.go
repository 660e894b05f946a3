// Package column is the narrow columnar batch contract that aggregations
// consume: int64 columns in a dense vector shape or a null-aware, multi-valued
// block shape, columns of opaque byte sequences, and batches that group
// columns of equal length.
//
// Null positions are tracked in roaring bitmaps so that the "all values null"
// check never has to iterate.
package column

import (
	"fmt"
)

// ElementType names the type of the values held by a column.
type ElementType int

const (
	ElementNull ElementType = iota
	ElementInt64
	ElementBytes
)

func (e ElementType) String() string {
	switch e {
	case ElementNull:
		return "NULL"
	case ElementInt64:
		return "INT64"
	case ElementBytes:
		return "BYTES"
	}
	return fmt.Sprintf("ElementType(%d)", int(e))
}

// Shape tells consumers how to iterate an Int64Column.  It is resolved once
// per batch.
type Shape int

const (
	// ShapeVector columns have exactly one non-null value per position.
	ShapeVector Shape = iota
	// ShapeBlock columns may have null positions and positions holding
	// several values.
	ShapeBlock
)

func (s Shape) String() string {
	if s == ShapeVector {
		return "vector"
	}
	return "block"
}

// Column is implemented by every column.
type Column interface {
	ElementType() ElementType

	// PositionCount is the number of rows in the column.
	PositionCount() int

	// IsNull reports whether the row at position has no value.
	IsNull(position int) bool

	// MayHaveNulls is false when IsNull is known to be false everywhere.
	MayHaveNulls() bool

	// AreAllValuesNull is true when no position holds a value.  It does not
	// iterate the column.
	AreAllValuesNull() bool
}

// Int64Column is a column of 64 bit integers.  Values of position p are
// Int64(i) for i in [FirstValueIndex(p), FirstValueIndex(p)+ValueCount(p)).
type Int64Column interface {
	Column
	Shape() Shape
	FirstValueIndex(position int) int
	ValueCount(position int) int
	Int64(i int) int64
}

// BytesColumn is a column holding at most one byte sequence per position.
type BytesColumn interface {
	Column
	Bytes(position int) []byte
}

// checkPosition panics if position is outside of [0, n).
func checkPosition(position, n int) {
	if position < 0 || position >= n {
		panic(fmt.Sprintf("position %d out of range [0, %d)", position, n))
	}
}
