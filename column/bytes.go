package column

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
)

// BytesVector holds one non-null byte sequence per position.
type BytesVector struct {
	values [][]byte
}

var _ BytesColumn = (*BytesVector)(nil)

// NewBytesVector wraps values without copying them.
func NewBytesVector(values ...[]byte) *BytesVector {
	return &BytesVector{values: values}
}

func (*BytesVector) ElementType() ElementType { return ElementBytes }
func (v *BytesVector) PositionCount() int { return len(v.values) }
func (*BytesVector) IsNull(int) bool { return false }
func (*BytesVector) MayHaveNulls() bool { return false }
func (*BytesVector) AreAllValuesNull() bool { return false }
func (v *BytesVector) Bytes(position int) []byte { return v.values[position] }

func (v *BytesVector) String() string {
	return fmt.Sprintf("BytesVector[positions=%d]", len(v.values))
}

// BytesBlock holds at most one byte sequence per position and tracks null
// positions.
type BytesBlock struct {
	values [][]byte
	nulls  *roaring.Bitmap
}

var _ BytesColumn = (*BytesBlock)(nil)

// NewBytesBlock returns a block of values where a nil entry is a null
// position.
func NewBytesBlock(values ...[]byte) *BytesBlock {
	nulls := roaring.New()
	for i, v := range values {
		if v == nil {
			nulls.Add(uint32(i))
		}
	}
	return &BytesBlock{values: values, nulls: nulls}
}

func (*BytesBlock) ElementType() ElementType { return ElementBytes }
func (b *BytesBlock) PositionCount() int { return len(b.values) }

func (b *BytesBlock) IsNull(position int) bool {
	checkPosition(position, len(b.values))
	return b.nulls.Contains(uint32(position))
}

func (b *BytesBlock) MayHaveNulls() bool { return !b.nulls.IsEmpty() }

func (b *BytesBlock) AreAllValuesNull() bool {
	return b.nulls.GetCardinality() == uint64(len(b.values))
}

// Bytes returns the value at position, nil if it is null.
func (b *BytesBlock) Bytes(position int) []byte { return b.values[position] }

func (b *BytesBlock) String() string {
	return fmt.Sprintf("BytesBlock[positions=%d nulls=%d]", len(b.values), b.nulls.GetCardinality())
}

// NullColumn is a column where every position is null.  It stands in for a
// column of any element type.
type NullColumn struct {
	positions int
	typ       ElementType
}

// NewNullColumn returns a column of n null positions of the given type.
func NewNullColumn(typ ElementType, n int) *NullColumn {
	return &NullColumn{positions: n, typ: typ}
}

func (c *NullColumn) ElementType() ElementType { return c.typ }
func (c *NullColumn) PositionCount() int { return c.positions }
func (*NullColumn) IsNull(int) bool { return true }
func (c *NullColumn) MayHaveNulls() bool { return c.positions > 0 }
func (*NullColumn) AreAllValuesNull() bool { return true }

func (c *NullColumn) String() string {
	return fmt.Sprintf("NullColumn[type=%s positions=%d]", c.typ, c.positions)
}
