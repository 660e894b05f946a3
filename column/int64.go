package column

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
)

// Int64Vector is the dense shape: one non-null value per position.
type Int64Vector struct {
	values []int64
}

var _ Int64Column = (*Int64Vector)(nil)

// NewInt64Vector wraps values without copying them.
func NewInt64Vector(values ...int64) *Int64Vector {
	return &Int64Vector{values: values}
}

// NewConstantInt64Vector returns a vector with n copies of value.
func NewConstantInt64Vector(value int64, n int) *Int64Vector {
	values := make([]int64, n)
	for i := range values {
		values[i] = value
	}
	return &Int64Vector{values: values}
}

func (*Int64Vector) ElementType() ElementType { return ElementInt64 }
func (*Int64Vector) Shape() Shape { return ShapeVector }
func (v *Int64Vector) PositionCount() int { return len(v.values) }
func (*Int64Vector) IsNull(int) bool { return false }
func (*Int64Vector) MayHaveNulls() bool { return false }
func (v *Int64Vector) AreAllValuesNull() bool { return false }
func (*Int64Vector) FirstValueIndex(position int) int { return position }
func (*Int64Vector) ValueCount(int) int { return 1 }
func (v *Int64Vector) Int64(i int) int64 { return v.values[i] }

// Values returns the backing slice.
func (v *Int64Vector) Values() []int64 { return v.values }

func (v *Int64Vector) String() string {
	return fmt.Sprintf("Int64Vector[positions=%d]", len(v.values))
}

// Int64Block is the general shape: positions may be null or hold any number
// of values.  offsets has PositionCount()+1 entries; the values of position p
// are values[offsets[p]:offsets[p+1]].
type Int64Block struct {
	values  []int64
	offsets []int32
	nulls   *roaring.Bitmap
}

var _ Int64Column = (*Int64Block)(nil)

func (*Int64Block) ElementType() ElementType { return ElementInt64 }
func (*Int64Block) Shape() Shape { return ShapeBlock }
func (b *Int64Block) PositionCount() int { return len(b.offsets) - 1 }

func (b *Int64Block) IsNull(position int) bool {
	checkPosition(position, b.PositionCount())
	return b.nulls.Contains(uint32(position))
}

func (b *Int64Block) MayHaveNulls() bool {
	return !b.nulls.IsEmpty()
}

func (b *Int64Block) AreAllValuesNull() bool {
	return b.nulls.GetCardinality() == uint64(b.PositionCount())
}

func (b *Int64Block) FirstValueIndex(position int) int {
	return int(b.offsets[position])
}

func (b *Int64Block) ValueCount(position int) int {
	return int(b.offsets[position+1] - b.offsets[position])
}

func (b *Int64Block) Int64(i int) int64 { return b.values[i] }

// TotalValueCount is the number of values across all positions.
func (b *Int64Block) TotalValueCount() int { return len(b.values) }

func (b *Int64Block) String() string {
	return fmt.Sprintf("Int64Block[positions=%d values=%d nulls=%d]", b.PositionCount(), len(b.values), b.nulls.GetCardinality())
}

// Int64BlockBuilder assembles an Int64Block position by position.
type Int64BlockBuilder struct {
	values  []int64
	offsets []int32
	nulls   *roaring.Bitmap
	inEntry bool
}

// NewInt64BlockBuilder returns a builder with room for positions rows.
func NewInt64BlockBuilder(positions int) *Int64BlockBuilder {
	offsets := make([]int32, 1, positions+1)
	return &Int64BlockBuilder{
		values:  make([]int64, 0, positions),
		offsets: offsets,
		nulls:   roaring.New(),
	}
}

// AppendInt64 appends a position holding a single value.  Inside
// BeginPositionEntry/EndPositionEntry it appends a value to the open position.
func (b *Int64BlockBuilder) AppendInt64(value int64) *Int64BlockBuilder {
	b.values = append(b.values, value)
	if !b.inEntry {
		b.offsets = append(b.offsets, int32(len(b.values)))
	}
	return b
}

// AppendNull appends a null position.
func (b *Int64BlockBuilder) AppendNull() *Int64BlockBuilder {
	if b.inEntry {
		panic("AppendNull inside a position entry")
	}
	b.nulls.Add(uint32(len(b.offsets) - 1))
	b.offsets = append(b.offsets, int32(len(b.values)))
	return b
}

// BeginPositionEntry opens a multi-valued position.
func (b *Int64BlockBuilder) BeginPositionEntry() *Int64BlockBuilder {
	if b.inEntry {
		panic("position entry already open")
	}
	b.inEntry = true
	return b
}

// EndPositionEntry closes the position opened by BeginPositionEntry.  A
// position without values is recorded as null.
func (b *Int64BlockBuilder) EndPositionEntry() *Int64BlockBuilder {
	if !b.inEntry {
		panic("no open position entry")
	}
	b.inEntry = false
	if int(b.offsets[len(b.offsets)-1]) == len(b.values) {
		b.nulls.Add(uint32(len(b.offsets) - 1))
	}
	b.offsets = append(b.offsets, int32(len(b.values)))
	return b
}

// PositionCount is the number of positions appended so far.
func (b *Int64BlockBuilder) PositionCount() int {
	return len(b.offsets) - 1
}

// Build returns the block.  The builder must not be used afterwards.
func (b *Int64BlockBuilder) Build() *Int64Block {
	if b.inEntry {
		panic("Build with an open position entry")
	}
	b.nulls.RunOptimize()
	return &Int64Block{values: b.values, offsets: b.offsets, nulls: b.nulls}
}
