package column

import (
	"fmt"
	"strings"
)

// Batch is an ordered set of columns with the same number of positions.  An
// aggregation reads the columns at its configured channel indexes.
type Batch struct {
	columns   []Column
	positions int
}

// NewBatch returns a batch of the given columns.  It panics if their position
// counts differ since that can only be a bug in whoever assembled the batch.
func NewBatch(columns ...Column) *Batch {
	positions := 0
	for i, c := range columns {
		if i == 0 {
			positions = c.PositionCount()
		} else if c.PositionCount() != positions {
			panic(fmt.Sprintf("column %d has %d positions, expected %d", i, c.PositionCount(), positions))
		}
	}
	return &Batch{columns: columns, positions: positions}
}

// Column returns the column at channel i.
func (b *Batch) Column(i int) Column {
	if i < 0 || i >= len(b.columns) {
		panic(fmt.Sprintf("channel %d out of range, batch has %d columns", i, len(b.columns)))
	}
	return b.columns[i]
}

// ColumnCount returns the number of columns.
func (b *Batch) ColumnCount() int { return len(b.columns) }

// PositionCount returns the number of rows shared by every column.
func (b *Batch) PositionCount() int { return b.positions }

func (b *Batch) String() string {
	var sb strings.Builder
	sb.WriteString("Batch[")
	for i, c := range b.columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%v", c)
	}
	sb.WriteString("]")
	return sb.String()
}
