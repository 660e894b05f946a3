package aggregator

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/segmentio/go-hll-agg/column"
	"github.com/segmentio/go-hll-agg/memory"
	"github.com/segmentio/go-hll-agg/state"
	"go.uber.org/zap"
)

// GroupingCountDistinctInt64 estimates distinct int64 counts per group.  Each
// call pairs a batch with a vector of group ids, one per position.
type GroupingCountDistinctInt64 struct {
	lifecycle
	dc        *DriverContext
	channels  []int
	precision int
	state     *state.GroupingState
}

// NewGroupingCountDistinctInt64 creates a grouped aggregator reading raw input
// from channels[0].
func NewGroupingCountDistinctInt64(dc *DriverContext, tracker memory.Tracker, channels []int, precision int) (*GroupingCountDistinctInt64, error) {
	if len(channels) == 0 {
		return nil, errors.New("count distinct requires an input channel")
	}
	s, err := state.NewGrouping(tracker, precision)
	if err != nil {
		return nil, err
	}
	a := &GroupingCountDistinctInt64{
		dc:        dc,
		channels:  append([]int(nil), channels...),
		precision: precision,
		state:     s,
	}
	a.lifecycle.name = a.String
	return a, nil
}

func (a *GroupingCountDistinctInt64) IntermediateColumnCount() int {
	return IntermediateColumnCount()
}

func (a *GroupingCountDistinctInt64) checkGroups(groups *column.Int64Vector, batch *column.Batch) {
	if groups.PositionCount() != batch.PositionCount() {
		violation("%s: %d group ids for %d positions", a, groups.PositionCount(), batch.PositionCount())
	}
}

// AddRawInput adds the non-null values of position i to group groups[i].
func (a *GroupingCountDistinctInt64) AddRawInput(groups *column.Int64Vector, batch *column.Batch) error {
	a.accumulate("AddRawInput")
	a.checkGroups(groups, batch)
	values := int64Input(a.String(), batch, a.channels[0])
	if values == nil {
		return nil
	}
	vector := values.Shape() == column.ShapeVector
	for p := 0; p < values.PositionCount(); p++ {
		group := int(groups.Int64(p))
		if vector {
			if err := a.state.Combine(group, values.Int64(p)); err != nil {
				return err
			}
			continue
		}
		if values.IsNull(p) {
			continue
		}
		start := values.FirstValueIndex(p)
		end := start + values.ValueCount(p)
		for i := start; i < end; i++ {
			if err := a.state.Combine(group, values.Int64(i)); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddIntermediateInput merges the sketch at position i into group groups[i].
// Either every sketch of the batch is merged or, on error, none is.
func (a *GroupingCountDistinctInt64) AddIntermediateInput(groups *column.Int64Vector, batch *column.Batch) error {
	a.accumulate("AddIntermediateInput")
	a.checkGroups(groups, batch)
	sketches := intermediateInput(a.String(), a.channels, batch)
	if sketches == nil {
		return nil
	}
	ids := make([]int, 0, sketches.PositionCount())
	encoded := make([][]byte, 0, sketches.PositionCount())
	for p := 0; p < sketches.PositionCount(); p++ {
		if sketches.IsNull(p) {
			continue
		}
		ids = append(ids, int(groups.Int64(p)))
		encoded = append(encoded, sketches.Bytes(p))
	}
	return a.state.CombineIntermediates(ids, encoded)
}

// EvaluateIntermediate writes the encoded sketch of every selected group to
// out[offset], one position per group.
func (a *GroupingCountDistinctInt64) EvaluateIntermediate(out []column.Column, offset int, selected []int) error {
	a.evaluate("EvaluateIntermediate", false)
	checkOutput(a.String(), out, offset)
	values := make([][]byte, len(selected))
	for i, group := range selected {
		values[i] = a.state.ToIntermediate(group)
	}
	out[offset] = a.dc.NewBytesVector(values...)
	return nil
}

// EvaluateFinal writes the rounded estimate of every selected group to
// out[offset].
func (a *GroupingCountDistinctInt64) EvaluateFinal(out []column.Column, offset int, selected []int, dc *DriverContext) error {
	a.evaluate("EvaluateFinal", true)
	checkOutput(a.String(), out, offset)
	values := make([]int64, len(selected))
	for i, group := range selected {
		values[i] = a.state.Cardinality(group)
	}
	out[offset] = dc.NewInt64Vector(values...)
	return nil
}

func (a *GroupingCountDistinctInt64) String() string {
	return fmt.Sprintf("GroupingCountDistinctInt64[channels=%v]", a.channels)
}

// Close releases every group's sketch.  Closing twice is a no-op.
func (a *GroupingCountDistinctInt64) Close() error {
	if !a.lifecycle.close() {
		return nil
	}
	a.dc.Logger().Debug("closing aggregator",
		zap.Stringer("aggregator", a),
		zap.Int("precision", a.precision),
		zap.Int("groups", a.state.MaxGroupID()+1))
	return a.state.Close()
}
