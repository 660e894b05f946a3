package aggregator

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/segmentio/go-hll-agg/column"
	"github.com/segmentio/go-hll-agg/memory"
	"github.com/segmentio/go-hll-agg/state"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// CountDistinctInt64 estimates the number of distinct int64 values in the
// column at channels[0] over every batch it is given.
type CountDistinctInt64 struct {
	lifecycle
	dc        *DriverContext
	channels  []int
	precision int
	state     *state.SingleState
}

// NewCountDistinctInt64 creates an aggregator reading raw input from
// channels[0].  The sketch memory is reserved from tracker, which may be nil.
func NewCountDistinctInt64(dc *DriverContext, tracker memory.Tracker, channels []int, precision int) (*CountDistinctInt64, error) {
	if len(channels) == 0 {
		return nil, errors.New("count distinct requires an input channel")
	}
	s, err := state.NewSingle(tracker, precision)
	if err != nil {
		return nil, err
	}
	a := &CountDistinctInt64{
		dc:        dc,
		channels:  append([]int(nil), channels...),
		precision: precision,
		state:     s,
	}
	a.lifecycle.name = a.String
	return a, nil
}

// IntermediateColumnCount returns the number of columns EvaluateIntermediate
// writes.
func (a *CountDistinctInt64) IntermediateColumnCount() int {
	return IntermediateColumnCount()
}

// AddRawInput adds every non-null value of the input column.
func (a *CountDistinctInt64) AddRawInput(batch *column.Batch) error {
	a.accumulate("AddRawInput")
	values := int64Input(a.String(), batch, a.channels[0])
	if values == nil {
		return nil
	}
	if values.Shape() == column.ShapeVector {
		a.addRawVector(values)
	} else {
		a.addRawBlock(values)
	}
	return nil
}

func (a *CountDistinctInt64) addRawVector(values column.Int64Column) {
	for i := 0; i < values.PositionCount(); i++ {
		a.state.Combine(values.Int64(i))
	}
}

func (a *CountDistinctInt64) addRawBlock(values column.Int64Column) {
	for p := 0; p < values.PositionCount(); p++ {
		if values.IsNull(p) {
			continue
		}
		start := values.FirstValueIndex(p)
		end := start + values.ValueCount(p)
		for i := start; i < end; i++ {
			a.state.Combine(values.Int64(i))
		}
	}
}

// AddIntermediateInput merges the single sketch carried by an intermediate
// batch.
func (a *CountDistinctInt64) AddIntermediateInput(batch *column.Batch) error {
	a.accumulate("AddIntermediateInput")
	sketches := intermediateInput(a.String(), a.channels, batch)
	if sketches == nil {
		return nil
	}
	if n := sketches.PositionCount(); n != 1 {
		violation("%s: intermediate input has %d positions, expected 1", a, n)
	}
	return a.state.CombineIntermediate(sketches.Bytes(0))
}

// EvaluateIntermediate writes the encoded sketch to out[offset] as a one
// position bytes column.
func (a *CountDistinctInt64) EvaluateIntermediate(out []column.Column, offset int) error {
	a.evaluate("EvaluateIntermediate", false)
	checkOutput(a.String(), out, offset)
	out[offset] = a.dc.NewBytesVector(a.state.ToIntermediate())
	return nil
}

// EvaluateFinal writes the rounded estimate to out[offset] as a one position
// int64 column built by dc.
func (a *CountDistinctInt64) EvaluateFinal(out []column.Column, offset int, dc *DriverContext) error {
	a.evaluate("EvaluateFinal", true)
	checkOutput(a.String(), out, offset)
	out[offset] = dc.NewInt64Vector(a.state.Cardinality())
	return nil
}

func (a *CountDistinctInt64) String() string {
	return fmt.Sprintf("CountDistinctInt64[channels=%v]", a.channels)
}

// Close releases the sketch.  Closing twice is a no-op.
func (a *CountDistinctInt64) Close() error {
	if !a.lifecycle.close() {
		return nil
	}
	if ce := a.dc.Logger().Check(zap.DebugLevel, "closing aggregator"); ce != nil {
		ce.Write(
			zap.Stringer("aggregator", a),
			zap.Int("precision", a.precision),
			zap.Float64("estimate", a.state.EvaluateFinal()))
	}
	return a.state.Close()
}

// Run creates a CountDistinctInt64, hands it to fn and closes it when fn
// returns.  The errors of fn and Close are combined.
func Run(dc *DriverContext, tracker memory.Tracker, channels []int, precision int, fn func(*CountDistinctInt64) error) (err error) {
	a, err := NewCountDistinctInt64(dc, tracker, channels, precision)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, a.Close())
	}()
	return fn(a)
}
