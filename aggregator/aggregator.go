// Package aggregator adapts the distinct count states to the columnar
// aggregation contract: raw input arrives as batches of int64 columns,
// partial results travel between partitions as a single bytes column and the
// final result is an int64 column.
//
// An aggregator is owned by one goroutine.  Its lifecycle is Created,
// Accumulating, Finalized and Closed.  Accumulating after a final evaluation or
// using an aggregator after Close is a bug in the caller and panics with an
// error wrapping ErrContractViolation.
package aggregator

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/segmentio/go-hll-agg/column"
	"go.uber.org/zap"
)

// ErrContractViolation signals that the caller broke the aggregation contract,
// for instance by passing an intermediate batch of the wrong arity.
var ErrContractViolation = errors.New("aggregation contract violation")

// StateDesc names and types one column of the intermediate state.
type StateDesc struct {
	Name string
	Type column.ElementType
}

var intermediateStateDesc = []StateDesc{{Name: "hll", Type: column.ElementBytes}}

// IntermediateStateDesc describes the columns produced by EvaluateIntermediate
// and consumed by AddIntermediateInput.
func IntermediateStateDesc() []StateDesc {
	desc := make([]StateDesc, len(intermediateStateDesc))
	copy(desc, intermediateStateDesc)
	return desc
}

// IntermediateColumnCount is len(IntermediateStateDesc()).
func IntermediateColumnCount() int {
	return len(intermediateStateDesc)
}

// DriverContext is the execution context a driver lends to the aggregators it
// runs.  Aggregators use it to build their output columns and to log.  Sketch
// memory is accounted for by the tracker passed to each constructor.
type DriverContext struct {
	logger *zap.Logger
}

// NewDriverContext returns a context logging to logger.  A nil logger is
// replaced by a no-op logger.
func NewDriverContext(logger *zap.Logger) *DriverContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DriverContext{logger: logger}
}

func (dc *DriverContext) Logger() *zap.Logger { return dc.logger }

// NewInt64Vector builds an output column of values.
func (dc *DriverContext) NewInt64Vector(values ...int64) *column.Int64Vector {
	return column.NewInt64Vector(values...)
}

// NewBytesVector builds an output column of values.
func (dc *DriverContext) NewBytesVector(values ...[]byte) *column.BytesVector {
	return column.NewBytesVector(values...)
}

type phase int

const (
	created phase = iota
	accumulating
	finalized
	closed
)

func (p phase) String() string {
	switch p {
	case created:
		return "created"
	case accumulating:
		return "accumulating"
	case finalized:
		return "finalized"
	case closed:
		return "closed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// lifecycle enforces the phase transitions shared by every aggregator.
type lifecycle struct {
	name  func() string
	phase phase
}

func (l *lifecycle) accumulate(op string) {
	switch l.phase {
	case created:
		l.phase = accumulating
	case accumulating:
	default:
		violation("%s: %s while %s", l.name(), op, l.phase)
	}
}

func (l *lifecycle) evaluate(op string, final bool) {
	if l.phase == closed {
		violation("%s: %s while %s", l.name(), op, l.phase)
	}
	if final {
		l.phase = finalized
	}
}

// close returns false if the aggregator was already closed.
func (l *lifecycle) close() bool {
	if l.phase == closed {
		return false
	}
	l.phase = closed
	return true
}

func violation(format string, args ...interface{}) {
	panic(errors.Wrapf(ErrContractViolation, format, args...))
}

// checkOutput panics unless offset addresses a slot of out.
func checkOutput(name string, out []column.Column, offset int) {
	if offset < 0 || offset >= len(out) {
		violation("%s: output offset %d out of range for %d columns", name, offset, len(out))
	}
}

// int64Input returns the column at channel of batch, or nil when every value
// is null.
func int64Input(name string, batch *column.Batch, channel int) column.Int64Column {
	c := batch.Column(channel)
	if c.AreAllValuesNull() {
		return nil
	}
	ints, ok := c.(column.Int64Column)
	if !ok {
		violation("%s: channel %d holds %s values, expected %s", name, channel, c.ElementType(), column.ElementInt64)
	}
	return ints
}

// intermediateInput checks the shape of an intermediate batch and returns its
// sketch column, or nil when every position is null.
func intermediateInput(name string, channels []int, batch *column.Batch) column.BytesColumn {
	if len(channels) != IntermediateColumnCount() {
		violation("%s: %d channels for %d intermediate columns", name, len(channels), IntermediateColumnCount())
	}
	if batch.ColumnCount() < channels[0]+IntermediateColumnCount() {
		violation("%s: batch has %d columns, intermediate state starts at channel %d", name, batch.ColumnCount(), channels[0])
	}
	c := batch.Column(channels[0])
	if c.AreAllValuesNull() {
		return nil
	}
	sketches, ok := c.(column.BytesColumn)
	if !ok {
		violation("%s: channel %d holds %s values, expected %s", name, channels[0], c.ElementType(), column.ElementBytes)
	}
	return sketches
}
