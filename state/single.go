// Package state holds the per-aggregation accumulators behind approximate
// distinct counts: a single sketch for ungrouped aggregations and an arena of
// sketches indexed by group id for grouped ones.  States own their sketches
// and the memory reserved for them until Close.
package state

import (
	"math"

	"github.com/pkg/errors"
	"github.com/segmentio/go-hll-agg/hll"
	"github.com/segmentio/go-hll-agg/memory"
)

// errClosed is returned by Close when the state was already closed.
var errClosed = errors.New("state already closed")

// SingleState accumulates one sketch.  It is owned by a single aggregator and
// is not safe for concurrent use.
type SingleState struct {
	sketch *hll.Sketch
}

// NewSingle creates a state with an empty sketch of the given precision whose
// registers are reserved from tracker.
func NewSingle(tracker memory.Tracker, precision int) (*SingleState, error) {
	sketch, err := hll.NewWithTracker(tracker, precision)
	if err != nil {
		return nil, err
	}
	return &SingleState{sketch: sketch}, nil
}

// Combine hashes v and adds it to the sketch.
func (s *SingleState) Combine(v int64) {
	s.sketch.AddInt64(v)
}

// CombineIntermediate merges an encoded partial sketch.  On error the state is
// unchanged.
func (s *SingleState) CombineIntermediate(encoded []byte) error {
	return s.sketch.MergeBytes(encoded)
}

// CombineState merges the sketch of another state into this one.
func (s *SingleState) CombineState(other *SingleState) error {
	return s.sketch.Merge(other.sketch)
}

// ToIntermediate encodes the sketch.  It may be called any number of times.
func (s *SingleState) ToIntermediate() []byte {
	return s.sketch.ToBytes()
}

// EvaluateFinal returns the current estimate.
func (s *SingleState) EvaluateFinal() float64 {
	return s.sketch.Estimate()
}

// Cardinality returns the estimate rounded to the nearest integer.
func (s *SingleState) Cardinality() int64 {
	return roundEstimate(s.sketch.Estimate())
}

// Precision returns the precision of the sketch.
func (s *SingleState) Precision() int {
	return s.sketch.Precision()
}

// Close returns the register memory to the tracker.
func (s *SingleState) Close() error {
	if s.sketch == nil {
		return errClosed
	}
	s.sketch.Close()
	s.sketch = nil
	return nil
}

// roundEstimate rounds half away from zero and saturates at the largest int64.
func roundEstimate(estimate float64) int64 {
	r := math.Round(estimate)
	if r >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(r)
}
