package state

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/segmentio/go-hll-agg/hll"
	"github.com/segmentio/go-hll-agg/memory"
	"go.uber.org/multierr"
)

// GroupingState keeps one sketch per group id.  Sketches are allocated the
// first time a group receives a value so groups that never see input cost a
// nil slot only.
type GroupingState struct {
	tracker   memory.Tracker
	precision int
	sketches  []*hll.Sketch
	empty     []byte
	closed    bool
}

// NewGrouping creates an empty grouped state.  precision is validated up
// front so a bad plan fails before any input is consumed.
func NewGrouping(tracker memory.Tracker, precision int) (*GroupingState, error) {
	empty, err := hll.New(precision)
	if err != nil {
		return nil, err
	}
	return &GroupingState{tracker: tracker, precision: precision, empty: empty.ToBytes()}, nil
}

// Precision returns the precision of every sketch in the state.
func (g *GroupingState) Precision() int {
	return g.precision
}

// MaxGroupID returns the largest group id with an allocated slot, or -1.
func (g *GroupingState) MaxGroupID() int {
	return len(g.sketches) - 1
}

// sketch returns the sketch of groupID, allocating it if needed.  fresh is
// true when the sketch was allocated by this call.
func (g *GroupingState) sketch(groupID int) (s *hll.Sketch, fresh bool, err error) {
	if groupID < 0 {
		panic(fmt.Sprintf("negative group id %d", groupID))
	}
	if groupID >= len(g.sketches) {
		g.grow(groupID + 1)
	}
	if s = g.sketches[groupID]; s != nil {
		return s, false, nil
	}
	s, err = hll.NewWithTracker(g.tracker, g.precision)
	if err != nil {
		return nil, false, errors.Wrapf(err, "group %d", groupID)
	}
	g.sketches[groupID] = s
	return s, true, nil
}

func (g *GroupingState) grow(n int) {
	if n <= cap(g.sketches) {
		g.sketches = g.sketches[:n]
		return
	}
	c := 2 * cap(g.sketches)
	if c < n {
		c = n
	}
	sketches := make([]*hll.Sketch, n, c)
	copy(sketches, g.sketches)
	g.sketches = sketches
}

// lookup returns the sketch of groupID or nil if the group has none.
func (g *GroupingState) lookup(groupID int) *hll.Sketch {
	if groupID < 0 || groupID >= len(g.sketches) {
		return nil
	}
	return g.sketches[groupID]
}

// Combine hashes v and adds it to the sketch of groupID.  It fails only when
// the memory for a new sketch cannot be reserved.
func (g *GroupingState) Combine(groupID int, v int64) error {
	s, _, err := g.sketch(groupID)
	if err != nil {
		return err
	}
	s.AddInt64(v)
	return nil
}

// CombineIntermediate merges an encoded partial sketch into groupID.  On error
// the group is left as it was before the call.
func (g *GroupingState) CombineIntermediate(groupID int, encoded []byte) error {
	s, fresh, err := g.sketch(groupID)
	if err != nil {
		return err
	}
	if err := s.MergeBytes(encoded); err != nil {
		if fresh {
			s.Close()
			g.sketches[groupID] = nil
		}
		return errors.Wrapf(err, "group %d", groupID)
	}
	return nil
}

// CombineIntermediates merges encoded[i] into group groupIDs[i] for every i.
// All sketches are decoded and all missing groups allocated before any group
// is modified, so on error the state is unchanged.
func (g *GroupingState) CombineIntermediates(groupIDs []int, encoded [][]byte) error {
	if len(groupIDs) != len(encoded) {
		panic(fmt.Sprintf("%d group ids for %d sketches", len(groupIDs), len(encoded)))
	}
	for _, id := range groupIDs {
		if id < 0 {
			panic(fmt.Sprintf("negative group id %d", id))
		}
	}

	decoded := make([]*hll.Sketch, len(encoded))
	for i, b := range encoded {
		s, err := hll.FromBytes(b)
		if err != nil {
			return errors.Wrapf(err, "group %d", groupIDs[i])
		}
		if s.Precision() != g.precision {
			return errors.Wrapf(hll.ErrPrecisionMismatch, "group %d: cannot merge sketch with precision %d into sketch with precision %d", groupIDs[i], s.Precision(), g.precision)
		}
		decoded[i] = s
	}

	targets := make([]*hll.Sketch, len(groupIDs))
	var fresh []int
	for i, id := range groupIDs {
		s, isFresh, err := g.sketch(id)
		if err != nil {
			for _, f := range fresh {
				g.sketches[f].Close()
				g.sketches[f] = nil
			}
			return err
		}
		if isFresh {
			fresh = append(fresh, id)
		}
		targets[i] = s
	}

	for i, s := range targets {
		// precisions were checked while decoding
		if err := s.Merge(decoded[i]); err != nil {
			return err
		}
	}
	return nil
}

// CombineStates merges group otherGroupID of other into groupID.  A group that
// other never saw contributes nothing.
func (g *GroupingState) CombineStates(groupID int, other *GroupingState, otherGroupID int) error {
	if other.precision != g.precision {
		return errors.Wrapf(hll.ErrPrecisionMismatch, "cannot merge grouped state with precision %d into grouped state with precision %d", other.precision, g.precision)
	}
	src := other.lookup(otherGroupID)
	if src == nil {
		return nil
	}
	s, _, err := g.sketch(groupID)
	if err != nil {
		return err
	}
	return s.Merge(src)
}

// ToIntermediate encodes the sketch of groupID.  A group that never received
// input encodes as an empty sketch.
func (g *GroupingState) ToIntermediate(groupID int) []byte {
	if s := g.lookup(groupID); s != nil {
		return s.ToBytes()
	}
	return append([]byte(nil), g.empty...)
}

// EvaluateFinal returns the estimate of groupID, zero for an unseen group.
func (g *GroupingState) EvaluateFinal(groupID int) float64 {
	if s := g.lookup(groupID); s != nil {
		return s.Estimate()
	}
	return 0
}

// Cardinality returns the rounded estimate of groupID.
func (g *GroupingState) Cardinality(groupID int) int64 {
	return roundEstimate(g.EvaluateFinal(groupID))
}

// Close releases the memory of every sketch.
func (g *GroupingState) Close() error {
	if g.closed {
		return errClosed
	}
	g.closed = true
	var err error
	for i, s := range g.sketches {
		if s == nil {
			continue
		}
		err = multierr.Append(err, closeSketch(i, s))
	}
	g.sketches = nil
	return err
}

// closeSketch turns a panic from an over-released tracker into an error so
// that one bad group does not keep the others from being released.
func closeSketch(groupID int, s *hll.Sketch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("closing group %d: %v", groupID, r)
		}
	}()
	s.Close()
	return nil
}
