package aggregator

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/segmentio/go-hll-agg/column"
	"github.com/segmentio/go-hll-agg/hll"
	"github.com/segmentio/go-hll-agg/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGroupingAggregator(t testing.TB, dc *DriverContext, tracker memory.Tracker, precision int) *GroupingCountDistinctInt64 {
	a, err := NewGroupingCountDistinctInt64(dc, tracker, []int{0}, precision)
	require.NoError(t, err)
	return a
}

func Test_GroupingCountDistinctInt64(t *testing.T) {
	dc := NewDriverContext(nil)
	a := newGroupingAggregator(t, dc, nil, 12)
	defer a.Close()

	b := column.NewInt64BlockBuilder(6)
	b.AppendInt64(1)
	b.AppendInt64(1)
	b.AppendNull()
	b.BeginPositionEntry().AppendInt64(2).AppendInt64(3).EndPositionEntry()
	b.AppendInt64(4)
	b.AppendInt64(5)
	groups := column.NewInt64Vector(0, 0, 1, 0, 2, 2)

	require.NoError(t, a.AddRawInput(groups, column.NewBatch(b.Build())))
	require.NoError(t, a.AddRawInput(column.NewInt64Vector(3), column.NewBatch(column.NewInt64Vector(9))))

	out := make([]column.Column, 2)
	require.NoError(t, a.EvaluateFinal(out, 1, []int{0, 1, 2, 3, 4}, dc))
	counts := out[1].(*column.Int64Vector)
	assert.Equal(t, []int64{3, 0, 2, 1, 0}, counts.Values())
	assert.Equal(t, "GroupingCountDistinctInt64[channels=[0]]", a.String())
}

func Test_GroupingCountDistinctInt64_MatchesSingle(t *testing.T) {
	dc := NewDriverContext(nil)
	grouped := newGroupingAggregator(t, dc, nil, 11)
	defer grouped.Close()

	singles := []*CountDistinctInt64{newAggregator(t, dc, nil, 11), newAggregator(t, dc, nil, 11)}
	for _, s := range singles {
		defer s.Close()
	}

	values := make([]int64, 3000)
	ids := make([]int64, len(values))
	for i := range values {
		values[i] = int64(i * 31)
		ids[i] = int64(i % 2)
		require.NoError(t, singles[i%2].AddRawInput(column.NewBatch(column.NewInt64Vector(values[i]))))
	}
	require.NoError(t, grouped.AddRawInput(column.NewInt64Vector(ids...), column.NewBatch(column.NewInt64Vector(values...))))

	out := make([]column.Column, 1)
	require.NoError(t, grouped.EvaluateIntermediate(out, 0, []int{0, 1}))
	sketches := out[0].(*column.BytesVector)
	for i, s := range singles {
		assert.Equal(t, evaluateIntermediate(t, s), sketches.Bytes(i), "group %d", i)
	}
}

func Test_GroupingCountDistinctInt64_Intermediate(t *testing.T) {
	dc := NewDriverContext(nil)
	left := newGroupingAggregator(t, dc, nil, 10)
	defer left.Close()
	right := newGroupingAggregator(t, dc, nil, 10)
	defer right.Close()

	require.NoError(t, left.AddRawInput(column.NewInt64Vector(0, 1), column.NewBatch(column.NewInt64Vector(10, 20))))
	require.NoError(t, right.AddRawInput(column.NewInt64Vector(0, 1), column.NewBatch(column.NewInt64Vector(11, 20))))

	final := newGroupingAggregator(t, dc, nil, 10)
	defer final.Close()
	for _, partial := range []*GroupingCountDistinctInt64{left, right} {
		out := make([]column.Column, 1)
		require.NoError(t, partial.EvaluateIntermediate(out, 0, []int{1, 0}))
		// positions are in the order the groups were selected
		require.NoError(t, final.AddIntermediateInput(column.NewInt64Vector(1, 0), column.NewBatch(out[0])))
	}
	nulls := column.NewBytesBlock(nil)
	require.NoError(t, final.AddIntermediateInput(column.NewInt64Vector(5), column.NewBatch(nulls)))

	out := make([]column.Column, 1)
	require.NoError(t, final.EvaluateFinal(out, 0, []int{0, 1, 5}, dc))
	assert.Equal(t, []int64{2, 1, 0}, out[0].(*column.Int64Vector).Values())
}

func Test_GroupingCountDistinctInt64_Errors(t *testing.T) {
	budget := memory.NewBudget("test", 2<<10)
	dc := NewDriverContext(nil)
	a := newGroupingAggregator(t, dc, budget, 10)

	err := a.AddRawInput(column.NewInt64Vector(0, 1, 2), column.NewBatch(column.NewInt64Vector(1, 2, 3)))
	assert.True(t, errors.Is(err, memory.ErrBudgetExceeded))

	bad := column.NewBatch(column.NewBytesVector([]byte{0x14}))
	err = a.AddIntermediateInput(column.NewInt64Vector(0), bad)
	assert.True(t, errors.Is(err, hll.ErrCorruptEncoding))

	contractViolation(t, func() {
		_ = a.AddRawInput(column.NewInt64Vector(0), column.NewBatch(column.NewInt64Vector(1, 2)))
	})

	require.NoError(t, a.Close())
	assert.Equal(t, int64(0), budget.Used())
	contractViolation(t, func() {
		_ = a.AddRawInput(column.NewInt64Vector(0), column.NewBatch(column.NewInt64Vector(1)))
	})
}

func Test_GroupingCountDistinctInt64_IntermediateAllOrNothing(t *testing.T) {
	dc := NewDriverContext(nil)

	src := newAggregator(t, dc, nil, 10)
	defer src.Close()
	require.NoError(t, src.AddRawInput(column.NewBatch(column.NewInt64Vector(7))))
	valid := evaluateIntermediate(t, src)

	a := newGroupingAggregator(t, dc, nil, 10)
	defer a.Close()

	in := column.NewBatch(column.NewBytesVector(valid, []byte{0x99}))
	err := a.AddIntermediateInput(column.NewInt64Vector(0, 1), in)
	assert.True(t, errors.Is(err, hll.ErrCorruptEncoding))

	out := make([]column.Column, 1)
	require.NoError(t, a.EvaluateFinal(out, 0, []int{0, 1}, dc))
	assert.Equal(t, []int64{0, 0}, out[0].(*column.Int64Vector).Values())
}
