package aggregator

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/segmentio/go-hll-agg/column"
	"github.com/segmentio/go-hll-agg/hll"
	"github.com/segmentio/go-hll-agg/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newAggregator(t testing.TB, dc *DriverContext, tracker memory.Tracker, precision int) *CountDistinctInt64 {
	a, err := NewCountDistinctInt64(dc, tracker, []int{0}, precision)
	require.NoError(t, err)
	return a
}

func evaluateFinal(t testing.TB, a *CountDistinctInt64) int64 {
	out := make([]column.Column, 1)
	require.NoError(t, a.EvaluateFinal(out, 0, a.dc))
	v, ok := out[0].(*column.Int64Vector)
	require.True(t, ok)
	require.Equal(t, 1, v.PositionCount())
	return v.Int64(0)
}

func evaluateIntermediate(t testing.TB, a *CountDistinctInt64) []byte {
	out := make([]column.Column, 1)
	require.NoError(t, a.EvaluateIntermediate(out, 0))
	v, ok := out[0].(*column.BytesVector)
	require.True(t, ok)
	require.Equal(t, 1, v.PositionCount())
	return v.Bytes(0)
}

// contractViolation asserts that fn panics with an ErrContractViolation.
func contractViolation(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		assert.True(t, errors.Is(err, ErrContractViolation), "%v", err)
	}()
	fn()
}

func Test_IntermediateStateDesc(t *testing.T) {
	desc := IntermediateStateDesc()
	assert.Equal(t, []StateDesc{{Name: "hll", Type: column.ElementBytes}}, desc)
	desc[0].Name = "changed"
	assert.Equal(t, "hll", IntermediateStateDesc()[0].Name)
	assert.Equal(t, 1, IntermediateColumnCount())
}

func Test_CountDistinctInt64_Vector(t *testing.T) {
	a := newAggregator(t, NewDriverContext(nil), nil, 14)
	defer a.Close()

	values := make([]int64, 0, 5000)
	for i := int64(0); i < 5000; i++ {
		values = append(values, i%1000)
	}
	require.NoError(t, a.AddRawInput(column.NewBatch(column.NewInt64Vector(values...))))
	assert.InEpsilon(t, 1000, evaluateFinal(t, a), 0.02)
}

func Test_CountDistinctInt64_Block(t *testing.T) {
	dc := NewDriverContext(nil)
	blockAgg := newAggregator(t, dc, nil, 12)
	defer blockAgg.Close()
	vectorAgg := newAggregator(t, dc, nil, 12)
	defer vectorAgg.Close()

	b := column.NewInt64BlockBuilder(4)
	b.AppendInt64(1)
	b.AppendNull()
	b.BeginPositionEntry().AppendInt64(2).AppendInt64(3).EndPositionEntry()
	b.AppendInt64(4)

	require.NoError(t, blockAgg.AddRawInput(column.NewBatch(b.Build())))
	require.NoError(t, vectorAgg.AddRawInput(column.NewBatch(column.NewInt64Vector(1, 2, 3, 4))))

	assert.Equal(t, evaluateIntermediate(t, vectorAgg), evaluateIntermediate(t, blockAgg))
	assert.Equal(t, int64(4), evaluateFinal(t, blockAgg))
}

func Test_CountDistinctInt64_Channel(t *testing.T) {
	a, err := NewCountDistinctInt64(NewDriverContext(nil), nil, []int{1}, 10)
	require.NoError(t, err)
	defer a.Close()

	batch := column.NewBatch(column.NewInt64Vector(1, 1, 1), column.NewInt64Vector(1, 2, 3))
	require.NoError(t, a.AddRawInput(batch))
	assert.Equal(t, int64(3), evaluateFinal(t, a))
	assert.Equal(t, "CountDistinctInt64[channels=[1]]", a.String())
}

func Test_CountDistinctInt64_AllNull(t *testing.T) {
	a := newAggregator(t, NewDriverContext(nil), nil, 10)
	defer a.Close()
	before := evaluateIntermediate(t, a)

	b := column.NewInt64BlockBuilder(3)
	b.AppendNull().AppendNull().AppendNull()
	require.NoError(t, a.AddRawInput(column.NewBatch(b.Build())))
	require.NoError(t, a.AddRawInput(column.NewBatch(column.NewNullColumn(column.ElementNull, 8))))
	require.NoError(t, a.AddIntermediateInput(column.NewBatch(column.NewNullColumn(column.ElementBytes, 1))))

	assert.Equal(t, before, evaluateIntermediate(t, a))
	assert.Equal(t, int64(0), evaluateFinal(t, a))
}

func Test_CountDistinctInt64_Empty(t *testing.T) {
	a := newAggregator(t, NewDriverContext(nil), nil, 14)
	defer a.Close()
	assert.Equal(t, []byte{0x11, 0xa0 | 14, 0x01}, evaluateIntermediate(t, a))
	assert.Equal(t, int64(0), evaluateFinal(t, a))
}

func Test_CountDistinctInt64_Partitions(t *testing.T) {
	dc := NewDriverContext(nil)
	tracker := memory.Unlimited()

	whole := newAggregator(t, dc, tracker, 14)
	defer whole.Close()
	partitions := make([]*CountDistinctInt64, 4)
	for i := range partitions {
		partitions[i] = newAggregator(t, dc, tracker, 14)
		defer partitions[i].Close()
	}

	for batch := 0; batch < 40; batch++ {
		values := make([]int64, 100)
		for i := range values {
			values[i] = int64(batch*100 + i)
		}
		in := column.NewBatch(column.NewInt64Vector(values...))
		require.NoError(t, whole.AddRawInput(in))
		require.NoError(t, partitions[batch%len(partitions)].AddRawInput(in))
	}

	final := newAggregator(t, dc, tracker, 14)
	defer final.Close()
	for i := len(partitions) - 1; i >= 0; i-- {
		sketch := evaluateIntermediate(t, partitions[i])
		in := column.NewBatch(column.NewBytesVector(sketch))
		require.NoError(t, final.AddIntermediateInput(in))
		// merging the same partial twice changes nothing
		require.NoError(t, final.AddIntermediateInput(in))
	}

	assert.Equal(t, evaluateIntermediate(t, whole), evaluateIntermediate(t, final))
	assert.Equal(t, evaluateFinal(t, whole), evaluateFinal(t, final))
	assert.InEpsilon(t, 4000, evaluateFinal(t, final), 0.02)
}

func Test_CountDistinctInt64_IntermediateErrors(t *testing.T) {
	dc := NewDriverContext(nil)
	a := newAggregator(t, dc, nil, 12)
	defer a.Close()

	other := newAggregator(t, dc, nil, 10)
	defer other.Close()
	require.NoError(t, other.AddRawInput(column.NewBatch(column.NewInt64Vector(1, 2, 3))))

	err := a.AddIntermediateInput(column.NewBatch(column.NewBytesVector(evaluateIntermediate(t, other))))
	assert.True(t, errors.Is(err, hll.ErrPrecisionMismatch))

	err = a.AddIntermediateInput(column.NewBatch(column.NewBytesVector([]byte{0x99, 0x00, 0x00})))
	assert.True(t, errors.Is(err, hll.ErrCorruptEncoding))
	assert.Equal(t, int64(0), evaluateFinal(t, a))
}

func Test_CountDistinctInt64_ContractViolations(t *testing.T) {
	dc := NewDriverContext(nil)
	sketch := func() []byte {
		a := newAggregator(t, dc, nil, 10)
		defer a.Close()
		return evaluateIntermediate(t, a)
	}()

	t.Run("channels", func(t *testing.T) {
		a, err := NewCountDistinctInt64(dc, nil, []int{0, 1}, 10)
		require.NoError(t, err)
		defer a.Close()
		contractViolation(t, func() {
			_ = a.AddIntermediateInput(column.NewBatch(column.NewBytesVector(sketch), column.NewBytesVector(sketch)))
		})
	})

	t.Run("columns", func(t *testing.T) {
		a, err := NewCountDistinctInt64(dc, nil, []int{1}, 10)
		require.NoError(t, err)
		defer a.Close()
		contractViolation(t, func() {
			_ = a.AddIntermediateInput(column.NewBatch(column.NewBytesVector(sketch)))
		})
	})

	t.Run("positions", func(t *testing.T) {
		a := newAggregator(t, dc, nil, 10)
		defer a.Close()
		contractViolation(t, func() {
			_ = a.AddIntermediateInput(column.NewBatch(column.NewBytesVector(sketch, sketch)))
		})
	})

	t.Run("element type", func(t *testing.T) {
		a := newAggregator(t, dc, nil, 10)
		defer a.Close()
		contractViolation(t, func() {
			_ = a.AddIntermediateInput(column.NewBatch(column.NewInt64Vector(1)))
		})
		contractViolation(t, func() {
			_ = a.AddRawInput(column.NewBatch(column.NewBytesVector(sketch)))
		})
	})

	t.Run("output offset", func(t *testing.T) {
		a := newAggregator(t, dc, nil, 10)
		defer a.Close()
		contractViolation(t, func() {
			_ = a.EvaluateIntermediate(make([]column.Column, 1), 1)
		})
	})
}

func Test_CountDistinctInt64_Lifecycle(t *testing.T) {
	dc := NewDriverContext(nil)
	in := column.NewBatch(column.NewInt64Vector(1, 2))

	a := newAggregator(t, dc, nil, 10)
	require.NoError(t, a.AddRawInput(in))
	evaluateIntermediate(t, a)
	require.NoError(t, a.AddRawInput(in), "accumulating after an intermediate evaluation")
	assert.Equal(t, int64(2), evaluateFinal(t, a))
	assert.Equal(t, int64(2), evaluateFinal(t, a), "final evaluation is repeatable")
	contractViolation(t, func() { _ = a.AddRawInput(in) })
	contractViolation(t, func() { _ = a.AddIntermediateInput(in) })

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	contractViolation(t, func() { _ = a.EvaluateFinal(make([]column.Column, 1), 0, dc) })
	contractViolation(t, func() { _ = a.EvaluateIntermediate(make([]column.Column, 1), 0) })
}

func Test_CountDistinctInt64_Memory(t *testing.T) {
	budget := memory.NewBudget("test", 1<<20)
	dc := NewDriverContext(nil)

	a := newAggregator(t, dc, budget, 14)
	assert.Equal(t, int64(1<<14), budget.Used())
	require.NoError(t, a.Close())
	assert.Equal(t, int64(0), budget.Used())

	_, err := NewCountDistinctInt64(dc, memory.NewBudget("small", 1<<10), []int{0}, 14)
	assert.True(t, errors.Is(err, memory.ErrBudgetExceeded))

	_, err = NewCountDistinctInt64(dc, budget, []int{0}, 2)
	assert.True(t, errors.Is(err, hll.ErrInvalidPrecision))

	_, err = NewCountDistinctInt64(dc, budget, nil, 14)
	assert.Error(t, err)
	assert.Equal(t, int64(0), budget.Used())
}

func Test_CountDistinctInt64_CloseLogs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	a := newAggregator(t, NewDriverContext(zap.New(core)), nil, 10)
	require.NoError(t, a.AddRawInput(column.NewBatch(column.NewInt64Vector(7))))
	require.NoError(t, a.Close())

	entries := logs.FilterMessage("closing aggregator").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "CountDistinctInt64[channels=[0]]", fields["aggregator"])
	assert.Equal(t, int64(10), fields["precision"])
	assert.InDelta(t, 1.0, fields["estimate"], 0.01)

	core, logs = observer.New(zapcore.InfoLevel)
	a = newAggregator(t, NewDriverContext(zap.New(core)), nil, 10)
	require.NoError(t, a.Close())
	assert.Equal(t, 0, logs.Len(), "debug entries are not built above debug level")
}

func Test_Run(t *testing.T) {
	budget := memory.NewBudget("test", 0)
	dc := NewDriverContext(nil)

	var estimate int64
	err := Run(dc, budget, []int{0}, 12, func(a *CountDistinctInt64) error {
		if err := a.AddRawInput(column.NewBatch(column.NewInt64Vector(5, 6, 7, 5))); err != nil {
			return err
		}
		estimate = evaluateFinal(t, a)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), estimate)
	assert.Equal(t, int64(0), budget.Used())

	boom := errors.New("boom")
	err = Run(dc, budget, []int{0}, 12, func(*CountDistinctInt64) error { return boom })
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, int64(0), budget.Used())
	assert.Equal(t, int64(0), budget.Outstanding())
}

func Benchmark_CountDistinctInt64_AddRawInput(b *testing.B) {
	a := newAggregator(b, NewDriverContext(nil), nil, 14)
	defer a.Close()
	values := make([]int64, 1024)
	for i := range values {
		values[i] = int64(i)
	}
	in := column.NewBatch(column.NewInt64Vector(values...))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = a.AddRawInput(in)
	}
}
