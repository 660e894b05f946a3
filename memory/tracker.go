// Package memory accounts for the bytes held by sketches so that a query can
// bound how much register memory its aggregations consume.
package memory

import (
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// ErrBudgetExceeded is returned by Reserve when granting the request would
// take a Budget over its limit.
var ErrBudgetExceeded = errors.New("memory budget exceeded")

// Tracker is the accounting handle handed to sketch allocation.  Every
// successful Reserve must be matched by exactly one Release of the same size.
type Tracker interface {
	// Reserve accounts for n more bytes on behalf of label.  It returns an
	// error, and accounts for nothing, if the bytes cannot be granted.
	Reserve(label string, n int64) error

	// Release returns n bytes previously granted by Reserve.
	Release(n int64)
}

// Budget is a Tracker with an optional limit.  It is safe for concurrent use
// so that independent partitions can share one budget.
type Budget struct {
	name  string
	limit int64 // zero means unlimited

	used      atomic.Int64
	highWater atomic.Int64
	reserves  atomic.Int64
	releases  atomic.Int64
}

var _ Tracker = (*Budget)(nil)

// NewBudget creates a Budget that refuses reservations beyond limit bytes.  A
// limit of zero disables the check.
func NewBudget(name string, limit int64) *Budget {
	if limit < 0 {
		limit = 0
	}
	return &Budget{name: name, limit: limit}
}

// Unlimited returns a fresh Budget without a limit.
func Unlimited() *Budget {
	return NewBudget("unlimited", 0)
}

func (b *Budget) Reserve(label string, n int64) error {
	if n < 0 {
		return errors.Errorf("%s: negative reservation of %d bytes for %s", b.name, n, label)
	} else if n == 0 {
		return nil
	}

	for {
		used := b.used.Load()
		next := used + n
		if b.limit > 0 && next > b.limit {
			return errors.Wrapf(ErrBudgetExceeded, "%s: reserving %s for %s would use %s of %s",
				b.name, humanize.IBytes(uint64(n)), label, humanize.IBytes(uint64(next)), humanize.IBytes(uint64(b.limit)))
		}
		if b.used.CompareAndSwap(used, next) {
			b.reserves.Add(1)
			b.raiseHighWater(next)
			return nil
		}
	}
}

func (b *Budget) Release(n int64) {
	if n <= 0 {
		return
	}
	if b.used.Add(-n) < 0 {
		// releasing more than was reserved is an accounting bug in the
		// caller.
		panic(fmt.Sprintf("%s: released %d bytes more than reserved", b.name, n))
	}
	b.releases.Add(1)
}

func (b *Budget) raiseHighWater(v int64) {
	for {
		hw := b.highWater.Load()
		if v <= hw || b.highWater.CompareAndSwap(hw, v) {
			return
		}
	}
}

// Name returns the label the Budget was created with.
func (b *Budget) Name() string { return b.name }

// Limit returns the configured limit, zero if unlimited.
func (b *Budget) Limit() int64 { return b.limit }

// Used returns the number of bytes currently reserved.
func (b *Budget) Used() int64 { return b.used.Load() }

// HighWaterMark returns the largest value Used has reached.
func (b *Budget) HighWaterMark() int64 { return b.highWater.Load() }

// Outstanding returns the number of reservations that have not been released
// yet.  A non-zero value after every owner has closed indicates a leak.
func (b *Budget) Outstanding() int64 {
	return b.reserves.Load() - b.releases.Load()
}

func (b *Budget) String() string {
	limit := "unlimited"
	if b.limit > 0 {
		limit = humanize.IBytes(uint64(b.limit))
	}
	return fmt.Sprintf("%s[used=%s high=%s limit=%s]", b.name,
		humanize.IBytes(uint64(b.Used())), humanize.IBytes(uint64(b.HighWaterMark())), limit)
}
