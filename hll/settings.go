package hll

import (
	"math"
	"math/bits"
	"sync"

	"github.com/pkg/errors"
)

const (
	// minimum and maximum values for the log-base-2 of the number of registers
	// in the sketch.
	MinPrecision = 4
	MaxPrecision = 18

	// DefaultPrecision gives a standard error of about 0.81% in 16KiB of
	// registers.
	DefaultPrecision = 14

	// regwidth is the number of bits used for each register in the serialized
	// form.  The largest run length for a 64 bit hash is 64-4+1 = 61, so 6 bits
	// cover every supported precision.
	regwidth = 6

	// hashBits is the width of the hashes added to the sketch.
	hashBits = 64

	// maxLoadFactor mirrors the load factor of the hash set that a precision
	// threshold is sized against.
	maxLoadFactor = 0.75
)

type settings struct {
	log2m int

	// m is the number of registers, 2^log2m.
	m int

	// mBitsMask is a precomputed mask where the bottom-most log2m bits are
	// set.  it extracts the register index from a hash.
	mBitsMask uint64

	// maxRank is the largest value a register can take: the run length
	// observed when every bit above the index is zero.
	maxRank byte

	// alpha * m^2 (the constant in the "'raw' HyperLogLog estimator")
	alphaMSquared float64

	// smallEstimatorCutoff is the cutoff value of the estimator for using the
	// "small" range cardinality correction formula
	smallEstimatorCutoff float64

	// largeEstimatorCutoff is the cutoff value of the estimator for using the
	// "large" range cardinality correction formula
	largeEstimatorCutoff float64

	twoToL float64
}

var settingsCache map[int]*settings
var settingsCacheLock sync.RWMutex

func init() {
	settingsCache = make(map[int]*settings)
}

// settingsFor validates the precision and returns the cached constants for it.
func settingsFor(precision int) (*settings, error) {
	if err := validatePrecision(precision); err != nil {
		return nil, err
	}

	settingsCacheLock.RLock()
	cachedSettings := settingsCache[precision]
	settingsCacheLock.RUnlock()

	if cachedSettings != nil {
		return cachedSettings, nil
	}

	m := 1 << uint(precision)
	twoToL := math.Pow(2, hashBits)

	s := &settings{
		log2m:                precision,
		m:                    m,
		mBitsMask:            uint64(m - 1),
		maxRank:              byte(hashBits - precision + 1),
		alphaMSquared:        alphaMSquared(precision),
		smallEstimatorCutoff: smallEstimatorCutoff(m),
		largeEstimatorCutoff: largeEstimatorCutoff(twoToL),
		twoToL:               twoToL,
	}

	// install the settings.  if another goroutine computed the same settings
	// in the meantime the result is idempotent.
	settingsCacheLock.Lock()
	settingsCache[precision] = s
	settingsCacheLock.Unlock()

	return s, nil
}

func validatePrecision(precision int) error {
	if precision < MinPrecision {
		return errors.Wrapf(ErrInvalidPrecision, "precision is too small.  Requires at least %d but got %d", MinPrecision, precision)
	} else if precision > MaxPrecision {
		return errors.Wrapf(ErrInvalidPrecision, "precision is too large.  Allows at most %d but got %d", MaxPrecision, precision)
	}
	return nil
}

// ValidatePrecision returns an error wrapping ErrInvalidPrecision unless
// precision is in [MinPrecision, MaxPrecision].  It allocates nothing.
func ValidatePrecision(precision int) error {
	return validatePrecision(precision)
}

// PrecisionFromThreshold returns the smallest precision whose register array
// is at least as large as a hash set that could hold count distinct 32 bit
// values at the maximum load factor.  Below that count the estimate is close
// to exact.  The result is clamped to the supported range, so a threshold of
// 3000 yields DefaultPrecision.
func PrecisionFromThreshold(count int64) int {
	if count < 0 {
		count = 0
	}
	entries := int64(math.Ceil(float64(count) / maxLoadFactor))
	precision := bitsRequired(uint64(entries) * 4)
	if precision < MinPrecision {
		precision = MinPrecision
	}
	if precision > MaxPrecision {
		precision = MaxPrecision
	}
	return precision
}

// bitsRequired returns the number of bits needed to represent v, at least 1.
func bitsRequired(v uint64) int {
	if v == 0 {
		return 1
	}
	return bits.Len64(v)
}

// alphaMSquared calculates the 'alpha-m-squared' constant (gamma times
// registerCount squared where gamma is based on the value of registerCount)
// used by the HyperLogLog algorithm.
func alphaMSquared(log2m int) float64 {

	m := float64(int(1) << uint(log2m))

	switch log2m {
	case 4:
		return 0.673 * m * m
	case 5:
		return 0.697 * m * m
	case 6:
		return 0.709 * m * m
	default:
		return (0.7213 / (1.0 + 1.079/m)) * m * m
	}
}

// smallEstimatorCutoff calculates the "small range correction" formula, in the
// HyperLogLog algorith based on the total number of registers (m)
func smallEstimatorCutoff(m int) float64 {
	return (float64(m) * 5) / 2
}

// largeEstimatorCutoff calculates the cutoff for using the "large range
// correction" formula.  With 64 bit hashes the hash space is 2^64 so the
// correction only matters for cardinalities near 2^59.
func largeEstimatorCutoff(twoToL float64) float64 {
	return twoToL / 30.0
}
