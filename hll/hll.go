// Package hll implements the HyperLogLog sketch behind approximate distinct
// counts: a fixed array of 2^p registers that absorbs 64 bit hashes, merges
// register-wise with sketches of the same precision, estimates cardinality and
// round-trips through a compact, versioned byte encoding.
//
// Registers are indexed by the low p bits of a hash.  The remaining 64-p bits
// contribute their run length: the one-based position of the least
// significant set bit, or 64-p+1 when none is set.  The estimator is the
// classic HyperLogLog estimator with linear counting for small cardinalities
// and the large range correction for a 64 bit hash space.
package hll

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/pkg/errors"
	"github.com/segmentio/go-hll-agg/hasher"
	"github.com/segmentio/go-hll-agg/memory"
)

// storageType is an enum whose values match the type values in the first byte
// of the serialized form.  explicit is reserved and never produced, sketches
// only ever hold registers.
type storageType int

const (
	undefined storageType = iota
	empty
	explicit
	sparse
	dense
)

// version is the serialization schema written into the upper nibble of the
// first byte.
const version = 1

// headerSize is the number of bytes that precede the payload.
const headerSize = 3

// ErrInvalidPrecision is returned when a sketch is requested with a precision
// outside of [MinPrecision, MaxPrecision].
var ErrInvalidPrecision = errors.New("invalid precision")

// ErrPrecisionMismatch is returned when merging two sketches whose precisions
// differ.  It indicates that the producers of the sketches were planned
// inconsistently.
var ErrPrecisionMismatch = errors.New("precision mismatch")

// ErrCorruptEncoding is returned when a serialized sketch is malformed.
var ErrCorruptEncoding = errors.New("corrupt sketch encoding")

// Sketch is a HyperLogLog sketch.  It is not safe for concurrent use; each
// partition of an aggregation owns its own sketch and sketches meet only
// through Merge or MergeBytes.
type Sketch struct {
	settings  *settings
	registers registers

	// tracker accounts for the register memory when non-nil.
	tracker  memory.Tracker
	reserved int64
}

// New creates an empty sketch with 2^precision registers whose memory is not
// accounted for.
func New(precision int) (*Sketch, error) {
	return NewWithTracker(nil, precision)
}

// NewWithTracker creates an empty sketch with 2^precision registers, reserving
// the register memory from tracker first.  The memory is returned to the
// tracker by Close.
func NewWithTracker(tracker memory.Tracker, precision int) (*Sketch, error) {

	settings, err := settingsFor(precision)
	if err != nil {
		return nil, err
	}

	s := &Sketch{settings: settings, tracker: tracker}

	if tracker != nil {
		n := int64(settings.m)
		if err := tracker.Reserve("hll registers", n); err != nil {
			return nil, errors.Wrapf(err, "allocating sketch with precision %d", precision)
		}
		s.reserved = n
	}

	s.registers = make(registers, settings.m)

	return s, nil
}

// FromBytes deserializes the provided byte slice into a new, untracked Sketch.
// Any malformed input results in an error wrapping ErrCorruptEncoding.
func FromBytes(bytes []byte) (*Sketch, error) {
	settings, regs, err := decode(bytes)
	if err != nil {
		return nil, err
	}
	return &Sketch{settings: settings, registers: regs}, nil
}

// Precision returns log2 of the number of registers.
func (s *Sketch) Precision() int {
	return s.settings.log2m
}

// NumRegisters returns 2^Precision.
func (s *Sketch) NumRegisters() int {
	return s.settings.m
}

// Register returns the value of register i.
func (s *Sketch) Register(i int) byte {
	return s.registers[i]
}

// IsEmpty reports whether no value has been observed.
func (s *Sketch) IsEmpty() bool {
	return s.registers.nonZero() == 0
}

// AddHash adds a 64 bit hash to the sketch.  The hash is expected to come from
// a good hash function such as the one in package hasher.  Only the register
// selected by the low bits of hash can change.
func (s *Sketch) AddHash(hash uint64) {

	// NOTE : no +1 as in paper since 0-based indexing
	i := int(hash & s.settings.mBitsMask)

	// p(w): position of the least significant set bit (one-indexed).  a zero
	// substream has no set bit; TrailingZeros64 reports 64 which clamps to the
	// width of the substream plus one.
	substreamValue := hash >> uint(s.settings.log2m)
	pW := bits.TrailingZeros64(substreamValue) + 1
	if pW > int(s.settings.maxRank) {
		pW = int(s.settings.maxRank)
	}

	s.registers.setIfGreater(i, byte(pW))
}

// AddInt64 hashes value with hasher.Hash64 and adds it to the sketch.
func (s *Sketch) AddInt64(value int64) {
	s.AddHash(hasher.Hash64(value))
}

// Merge folds other into the receiver by keeping the larger value of every
// register.  It returns an error wrapping ErrPrecisionMismatch, and leaves the
// receiver untouched, if the precisions differ.  Merging is associative,
// commutative and idempotent, so partial results may be combined in any order
// and any number of times.
func (s *Sketch) Merge(other *Sketch) error {
	if other == nil || other == s {
		return nil
	}
	if err := s.checkPrecision(other.settings.log2m); err != nil {
		return err
	}
	s.registers.union(other.registers)
	return nil
}

// MergeBytes decodes a serialized sketch and merges it into the receiver.  The
// receiver is only modified if decoding succeeds and the precisions match.
func (s *Sketch) MergeBytes(bytes []byte) error {
	settings, regs, err := decode(bytes)
	if err != nil {
		return err
	}
	if err := s.checkPrecision(settings.log2m); err != nil {
		return err
	}
	s.registers.union(regs)
	return nil
}

func (s *Sketch) checkPrecision(other int) error {
	if other != s.settings.log2m {
		return errors.Wrapf(ErrPrecisionMismatch, "cannot merge sketch with precision %d into sketch with precision %d", other, s.settings.log2m)
	}
	return nil
}

// Estimate returns the estimated number of distinct hashes added to the
// sketch, or to any sketch merged into it.  It is exactly zero for an empty
// sketch and never negative.
func (s *Sketch) Estimate() float64 {

	sum, numberOfZeroes /*"V" in the paper*/ := s.registers.indicator()

	// apply the estimate and correction to the indicator function
	estimator := s.settings.alphaMSquared / sum

	if numberOfZeroes != 0 && estimator < s.settings.smallEstimatorCutoff {
		// The "small range correction" formula from the HyperLogLog
		// algorithm. Only appropriate if both the estimator is smaller than
		// (5/2) * m and there are still registers that have the zero value.
		m := float64(s.settings.m)
		return m * math.Log(m/float64(numberOfZeroes))
	}

	if estimator <= s.settings.largeEstimatorCutoff {
		return estimator
	}

	// The "large range correction" formula from the HyperLogLog algorithm,
	// adapted for 64 bit hashes. Only appropriate for estimators whose value
	// exceeds the calculated cutoff.  Saturated registers can push the raw
	// estimate past the size of the hash space, where the formula is
	// undefined; the hash space itself is the largest meaningful answer.
	if estimator >= s.settings.twoToL {
		return s.settings.twoToL
	}
	return -1 * s.settings.twoToL * math.Log(1.0-(estimator/s.settings.twoToL))
}

// Cardinality returns Estimate rounded to the nearest integer.
func (s *Sketch) Cardinality() uint64 {
	return uint64(math.Round(s.Estimate()))
}

// ToBytes returns the serialized sketch.  The layout is a three byte header
// followed by a payload:
//
//	byte 0: version << 4 | type (1 empty, 3 sparse, 4 dense)
//	byte 1: (regwidth - 1) << 5 | precision
//	byte 2: hash family (hasher.Version)
//
// An empty sketch has no payload.  Otherwise the smaller of the sparse and
// dense payloads is written, so the encoding of a given set of registers is
// deterministic.
func (s *Sketch) ToBytes() []byte {

	storageType := empty
	bytesNeeded := 0

	if nonZero := s.registers.nonZero(); nonZero > 0 {
		denseBytes := denseEncoding{}.sizeInBytes(s.settings, s.registers)
		sparseBytes := bytesForBits((s.settings.log2m + regwidth) * nonZero)
		if sparseBytes < denseBytes {
			storageType, bytesNeeded = sparse, sparseBytes
		} else {
			storageType, bytesNeeded = dense, denseBytes
		}
	}

	bytes := make([]byte, headerSize+bytesNeeded)

	bytes[0] = (version << 4) | byte(storageType)
	bytes[1] = byte(((regwidth - 1) << 5) | s.settings.log2m)
	bytes[2] = hasher.Version

	if enc := encodingFor(storageType); enc != nil {
		enc.writeBytes(s.settings, s.registers, bytes[headerSize:])
	}

	return bytes
}

// Clear resets every register to zero.  It is the only operation that lowers
// a register.
func (s *Sketch) Clear() {
	for i := range s.registers {
		s.registers[i] = 0
	}
}

// Clone returns an untracked deep copy of the sketch.
func (s *Sketch) Clone() *Sketch {
	regs := make(registers, len(s.registers))
	copy(regs, s.registers)
	return &Sketch{settings: s.settings, registers: regs}
}

// Equal reports whether both sketches have the same precision and the same
// register values.
func (s *Sketch) Equal(other *Sketch) bool {
	if s.settings.log2m != other.settings.log2m {
		return false
	}
	for i, value := range s.registers {
		if other.registers[i] != value {
			return false
		}
	}
	return true
}

// Close releases the register memory to the tracker the sketch was created
// with.  The sketch must not be used afterwards.  Closing twice releases
// nothing the second time.
func (s *Sketch) Close() {
	if s.tracker != nil && s.reserved > 0 {
		s.tracker.Release(s.reserved)
	}
	s.reserved = 0
	s.registers = nil
}

func (s *Sketch) String() string {
	return fmt.Sprintf("hll[precision=%d nonzero=%d estimate=%.0f]", s.settings.log2m, s.registers.nonZero(), s.Estimate())
}

// decode validates a serialized sketch and returns its settings and a freshly
// allocated register array.
func decode(bytes []byte) (*settings, registers, error) {

	if len(bytes) < headerSize {
		return nil, nil, errors.Wrapf(ErrCorruptEncoding, "insufficient bytes to deserialize sketch: %d", len(bytes))
	}

	v, storageType := int(bytes[0]>>4), storageType(bytes[0]&0xf)
	if v != version {
		return nil, nil, errors.Wrapf(ErrCorruptEncoding, "unsupported sketch version: %d", v)
	}

	width, log2m := int(bytes[1]>>5)+1, int(bytes[1]&0x1f)
	if width != regwidth {
		return nil, nil, errors.Wrapf(ErrCorruptEncoding, "unsupported register width: %d", width)
	}

	settings, err := settingsFor(log2m)
	if err != nil {
		return nil, nil, errors.Wrapf(ErrCorruptEncoding, "%v", err)
	}

	if family := bytes[2]; family != hasher.Version {
		return nil, nil, errors.Wrapf(ErrCorruptEncoding, "unsupported hash family: %d", family)
	}

	payload := bytes[headerSize:]
	regs := make(registers, settings.m)

	switch storageType {
	case empty:
		if len(payload) != 0 {
			return nil, nil, errors.Wrapf(ErrCorruptEncoding, "empty sketch has %d payload bytes", len(payload))
		}
	case sparse, dense:
		if err := encodingFor(storageType).readBytes(settings, payload, regs); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, errors.Wrapf(ErrCorruptEncoding, "invalid sketch type: %d", storageType)
	}

	return settings, regs, nil
}
