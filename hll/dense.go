package hll

import (
	"github.com/pkg/errors"
)

// registers holds one byte per register.  Run lengths fit in 6 bits, but a
// byte per register keeps add and union free of bit manipulation; packing is
// left to serialization.
type registers []byte

// setIfGreater sets register regnum to value if and only if value is greater
// than the current value.
func (r registers) setIfGreater(regnum int, value byte) {
	if value > r[regnum] {
		r[regnum] = value
	}
}

// indicator computes the "indicator function" (Z in the HLL paper).  It
// additionally returns the number of registers whose value is zero (V in the
// paper).
//
// For reference, Z = indicator(2^(-M[j])) for all j from 0 -> num registers
// where M[j] is the register value.
func (r registers) indicator() (float64, int) {
	sum := float64(0)
	numberOfZeros := 0
	for _, value := range r {
		sum += 1.0 / float64(uint64(1)<<value)
		if value == 0 {
			numberOfZeros++
		}
	}
	return sum, numberOfZeros
}

// union takes the register-wise maximum of the receiver and other, storing the
// result in the receiver.  Both must have the same length.
func (r registers) union(other registers) {
	for i, value := range other {
		if value > r[i] {
			r[i] = value
		}
	}
}

// nonZero counts the registers that have been set.
func (r registers) nonZero() int {
	n := 0
	for _, value := range r {
		if value != 0 {
			n++
		}
	}
	return n
}

// denseEncoding writes every register, in order, as a regwidth bit value.
// Since m = 2^log2m with log2m >= 4, m*regwidth is always a multiple of 8 and
// the payload never needs padding.
type denseEncoding struct{}

func (denseEncoding) sizeInBytes(settings *settings, regs registers) int {
	return bytesForBits(settings.m * regwidth)
}

func (denseEncoding) writeBytes(settings *settings, regs registers, bytes []byte) {
	w := bitWriter{buf: bytes}
	for _, value := range regs {
		w.write(uint64(value), regwidth)
	}
}

func (e denseEncoding) readBytes(settings *settings, bytes []byte, regs registers) error {

	// ensure that every register is accounted for in the input byte slice.
	if expected := e.sizeInBytes(settings, regs); len(bytes) != expected {
		return errors.Wrapf(ErrCorruptEncoding, "dense payload has %d bytes, expected %d for precision %d", len(bytes), expected, settings.log2m)
	}

	r := bitReader{buf: bytes}
	for i := range regs {
		value := r.read(regwidth)
		if value > uint64(settings.maxRank) {
			return errors.Wrapf(ErrCorruptEncoding, "register %d has value %d, precision %d allows at most %d", i, value, settings.log2m, settings.maxRank)
		}
		regs[i] = byte(value)
	}

	return nil
}
