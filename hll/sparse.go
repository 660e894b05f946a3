package hll

import (
	"github.com/pkg/errors"
)

// sparseEncoding writes only the non-zero registers as (regnum, value) pairs,
// log2m+regwidth bits each, in ascending register order.  It is smaller than
// the dense form whenever fewer than roughly regwidth/(log2m+regwidth) of the
// registers are set, which is the common case for low cardinality partitions.
type sparseEncoding struct{}

func (sparseEncoding) sizeInBytes(settings *settings, regs registers) int {
	return bytesForBits((settings.log2m + regwidth) * regs.nonZero())
}

func (sparseEncoding) writeBytes(settings *settings, regs registers, bytes []byte) {

	w := bitWriter{buf: bytes}
	bitsPerRegister := settings.log2m + regwidth

	// ranging over the registers yields them in sorted order, which the
	// decoder relies on to reject duplicates.
	for reg, value := range regs {
		if value == 0 {
			continue
		}
		w.write(uint64(reg)<<regwidth|uint64(value), bitsPerRegister)
	}
}

func (sparseEncoding) readBytes(settings *settings, bytes []byte, regs registers) error {

	bitsPerRegister := settings.log2m + regwidth
	regMask := uint64((1 << regwidth) - 1)

	// padding is shorter than a byte and an entry is at least 10 bits wide, so
	// every whole entry in the payload is a real one.
	numRegisters := (8 * len(bytes)) / bitsPerRegister
	if bytesForBits(numRegisters*bitsPerRegister) != len(bytes) {
		return errors.Wrapf(ErrCorruptEncoding, "sparse payload of %d bytes has trailing bytes", len(bytes))
	}
	if numRegisters > settings.m {
		return errors.Wrapf(ErrCorruptEncoding, "sparse payload holds %d entries but precision %d has %d registers", numRegisters, settings.log2m, settings.m)
	}

	r := bitReader{buf: bytes}
	previous := -1
	for i := 0; i < numRegisters; i++ {
		regAndVal := r.read(bitsPerRegister)
		reg := int(regAndVal >> regwidth)
		value := regAndVal & regMask

		if reg <= previous {
			return errors.Wrapf(ErrCorruptEncoding, "sparse entry %d for register %d is out of order", i, reg)
		}
		if value == 0 || value > uint64(settings.maxRank) {
			return errors.Wrapf(ErrCorruptEncoding, "sparse entry %d for register %d has value %d, precision %d allows 1 to %d", i, reg, value, settings.log2m, settings.maxRank)
		}

		regs[reg] = byte(value)
		previous = reg
	}

	if padding := r.remaining(); padding > 0 && r.read(padding) != 0 {
		return errors.Wrap(ErrCorruptEncoding, "sparse payload has non-zero padding")
	}

	return nil
}
