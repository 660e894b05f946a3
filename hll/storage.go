package hll

// encoding is implemented by each payload layout of the serialized sketch.
// The in-memory representation is always the full register array; an encoding
// only decides how that array is laid out on the wire.
type encoding interface {

	// sizeInBytes returns the number of payload bytes required to serialize
	// the registers.  The Sketch uses it to pick the smallest encoding and to
	// size the output buffer.
	sizeInBytes(settings *settings, regs registers) int

	// writeBytes serializes the registers into the provided byte slice.  The
	// slice is zeroed and has exactly sizeInBytes bytes.
	writeBytes(settings *settings, regs registers, bytes []byte)

	// readBytes deserializes the payload into regs, which is zeroed and has
	// one entry per register.  It returns an error wrapping
	// ErrCorruptEncoding if the payload is truncated, padded, out of order or
	// holds register values that the precision cannot produce.
	readBytes(settings *settings, bytes []byte, regs registers) error
}

// encodingFor returns the payload layout of a storage type, or nil if the
// type carries no payload.
func encodingFor(t storageType) encoding {
	switch t {
	case sparse:
		return sparseEncoding{}
	case dense:
		return denseEncoding{}
	}
	return nil
}
