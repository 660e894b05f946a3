// Package hasher maps input values to the 64-bit hashes that feed a sketch.
//
// Every producer of a sketch family must hash identically, otherwise register
// positions disagree and merged sketches are meaningless.  The hash family is
// therefore versioned and the version is written into every serialized
// sketch.
package hasher

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Version identifies the hash family implemented by this package: xxHash64
// with a zero seed over the little-endian encoding of the value.  Bump it
// whenever Hash64 changes.
const Version = 1

// Hash64 hashes a 64-bit integer.
func Hash64(value int64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(value))
	return xxhash.Sum64(buf[:])
}
