package hll

// bytesForBits returns the number of bytes needed to hold n bits.
func bytesForBits(n int) int {
	return (n + 7) >> 3
}

// bitWriter packs values into buf most significant bit first.  Bit 0 is the
// MSB of buf[0], bit 8 the MSB of buf[1] and so on.  buf must be zeroed.
type bitWriter struct {
	buf []byte
	off int
}

// write appends the n low bits of v, 0 < n <= 64.
func (w *bitWriter) write(v uint64, n int) {
	for n > 0 {
		free := 8 - w.off&7
		take := free
		if take > n {
			take = n
		}
		part := byte(v>>uint(n-take)) & (1<<uint(take) - 1)
		w.buf[w.off>>3] |= part << uint(free-take)
		w.off += take
		n -= take
	}
}

// bitReader reads values written by bitWriter.
type bitReader struct {
	buf []byte
	off int
}

// read consumes n bits, 0 < n <= 64, and returns them as the low bits of the
// result.
func (r *bitReader) read(n int) uint64 {
	var v uint64
	for n > 0 {
		avail := 8 - r.off&7
		take := avail
		if take > n {
			take = n
		}
		part := (r.buf[r.off>>3] >> uint(avail-take)) & (1<<uint(take) - 1)
		v = v<<uint(take) | uint64(part)
		r.off += take
		n -= take
	}
	return v
}

// remaining returns the number of unread bits.
func (r *bitReader) remaining() int {
	return 8*len(r.buf) - r.off
}
