package delta

import "encoding/binary"

// This file implements an LSB-first, base-128 unsigned integer
// encoding for the delta header. encoding/binary's Uvarint/PutUvarint
// already implement exactly this scheme, so this file is a thin
// wrapper adding the bounds/overflow checks the delta header and
// decoder need instead of reimplementing the bit-twiddling by hand.

// putUvarint appends the varint encoding of v to buf and returns the
// extended slice.
func putUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// uvarint decodes a varint from the front of buf, returning the value
// and the number of bytes consumed. It fails with ErrSourceBad if buf
// ends before a terminating byte appears, or if the value would
// overflow 64 bits.
func uvarint(buf []byte) (uint64, int, error) {
	v, n := binary.Uvarint(buf)
	if n == 0 {
		return 0, 0, ErrSourceBad
	}
	if n < 0 {
		// buf[:-n] overflowed 64 bits.
		return 0, 0, ErrSourceBad
	}
	return v, n, nil
}
