package delta

// DeltaSizeMin is the smallest possible well-formed delta: a header
// recording a zero-length source and target, plus nothing else, does
// not qualify — the historical minimum is "target size, copy command,
// copy length" worth of bytes.
const DeltaSizeMin = 3

// Apply reconstructs a target buffer by applying delta to source.
// It performs full bounds checking and never reads or writes outside
// either buffer; any malformed input — truncation, a declared size
// mismatch, an out-of-bounds copy, a reserved opcode — is reported as
// ErrSourceBad rather than causing a partial or out-of-bounds result.
func Apply(source, delta []byte) ([]byte, error) {
	if len(delta) < DeltaSizeMin {
		return nil, ErrSourceBad
	}

	srcSize, n, err := uvarint(delta)
	if err != nil {
		return nil, err
	}
	delta = delta[n:]
	if srcSize != uint64(len(source)) {
		return nil, ErrSourceBad
	}

	tgtSize, n, err := uvarint(delta)
	if err != nil {
		return nil, err
	}
	delta = delta[n:]

	out := make([]byte, 0, tgtSize)
	rem := tgtSize

	for len(delta) > 0 {
		cmd := delta[0]
		delta = delta[1:]

		switch {
		case cmd&0x80 != 0:
			var off, size uint64
			for i, bit := range [4]byte{0x01, 0x02, 0x04, 0x08} {
				if cmd&bit == 0 {
					continue
				}
				if len(delta) == 0 {
					return nil, ErrSourceBad
				}
				off |= uint64(delta[0]) << (8 * uint(i))
				delta = delta[1:]
			}
			for i, bit := range [3]byte{0x10, 0x20, 0x40} {
				if cmd&bit == 0 {
					continue
				}
				if len(delta) == 0 {
					return nil, ErrSourceBad
				}
				size |= uint64(delta[0]) << (8 * uint(i))
				delta = delta[1:]
			}
			if size == 0 {
				size = 0x10000
			}
			if off+size < off || off+size > uint64(len(source)) {
				return nil, ErrSourceBad
			}
			if size > rem {
				return nil, ErrSourceBad
			}
			out = append(out, source[off:off+size]...)
			rem -= size

		case cmd == 0:
			return nil, ErrSourceBad

		default:
			n := uint64(cmd)
			if n > rem || uint64(len(delta)) < n {
				return nil, ErrSourceBad
			}
			out = append(out, delta[:n]...)
			delta = delta[n:]
			rem -= n
		}
	}

	if rem != 0 {
		return nil, ErrSourceBad
	}
	return out, nil
}
