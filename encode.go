package delta

import "bytes"

// minCopyLength is the break-even threshold: the smallest match whose
// copy instruction is cheaper to emit than inserting the same bytes
// literally.
const minCopyLength = 4

// maxInsertChunk and maxCopyChunk are the largest payload a single
// insert or copy instruction can carry: an insert's cmd byte doubles
// as its length (1..127), and a copy's historical encoding reserves
// size 0 to mean 0x10000 rather than literal zero.
const (
	maxInsertChunk = 0x7f
	maxCopyChunk   = 0x10000
)

// Encode walks target against idx's indexed sources and emits a delta
// stream: a header (source size, target size) followed by copy and
// insert instructions. The greedy matcher extends a hash-verified
// candidate both backward and forward before committing to it,
// generalized from a single source buffer to the multi-source Index
// and bounded by maxDeltaSize.
func Encode(idx *Index, target []byte, maxDeltaSize uint64) ([]byte, error) {
	if idx == nil {
		return nil, ErrIndexNeeded
	}
	if len(target) == 0 {
		return nil, ErrBufferEmpty
	}

	out := make([]byte, 0, len(target)/2+16)
	out = putUvarint(out, idx.AggregateSize())
	out = putUvarint(out, uint64(len(target)))

	checkSize := func() error {
		if maxDeltaSize > 0 && uint64(len(out)) > maxDeltaSize {
			return ErrSizeTooBig
		}
		return nil
	}
	if err := checkSize(); err != nil {
		return nil, err
	}

	flush := func(pending, end int) (int, error) {
		if end > pending {
			out = emitInsert(out, target[pending:end])
			if err := checkSize(); err != nil {
				return pending, err
			}
		}
		return end, nil
	}

	n := len(target)
	pending := 0
	i := 0
	var hash uint32
	haveHash := false

	for i < n {
		if n-i < RabinWindow {
			break
		}
		if !haveHash {
			hash = RabinHash(target[i : i+RabinWindow])
			haveHash = true
		}

		bestLen := 0
		var bestOff uint64
		bestStart, bestEnd := 0, 0

		it := idx.lookup(hash)
		for {
			eIdx, ok := it.Next()
			if !ok {
				break
			}
			e := idx.entries[eIdx]
			src := idx.sources[e.srcIndex]
			so := int(e.offset)
			if so+RabinWindow > len(src.Buf) {
				continue
			}
			if !bytes.Equal(src.Buf[so:so+RabinWindow], target[i:i+RabinWindow]) {
				continue
			}

			refStart, testStart := so, i
			for refStart > 0 && testStart > pending && src.Buf[refStart-1] == target[testStart-1] {
				refStart--
				testStart--
			}
			refEnd, testEnd := so+RabinWindow, i+RabinWindow
			for refEnd < len(src.Buf) && testEnd < n && src.Buf[refEnd] == target[testEnd] {
				refEnd++
				testEnd++
			}

			aggOff := src.AggOffset + uint64(refStart)
			if aggOff > 0xFFFFFFFF {
				// Offset does not fit the wire format's 32-bit copy
				// offset field; this candidate cannot be used.
				continue
			}
			length := testEnd - testStart
			if length > bestLen || (length == bestLen && aggOff < bestOff) {
				bestLen = length
				bestOff = aggOff
				bestStart = testStart
				bestEnd = testEnd
			}
		}

		if bestLen >= minCopyLength {
			var err error
			if pending, err = flush(pending, bestStart); err != nil {
				return nil, err
			}
			out = emitCopy(out, bestOff, uint64(bestLen))
			if err := checkSize(); err != nil {
				return nil, err
			}
			pending = bestEnd
			i = bestEnd
			haveHash = false
			continue
		}

		if i+RabinWindow < n {
			hash = rollRabin(hash, target[i], target[i+RabinWindow])
		} else {
			haveHash = false
		}
		i++
	}

	if _, err := flush(pending, n); err != nil {
		return nil, err
	}
	return out, nil
}

// emitInsert appends data to out as one or more insert instructions,
// each carrying at most maxInsertChunk payload bytes.
func emitInsert(out, data []byte) []byte {
	for len(data) > maxInsertChunk {
		out = append(out, maxInsertChunk)
		out = append(out, data[:maxInsertChunk]...)
		data = data[maxInsertChunk:]
	}
	if len(data) > 0 {
		out = append(out, byte(len(data)))
		out = append(out, data...)
	}
	return out
}

// emitCopy appends one or more copy instructions reproducing size
// bytes starting at off in the aggregate source space, splitting at
// maxCopyChunk boundaries as the historical format requires.
func emitCopy(out []byte, off, size uint64) []byte {
	for size > maxCopyChunk {
		out = emitCopyChunk(out, off, maxCopyChunk)
		off += maxCopyChunk
		size -= maxCopyChunk
	}
	return emitCopyChunk(out, off, size)
}

func emitCopyChunk(out []byte, off, size uint64) []byte {
	iop := len(out)
	out = append(out, 0)
	cmd := byte(0x80)

	if b := byte(off); b != 0 {
		cmd |= 0x01
		out = append(out, b)
	}
	if b := byte(off >> 8); b != 0 {
		cmd |= 0x02
		out = append(out, b)
	}
	if b := byte(off >> 16); b != 0 {
		cmd |= 0x04
		out = append(out, b)
	}
	if b := byte(off >> 24); b != 0 {
		cmd |= 0x08
		out = append(out, b)
	}

	if size != maxCopyChunk {
		if b := byte(size); b != 0 {
			cmd |= 0x10
			out = append(out, b)
		}
		if b := byte(size >> 8); b != 0 {
			cmd |= 0x20
			out = append(out, b)
		}
		if b := byte(size >> 16); b != 0 {
			cmd |= 0x40
			out = append(out, b)
		}
	}

	out[iop] = cmd
	return out
}
