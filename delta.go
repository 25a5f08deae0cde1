// Package delta implements a binary delta compression engine
// compatible with the xdelta-style / git-pack delta format: given one
// or more source buffers and a target buffer, it produces a compact
// sequence of copy-from-source and insert-literal instructions that
// reconstruct the target exactly, and applies such deltas back.
//
// Matches are located with a Rabin-style rolling hash over 16-byte
// windows (see RabinHash); an Index aggregates one or more sources,
// including the insert sections of a previously produced delta, into
// a single logical match table bounded in memory by sampling.
//
// The package is synchronous, CPU-bound, and allocation-light by
// design: it performs no I/O and holds no internal goroutines or
// locks, matching the scheduling model of every delta/patch codec in
// its reference lineage (git, xdelta, bzrlib's C delta_index).
package delta

import "github.com/pkg/errors"

// Result is the flat error-kind taxonomy every operation in this
// package that can fail returns one of (or a wrapped form of one, from
// the DeltaIndex convenience methods) — there is no global error
// state.
type Result int

const (
	// OK is not itself returned as an error; it exists so Result's
	// zero value names success rather than an unspecified failure.
	OK Result = iota
	OutOfMemory
	IndexNeeded
	SourceEmpty
	SourceBad
	BufferEmpty
	SizeTooBig
)

func (r Result) Error() string {
	switch r {
	case OK:
		return "delta: ok"
	case OutOfMemory:
		return "delta: out of memory"
	case IndexNeeded:
		return "delta: index needed"
	case SourceEmpty:
		return "delta: source empty"
	case SourceBad:
		return "delta: source bad"
	case BufferEmpty:
		return "delta: buffer empty"
	case SizeTooBig:
		return "delta: size too big"
	default:
		return "delta: unknown result"
	}
}

// Sentinel errors for the Result taxonomy, so callers can compare
// against a named value instead of a bare integer.
var (
	ErrOutOfMemory = OutOfMemory
	ErrIndexNeeded = IndexNeeded
	ErrSourceEmpty = SourceEmpty
	ErrSourceBad   = SourceBad
	ErrBufferEmpty = BufferEmpty
	ErrSizeTooBig  = SizeTooBig
)

// DeltaIndex is a long-lived index suitable for repeated MakeDelta
// calls against many targets.
type DeltaIndex struct {
	idx *Index
}

// NewDeltaIndex creates an empty DeltaIndex. maxBytesToIndex, if
// non-zero, bounds the memory spent sampling source positions.
func NewDeltaIndex(maxBytesToIndex uint64) *DeltaIndex {
	return &DeltaIndex{idx: NewIndex(maxBytesToIndex)}
}

// AddSource indexes buf as an additional source, advancing the
// aggregate cursor past unaddedBytes afterward.
func (d *DeltaIndex) AddSource(buf []byte, unaddedBytes uint64) error {
	return errors.Wrapf(d.idx.AddSource(buf, unaddedBytes), "add source of %d bytes", len(buf))
}

// AddDeltaSource indexes only the insert-literal regions of deltaBuf.
func (d *DeltaIndex) AddDeltaSource(deltaBuf []byte, unaddedBytes uint64) error {
	return errors.Wrap(d.idx.AddDeltaSource(deltaBuf, unaddedBytes), "add delta source")
}

// MakeDelta encodes target against the accumulated index. If
// maxDeltaSize is non-zero and the delta would exceed it,
// ErrSizeTooBig is returned and no partial result is produced.
func (d *DeltaIndex) MakeDelta(target []byte, maxDeltaSize uint64) ([]byte, error) {
	out, err := Encode(d.idx, target, maxDeltaSize)
	if err != nil {
		return nil, errors.Wrap(err, "make delta")
	}
	return out, nil
}

// Sizeof reports the DeltaIndex's memory footprint.
func (d *DeltaIndex) Sizeof() uint64 {
	return d.idx.Sizeof()
}

// MakeDelta builds a one-source index from source and encodes target
// against it. It returns ok=false if no beneficial delta exists: the
// encoder's output would be no smaller than an all-insert encoding of
// target, which is the caller's cue to store target verbatim instead.
func MakeDelta(source, target []byte) (delta []byte, ok bool) {
	idx := NewIndex(0)
	if err := idx.AddSource(source, 0); err != nil {
		return nil, false
	}
	out, err := Encode(idx, target, 0)
	if err != nil {
		return nil, false
	}
	if uint64(len(out)) >= allInsertSize(idx.AggregateSize(), target) {
		return nil, false
	}
	return out, true
}

// ApplyDelta reconstructs the target that MakeDelta (or Encode)
// produced from source.
func ApplyDelta(source, delta []byte) ([]byte, error) {
	return Apply(source, delta)
}

// allInsertSize computes the size of the all-insert encoding of
// target, used as MakeDelta's beneficial-delta threshold.
func allInsertSize(srcSize uint64, target []byte) uint64 {
	size := uint64(len(putUvarint(putUvarint(nil, srcSize), uint64(len(target)))))
	n := len(target)
	for n > 0 {
		chunk := n
		if chunk > maxInsertChunk {
			chunk = maxInsertChunk
		}
		size += uint64(1 + chunk)
		n -= chunk
	}
	return size
}
