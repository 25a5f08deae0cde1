package delta

import "sort"

// This file implements the multi-source match index: an arena of
// entries with a bucket-head table of int32 slot indices and
// intra-bucket chaining via a Next field, rather than a linked list of
// pointers — entries survive a backing-array regrowth because nothing
// ever holds a pointer into it. It aggregates multiple SourceInfo
// buffers with running agg_offset bookkeeping and enforces the
// HashLimit chain cap by pruning the highest-entropy overflow away.

// HashLimit is the maximum number of entries retained per hash
// bucket after pruning.
const HashLimit = 64

const (
	minHashSize = 1 << 4
	maxHashSize = 1 << 24
)

// SourceInfo describes one buffer that has been added to an Index.
// Buf must remain alive and unmodified for the Index's lifetime; the
// Index never copies or mutates it.
type SourceInfo struct {
	Buf       []byte
	Size      uint64
	AggOffset uint64
}

// entry is one sampled 16-byte window. It stores a slot index
// (srcIndex) rather than a pointer into SourceInfo, so source buffers
// can be appended to without invalidating any existing entry.
type entry struct {
	hash     uint32
	srcIndex uint16
	offset   uint32
	next     int32
	dead     bool
}

// Index is a hash table keyed by Rabin hash, whose entries point into
// one or more source buffers added in order. It is not safe for
// concurrent use by multiple goroutines calling Add*; concurrent
// read-only lookups against a frozen Index (no further Add* calls) are
// safe, since all pruning happens at insertion time.
type Index struct {
	sources         []SourceInfo
	maxBytesToIndex uint64
	aggCursor       uint64
	indexableTotal  uint64
	hashMask        uint32
	buckets         []int32
	entries         []entry
}

// NewIndex creates an empty Index. maxBytesToIndex, if non-zero,
// bounds the number of sampled positions to approximately
// maxBytesToIndex/RabinWindow, trading match accuracy for peak memory
// as sources grow large.
func NewIndex(maxBytesToIndex uint64) *Index {
	return &Index{maxBytesToIndex: maxBytesToIndex}
}

// AggregateSize returns the total number of bytes in the logical
// aggregate source space formed by every source (and unadded-bytes
// gap) added so far. This is the value encoded as the source size in
// a delta header.
func (idx *Index) AggregateSize() uint64 {
	return idx.aggCursor
}

// Sizeof reports the Index's own memory footprint: the hash array,
// the entry arena, and the SourceInfo list. It does not include the
// bytes of the source buffers themselves, which the Index borrows
// rather than owns.
func (idx *Index) Sizeof() uint64 {
	const bucketSize = 4
	const entrySize = 4 + 2 + 4 + 4 + 1
	const sourceInfoSize = 24 + 8 + 8 // slice header + size + agg_offset
	size := uint64(len(idx.buckets)) * bucketSize
	size += uint64(len(idx.entries)) * entrySize
	size += uint64(len(idx.sources)) * sourceInfoSize
	return size
}

// AddSource samples buf at the Index's current stride and inserts the
// sampled windows, appending a new SourceInfo whose AggOffset is the
// Index's current aggregate cursor. unaddedBytes advances the
// aggregate cursor past bytes the caller chose not to index (for
// example, bytes belonging to a sibling buffer sampled elsewhere).
//
// On failure the Index is left exactly as it was before the call.
func (idx *Index) AddSource(buf []byte, unaddedBytes uint64) error {
	newIndexable := idx.indexableTotal + uint64(len(buf))
	if newIndexable < RabinWindow {
		return ErrSourceEmpty
	}
	if len(idx.sources) >= 1<<16 {
		return ErrOutOfMemory
	}

	srcIndex := uint16(len(idx.sources))
	idx.sources = append(idx.sources, SourceInfo{
		Buf:       buf,
		Size:      uint64(len(buf)),
		AggOffset: idx.aggCursor,
	})
	idx.indexableTotal = newIndexable
	idx.aggCursor += uint64(len(buf)) + unaddedBytes

	if len(buf) < RabinWindow {
		return nil
	}

	stride := idx.sampleStride()
	start := len(idx.entries)

	for p := len(buf) - RabinWindow; p > 0; p -= int(stride) {
		h := RabinHash(buf[p : p+RabinWindow])
		idx.entries = append(idx.entries, entry{hash: h, srcIndex: srcIndex, offset: uint32(p), next: -1})
	}
	// Always keep the very first window reachable, regardless of
	// where the stride happens to land.
	h := RabinHash(buf[0:RabinWindow])
	idx.entries = append(idx.entries, entry{hash: h, srcIndex: srcIndex, offset: 0, next: -1})

	if len(idx.buckets) == 0 || len(idx.entries) > len(idx.buckets) {
		idx.grow()
	} else {
		idx.linkNew(start)
	}
	idx.pruneTouched(start)
	return nil
}

// AddDeltaSource scans delta (a buffer in the format produced by
// Encode/MakeDelta) and indexes only its insert-literal payload
// regions, skipping copy control bytes entirely — mirroring bzrlib's
// create_delta_index_from_delta. The delta's own header-declared sizes
// are not consulted.
func (idx *Index) AddDeltaSource(deltaBuf []byte, unaddedBytes uint64) error {
	regions, err := insertRegions(deltaBuf)
	if err != nil {
		return err
	}
	total := 0
	for _, r := range regions {
		total += r.length
	}
	buf := make([]byte, 0, total)
	for _, r := range regions {
		buf = append(buf, deltaBuf[r.offset:r.offset+r.length]...)
	}
	return idx.AddSource(buf, unaddedBytes)
}

func (idx *Index) sampleStride() uint64 {
	if idx.maxBytesToIndex == 0 || idx.indexableTotal <= idx.maxBytesToIndex {
		return RabinWindow
	}
	maxSamples := idx.maxBytesToIndex / RabinWindow
	if maxSamples == 0 {
		maxSamples = 1
	}
	stride := ceilDiv(idx.indexableTotal, maxSamples)
	stride = roundUpMultiple(stride, RabinWindow)
	if stride < RabinWindow {
		stride = RabinWindow
	}
	return stride
}

// lookup returns a zero-allocation cursor over the entries in the
// bucket for hash h; the cursor yields only entries whose stored hash
// equals h, skipping bucket collisions with other hashes.
func (idx *Index) lookup(h uint32) matchIter {
	if len(idx.buckets) == 0 {
		return matchIter{idx: idx, hash: h, cur: -1}
	}
	b := h & idx.hashMask
	return matchIter{idx: idx, hash: h, cur: idx.buckets[b]}
}

type matchIter struct {
	idx  *Index
	hash uint32
	cur  int32
}

// Next advances the cursor and returns the arena index of the next
// entry whose hash matches, or ok=false when the chain is exhausted.
func (it *matchIter) Next() (int32, bool) {
	for it.cur >= 0 {
		cur := it.cur
		e := &it.idx.entries[cur]
		it.cur = e.next
		if e.hash == it.hash {
			return cur, true
		}
	}
	return -1, false
}

func (idx *Index) grow() {
	size := clampPow2(uint64(len(idx.entries)), minHashSize, maxHashSize)
	idx.buckets = make([]int32, size)
	for i := range idx.buckets {
		idx.buckets[i] = -1
	}
	idx.hashMask = uint32(size - 1)
	for i := range idx.entries {
		idx.entries[i].next = -1
		if idx.entries[i].dead {
			continue
		}
		b := idx.entries[i].hash & idx.hashMask
		idx.entries[i].next = idx.buckets[b]
		idx.buckets[b] = int32(i)
	}
}

func (idx *Index) linkNew(start int) {
	for i := start; i < len(idx.entries); i++ {
		b := idx.entries[i].hash & idx.hashMask
		idx.entries[i].next = idx.buckets[b]
		idx.buckets[b] = int32(i)
	}
}

func (idx *Index) pruneTouched(start int) {
	var seen map[uint32]bool
	for i := start; i < len(idx.entries); i++ {
		if idx.entries[i].dead {
			continue
		}
		b := idx.entries[i].hash & idx.hashMask
		if seen == nil {
			seen = make(map[uint32]bool)
		}
		if seen[b] {
			continue
		}
		seen[b] = true
		idx.pruneBucket(b)
	}
}

// pruneBucket enforces HashLimit on bucket b: if the chain is longer
// than HashLimit, it keeps the HashLimit lowest-entropy entries (ties
// broken by earliest aggregate offset) and marks the rest dead.
func (idx *Index) pruneBucket(b uint32) {
	var chain []int32
	for cur := idx.buckets[b]; cur >= 0; cur = idx.entries[cur].next {
		chain = append(chain, cur)
	}
	if len(chain) <= HashLimit {
		return
	}

	order := make(map[int32]int, len(chain))
	for i, c := range chain {
		order[c] = i
	}

	ranked := append([]int32(nil), chain...)
	sort.Slice(ranked, func(i, j int) bool {
		ei, ej := &idx.entries[ranked[i]], &idx.entries[ranked[j]]
		wi := idx.windowEntropy(*ei)
		wj := idx.windowEntropy(*ej)
		if wi != wj {
			return wi < wj
		}
		oi := idx.sources[ei.srcIndex].AggOffset + uint64(ei.offset)
		oj := idx.sources[ej.srcIndex].AggOffset + uint64(ej.offset)
		return oi < oj
	})

	keep := make(map[int32]bool, HashLimit)
	for _, c := range ranked[:HashLimit] {
		keep[c] = true
	}
	for _, c := range chain {
		if !keep[c] {
			idx.entries[c].dead = true
		}
	}

	survivors := make([]int32, 0, HashLimit)
	for _, c := range chain {
		if keep[c] {
			survivors = append(survivors, c)
		}
	}
	sort.Slice(survivors, func(i, j int) bool {
		return order[survivors[i]] < order[survivors[j]]
	})

	idx.buckets[b] = -1
	for i := len(survivors) - 1; i >= 0; i-- {
		idx.entries[survivors[i]].next = idx.buckets[b]
		idx.buckets[b] = survivors[i]
	}
}

func (idx *Index) windowEntropy(e entry) int {
	buf := idx.sources[e.srcIndex].Buf[e.offset : e.offset+RabinWindow]
	var seen [256]bool
	n := 0
	for _, b := range buf {
		if !seen[b] {
			seen[b] = true
			n++
		}
	}
	return n
}

// EntryAt returns the aggregate-space offset and Rabin hash of the
// pos'th entry in the index's arena (including dead, pruned entries),
// mirroring bzrlib/delta.h's get_entry_summary. It is meant for tests
// that assert indexing invariants without reaching into unexported
// fields from another package.
func (idx *Index) EntryAt(pos int) (textOffset uint64, hashVal uint32, ok bool) {
	if pos < 0 || pos >= len(idx.entries) {
		return 0, 0, false
	}
	e := idx.entries[pos]
	src := idx.sources[e.srcIndex]
	return src.AggOffset + uint64(e.offset), e.hash, true
}

// HashOffsetAt returns the bucket-chain head stored at bucket pos,
// mirroring bzrlib/delta.h's get_hash_offset.
func (idx *Index) HashOffsetAt(pos int) (entryOffset int32, ok bool) {
	if pos < 0 || pos >= len(idx.buckets) {
		return -1, false
	}
	return idx.buckets[pos], true
}

// BucketLen reports the number of live entries reachable from the
// bucket hash h maps to.
func (idx *Index) BucketLen(h uint32) int {
	if len(idx.buckets) == 0 {
		return 0
	}
	n := 0
	for cur := idx.buckets[h&idx.hashMask]; cur >= 0; cur = idx.entries[cur].next {
		n++
	}
	return n
}

// MaxBucketLen returns the longest live chain across every bucket;
// tests use it to assert the HashLimit invariant holds everywhere.
func (idx *Index) MaxBucketLen() int {
	max := 0
	for b := range idx.buckets {
		n := 0
		for cur := idx.buckets[b]; cur >= 0; cur = idx.entries[cur].next {
			n++
		}
		if n > max {
			max = n
		}
	}
	return max
}

func clampPow2(v, lo, hi uint64) uint64 {
	p := nextPow2(v)
	if p < lo {
		p = lo
	}
	if p > hi {
		p = hi
	}
	return p
}

func nextPow2(v uint64) uint64 {
	if v < 1 {
		return 1
	}
	p := uint64(1)
	for p < v {
		p <<= 1
	}
	return p
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return a
	}
	return (a + b - 1) / b
}

func roundUpMultiple(v, m uint64) uint64 {
	if m == 0 {
		return v
	}
	return ((v + m - 1) / m) * m
}
