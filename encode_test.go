package delta

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestEncodeIdentity is the literal "identity" scenario: source and
// target are the same 43-byte buffer, so the whole thing collapses
// into a single copy instruction.
func TestEncodeIdentity(t *testing.T) {
	buf := []byte("The quick brown fox jumps over the lazy dog")
	require.Len(t, buf, 43)

	idx := NewIndex(0)
	require.NoError(t, idx.AddSource(buf, 0))
	out, err := Encode(idx, buf, 0)
	require.NoError(t, err)

	want := []byte{0x2b, 0x2b, 0x90, 0x2b}
	require.Equal(t, want, out)

	got, err := Apply(buf, out)
	require.NoError(t, err)
	require.Equal(t, buf, got)
}

// TestEncodePureAppend is the literal "pure append" scenario: target
// is source plus one trailing byte, so the delta is a full-length
// copy followed by a one-byte insert.
func TestEncodePureAppend(t *testing.T) {
	source := bytes.Repeat([]byte("hello"), 4)
	require.Len(t, source, 20)
	target := append(append([]byte{}, source...), '!')

	idx := NewIndex(0)
	require.NoError(t, idx.AddSource(source, 0))
	out, err := Encode(idx, target, 0)
	require.NoError(t, err)

	want := []byte{0x14, 0x15, 0x90, 0x14, 0x01, '!'}
	require.Equal(t, want, out)

	got, err := Apply(source, out)
	require.NoError(t, err)
	require.Equal(t, target, got)
}

// TestEncodeMiddleEdit replaces a short run in the middle of a buffer
// large enough that both the surviving head and tail exceed
// RabinWindow, so the encoder can anchor a copy on each side of the
// inserted bytes.
func TestEncodeMiddleEdit(t *testing.T) {
	head := bytes.Repeat([]byte("abcdefghij"), 4) // 40 bytes, unique-ish
	tail := bytes.Repeat([]byte("0123456789"), 4) // 40 bytes
	source := append(append([]byte{}, head...), tail...)

	target := append(append([]byte{}, head...), []byte("XYZ")...)
	target = append(target, tail...)

	idx := NewIndex(0)
	require.NoError(t, idx.AddSource(source, 0))
	out, err := Encode(idx, target, 0)
	require.NoError(t, err)

	got, err := Apply(source, out)
	require.NoError(t, err)
	require.Equal(t, target, got)

	// A useful delta here must be substantially smaller than encoding
	// target as pure literal insert data.
	require.Less(t, len(out), len(target))
}

// TestEncodeMultiSource builds an Index from two distinct buffers and
// a target spliced from both, confirming copies can reference either
// source's slot in the aggregate offset space and that decoding
// against the concatenation of both sources reproduces the target.
func TestEncodeMultiSource(t *testing.T) {
	s1 := make([]byte, 64)
	s2 := make([]byte, 64)
	for i := range s1 {
		s1[i] = byte(i*7 + 11)
		s2[i] = byte(i*13 + 200)
	}

	idx := NewIndex(0)
	require.NoError(t, idx.AddSource(s1, 0))
	require.NoError(t, idx.AddSource(s2, 0))
	require.Equal(t, uint64(64), idx.sources[1].AggOffset)

	target := append(append([]byte{}, s1[:32]...), s2[:32]...)
	out, err := Encode(idx, target, 0)
	require.NoError(t, err)

	aggregate := append(append([]byte{}, s1...), s2...)
	got, err := Apply(aggregate, out)
	require.NoError(t, err)
	require.Equal(t, target, got)

	// Exercising both sources should beat storing the target literally.
	require.Less(t, len(out), len(target))
}

func TestEncodeRejectsEmptyTarget(t *testing.T) {
	idx := NewIndex(0)
	require.NoError(t, idx.AddSource(bytes.Repeat([]byte{1}, 32), 0))
	_, err := Encode(idx, nil, 0)
	require.ErrorIs(t, err, ErrBufferEmpty)
}

func TestEncodeRequiresIndex(t *testing.T) {
	_, err := Encode(nil, []byte("x"), 0)
	require.ErrorIs(t, err, ErrIndexNeeded)
}

// TestEncodeSizeLimitAborts confirms an over-budget target aborts
// cleanly with no partial delta, per the max_delta_size contract.
func TestEncodeSizeLimitAborts(t *testing.T) {
	idx := NewIndex(0)
	require.NoError(t, idx.AddSource(bytes.Repeat([]byte{1}, 32), 0))

	target := make([]byte, 4096)
	for i := range target {
		// Incompressible against the index: no 16-byte window of the
		// target matches the all-ones source.
		target[i] = byte(i*97 + 53)
	}

	_, err := Encode(idx, target, 5)
	require.ErrorIs(t, err, ErrSizeTooBig)
}

func TestEmitCopySplitsOversizeMatches(t *testing.T) {
	out := emitCopy(nil, 0, maxCopyChunk+10)
	// Two chunks: one at the historical 0x10000 cap, one for the
	// remaining 10 bytes.
	n, size1, off := decodeSingleCopyForTest(t, out)
	require.Equal(t, uint64(0), off)
	require.Equal(t, uint64(0x10000), size1)

	_, size2, off2 := decodeSingleCopyForTest(t, out[n:])
	require.Equal(t, uint64(maxCopyChunk), off2)
	require.Equal(t, uint64(10), size2)
}

// decodeSingleCopyForTest parses exactly one copy instruction from
// the front of buf, returning how many bytes it consumed.
func decodeSingleCopyForTest(t *testing.T, buf []byte) (consumed int, size, off uint64) {
	t.Helper()
	require.NotEmpty(t, buf)
	cmd := buf[0]
	require.NotZero(t, cmd&0x80)
	cursor := 1
	for i, bit := range [4]byte{0x01, 0x02, 0x04, 0x08} {
		if cmd&bit != 0 {
			off |= uint64(buf[cursor]) << (8 * uint(i))
			cursor++
		}
	}
	for i, bit := range [3]byte{0x10, 0x20, 0x40} {
		if cmd&bit != 0 {
			size |= uint64(buf[cursor]) << (8 * uint(i))
			cursor++
		}
	}
	if size == 0 {
		size = 0x10000
	}
	return cursor, size, off
}
