package deltamove_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/blitsync/blit/internal/deltamove"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeSignatureAndMatchIdenticalFiles(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 4000) // > 64 KiB
	sig, err := deltamove.ComputeSignature(bytes.NewReader(data), int64(len(data)), 4096)
	require.NoError(t, err)
	require.NotEmpty(t, sig.Blocks)

	ops, err := deltamove.MatchBlocks(bytes.NewReader(data), sig)
	require.NoError(t, err)

	stats := deltamove.ComputeStats(ops)
	assert.Zero(t, stats.LiteralBytes)
	assert.Equal(t, len(sig.Blocks), stats.MatchedBlocks)

	var out bytes.Buffer
	require.NoError(t, deltamove.ApplyDelta(bytes.NewReader(data), ops, &out))
	assert.Equal(t, data, out.Bytes())
}

func TestMatchBlocksDetectsAppendedTail(t *testing.T) {
	t.Parallel()

	basis := strings.Repeat("A", 4096*3)
	sig, err := deltamove.ComputeSignature(strings.NewReader(basis), int64(len(basis)), 4096)
	require.NoError(t, err)

	modified := basis + strings.Repeat("B", 100)
	ops, err := deltamove.MatchBlocks(strings.NewReader(modified), sig)
	require.NoError(t, err)

	stats := deltamove.ComputeStats(ops)
	assert.Equal(t, int64(100), stats.LiteralBytes)
	assert.Equal(t, 3, stats.MatchedBlocks)

	var out bytes.Buffer
	require.NoError(t, deltamove.ApplyDelta(strings.NewReader(basis), ops, &out))
	assert.Equal(t, modified, out.String())
}

// TestMatchBlocksResyncsAfterSubBlockChange covers spec.md §8 scenario 2: a
// small in-place change that doesn't land on a block boundary, forcing the
// scan to roll the checksum byte-by-byte across most of the first block
// before it resyncs with the unaffected blocks that follow. This is the one
// path through MatchBlocks that exercises rollingChecksum.roll repeatedly
// instead of always hitting reset() at a fresh block boundary.
func TestMatchBlocksResyncsAfterSubBlockChange(t *testing.T) {
	t.Parallel()

	const blockSize = 1024
	basis := bytes.Repeat([]byte("0123456789abcdef"), blockSize*3/16) // 3 blocks
	require.Len(t, basis, blockSize*3)

	modified := append([]byte(nil), basis...)
	copy(modified[500:517], bytes.Repeat([]byte{'X'}, 17))

	sig, err := deltamove.ComputeSignature(bytes.NewReader(basis), int64(len(basis)), blockSize)
	require.NoError(t, err)
	require.Len(t, sig.Blocks, 3)

	ops, err := deltamove.MatchBlocks(bytes.NewReader(modified), sig)
	require.NoError(t, err)

	stats := deltamove.ComputeStats(ops)
	// The basis repeats every 16 bytes, so every block has the same content.
	// The rolling scan resyncs at offset 528, the first 16-aligned window
	// clear of the changed bytes, and matches two full windows there
	// (528-1552, 1552-2576); the 528 leading and 496 trailing bytes go out
	// as literals, 1024 literal bytes in all.
	assert.Equal(t, int64(blockSize), stats.LiteralBytes)
	assert.Equal(t, 2, stats.MatchedBlocks)

	var out bytes.Buffer
	require.NoError(t, deltamove.ApplyDelta(bytes.NewReader(basis), ops, &out))
	assert.Equal(t, modified, out.Bytes())
}

func TestMatchBlocksFallsBackToLiteralOnStrongHashMismatch(t *testing.T) {
	t.Parallel()

	const blockSize = 64
	block := bytes.Repeat([]byte("weak-hash-collision-probe-"), 3)[:blockSize]

	sig, err := deltamove.ComputeSignature(bytes.NewReader(block), int64(len(block)), blockSize)
	require.NoError(t, err)
	require.Len(t, sig.Blocks, 1)

	// Corrupt the recorded strong hash so the weak hash still matches (the
	// source bytes are unchanged) but the strong-hash confirmation fails,
	// exactly the case wire.ErrDeltaMismatch names: a weak-hash hit that
	// the strong hash then refuses to confirm.
	sig.Blocks[0].StrongHash[0] ^= 0xFF

	ops, err := deltamove.MatchBlocks(bytes.NewReader(block), sig)
	require.NoError(t, err)

	stats := deltamove.ComputeStats(ops)
	assert.Equal(t, 0, stats.MatchedBlocks)
	assert.Equal(t, int64(blockSize), stats.LiteralBytes)

	var out bytes.Buffer
	require.NoError(t, deltamove.ApplyDelta(bytes.NewReader(nil), ops, &out))
	assert.Equal(t, block, out.Bytes())
}

func TestMatchBlocksNoBasisIsAllLiteral(t *testing.T) {
	t.Parallel()

	ops, err := deltamove.MatchBlocks(strings.NewReader("hello world"), deltamove.Signature{})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, -1, ops[0].BlockIdx)
	assert.Equal(t, "hello world", string(ops[0].Literal))
}

func TestSignatureRoundTripsOverWire(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF, 0x01}, 5000)
	sig, err := deltamove.ComputeSignature(bytes.NewReader(data), int64(len(data)), 1024)
	require.NoError(t, err)

	encoded := deltamove.EncodeSignature(sig)
	decoded, err := deltamove.DecodeSignature(encoded)
	require.NoError(t, err)

	require.Equal(t, len(sig.Blocks), len(decoded.Blocks))
	for i := range sig.Blocks {
		assert.Equal(t, sig.Blocks[i].Offset, decoded.Blocks[i].Offset)
		assert.Equal(t, sig.Blocks[i].WeakHash, decoded.Blocks[i].WeakHash)
		assert.Equal(t, sig.Blocks[i].StrongHash, decoded.Blocks[i].StrongHash)
	}
}

func TestNeedRangesRoundTrip(t *testing.T) {
	t.Parallel()

	encoded := deltamove.EncodeNeedRanges("dir/big.bin")
	decoded, err := deltamove.DecodeNeedRanges(encoded)
	require.NoError(t, err)
	assert.Equal(t, "dir/big.bin", decoded)
}

func TestOpRoundTrip(t *testing.T) {
	t.Parallel()

	basis := []deltamove.BlockSignature{{Offset: 0, Length: 64}, {Offset: 64, Length: 64}}

	blockOp := deltamove.Op{BlockIdx: 1, Offset: 64, Length: 64}
	decoded, err := deltamove.DecodeOp(deltamove.EncodeOp(blockOp), basis)
	require.NoError(t, err)
	assert.Equal(t, blockOp, decoded)

	litOp := deltamove.Op{BlockIdx: -1, Length: 5, Literal: []byte("hello")}
	decodedLit, err := deltamove.DecodeOp(deltamove.EncodeOp(litOp), basis)
	require.NoError(t, err)
	assert.Equal(t, litOp, decodedLit)
}

func TestDecodeOpRejectsUnknownBlock(t *testing.T) {
	t.Parallel()

	_, err := deltamove.DecodeOp(deltamove.EncodeOp(deltamove.Op{BlockIdx: 3}), nil)
	assert.Error(t, err)
}
