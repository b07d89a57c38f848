package deltamove

import (
	"encoding/binary"
	"fmt"

	"github.com/blitsync/blit/internal/wire"
)

// EncodeSignature serializes a Signature into a DELTA_SIG payload:
// blockSize(u32) fileSize(u64) blockCount(u32), then per block
// offset(u64) length(u32) weakHash(u32) strongHash(16 bytes).
func EncodeSignature(sig Signature) []byte {
	buf := make([]byte, 0, 16+len(sig.Blocks)*36)
	var tmp [8]byte

	binary.BigEndian.PutUint32(tmp[:4], uint32(sig.BlockSize)) //nolint:gosec // block size fits u32
	buf = append(buf, tmp[:4]...)
	binary.BigEndian.PutUint64(tmp[:8], uint64(sig.FileSize)) //nolint:gosec // file size is non-negative
	buf = append(buf, tmp[:8]...)
	binary.BigEndian.PutUint32(tmp[:4], uint32(len(sig.Blocks)))
	buf = append(buf, tmp[:4]...)

	for _, b := range sig.Blocks {
		binary.BigEndian.PutUint64(tmp[:8], uint64(b.Offset)) //nolint:gosec // offset is non-negative
		buf = append(buf, tmp[:8]...)
		binary.BigEndian.PutUint32(tmp[:4], uint32(b.Length))
		buf = append(buf, tmp[:4]...)
		binary.BigEndian.PutUint32(tmp[:4], b.WeakHash)
		buf = append(buf, tmp[:4]...)
		buf = append(buf, b.StrongHash[:]...)
	}
	return buf
}

// DecodeSignature parses a DELTA_SIG payload produced by EncodeSignature.
func DecodeSignature(payload []byte) (Signature, error) {
	if len(payload) < 16 {
		return Signature{}, fmt.Errorf("%w: delta signature header truncated", wire.ErrProtocolViolation)
	}
	sig := Signature{
		BlockSize: int(binary.BigEndian.Uint32(payload[0:4])),
		FileSize:  int64(binary.BigEndian.Uint64(payload[4:12])),
	}
	count := binary.BigEndian.Uint32(payload[12:16])
	off := 16

	sig.Blocks = make([]BlockSignature, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+32 > len(payload) {
			return Signature{}, fmt.Errorf("%w: delta signature block truncated", wire.ErrProtocolViolation)
		}
		b := BlockSignature{
			Index:    int(i),
			Offset:   int64(binary.BigEndian.Uint64(payload[off : off+8])),
			Length:   int(binary.BigEndian.Uint32(payload[off+8 : off+12])),
			WeakHash: binary.BigEndian.Uint32(payload[off+12 : off+16]),
		}
		copy(b.StrongHash[:], payload[off+16:off+32])
		sig.Blocks = append(sig.Blocks, b)
		off += 32
	}
	return sig, nil
}

// EncodeNeedRanges serializes the receiver's opt-in to a delta transfer for
// one path: the receiver already holds a differing copy of relPath and asks
// the sender to run the block-signature exchange instead of a raw transfer.
func EncodeNeedRanges(relPath string) []byte {
	buf := make([]byte, 4, 4+len(relPath))
	binary.BigEndian.PutUint32(buf, uint32(len(relPath))) //nolint:gosec // path length fits u32
	return append(buf, relPath...)
}

// DecodeNeedRanges parses a NEED_RANGES payload.
func DecodeNeedRanges(payload []byte) (string, error) {
	if len(payload) < 4 {
		return "", fmt.Errorf("%w: need-ranges header truncated", wire.ErrProtocolViolation)
	}
	n := binary.BigEndian.Uint32(payload[0:4])
	if uint32(len(payload)) < 4+n { //nolint:gosec // n bounded by frame size already
		return "", fmt.Errorf("%w: need-ranges body truncated", wire.ErrProtocolViolation)
	}
	return string(payload[4 : 4+n]), nil
}

// EncodeOp serializes one Op for DELTA_DATA framing: a one-byte tag (0 =
// block reference, 1 = literal), then either a u32 block index or a u32
// length followed by the literal bytes.
func EncodeOp(op Op) []byte {
	if op.BlockIdx >= 0 {
		buf := make([]byte, 5)
		buf[0] = 0
		binary.BigEndian.PutUint32(buf[1:5], uint32(op.BlockIdx))
		return buf
	}
	buf := make([]byte, 5+len(op.Literal))
	buf[0] = 1
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(op.Literal)))
	copy(buf[5:], op.Literal)
	return buf
}

// DecodeOp parses one DELTA_DATA payload back into an Op. basisBlocks
// resolves a block-reference tag into the concrete offset/length recorded
// in the signature the receiver already sent.
func DecodeOp(payload []byte, basisBlocks []BlockSignature) (Op, error) {
	if len(payload) < 5 {
		return Op{}, fmt.Errorf("%w: delta op truncated", wire.ErrProtocolViolation)
	}
	switch payload[0] {
	case 0:
		idx := int(binary.BigEndian.Uint32(payload[1:5]))
		if idx < 0 || idx >= len(basisBlocks) {
			return Op{}, fmt.Errorf("%w: delta op references unknown block %d", wire.ErrProtocolViolation, idx)
		}
		b := basisBlocks[idx]
		return Op{BlockIdx: idx, Offset: b.Offset, Length: b.Length}, nil
	case 1:
		n := binary.BigEndian.Uint32(payload[1:5])
		if uint32(len(payload)) < 5+n { //nolint:gosec // n bounded by frame size already
			return Op{}, fmt.Errorf("%w: delta literal truncated", wire.ErrProtocolViolation)
		}
		literal := make([]byte, n)
		copy(literal, payload[5:5+n])
		return Op{BlockIdx: -1, Length: int(n), Literal: literal}, nil
	default:
		return Op{}, fmt.Errorf("%w: unknown delta op tag %d", wire.ErrProtocolViolation, payload[0])
	}
}
