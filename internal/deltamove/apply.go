package deltamove

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/blitsync/blit/internal/wire"
)

// Op is a single reconstruction instruction. If BlockIdx >= 0, the
// receiver copies that block from its own (locally held, older-version)
// copy of the file; otherwise Literal carries new bytes sent over the wire.
type Op struct {
	Literal  []byte
	Offset   int64
	BlockIdx int
	Length   int
}

// MatchBlocks scans src against a basis Signature using a true rolling
// checksum: after the first block-sized window, weakHash advances by one
// byte per iteration via rollingChecksum.roll rather than being
// recomputed from scratch, giving an O(n) scan where the teacher's
// MatchBlocks was O(n*blockSize).
func MatchBlocks(src io.Reader, sig Signature) ([]Op, error) {
	if len(sig.Blocks) == 0 {
		data, err := io.ReadAll(src)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, nil
		}
		return []Op{{BlockIdx: -1, Length: len(data), Literal: data}}, nil
	}

	type candidate struct {
		strong StrongHash
		index  int
		offset int64
	}
	weakMap := make(map[uint32][]candidate, len(sig.Blocks))
	for _, b := range sig.Blocks {
		weakMap[b.WeakHash] = append(weakMap[b.WeakHash], candidate{
			index: b.Index, strong: b.StrongHash, offset: b.Offset,
		})
	}

	blockSize := sig.BlockSize
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}

	var ops []Op
	var literal []byte
	flush := func() {
		if len(literal) > 0 {
			ops = append(ops, Op{BlockIdx: -1, Length: len(literal), Literal: literal})
			literal = nil
		}
	}

	i := 0
	var rc rollingChecksum
	windowValid := false
	for i < len(data) {
		end := i + blockSize
		if end > len(data) {
			end = len(data)
		}
		window := data[i:end]

		if !windowValid || len(window) != blockSize {
			rc.reset(window)
			windowValid = len(window) == blockSize
		}

		matched := false
		if candidates, ok := weakMap[rc.sum()]; ok {
			strong := truncatedBlake3(window)
			for _, c := range candidates {
				if c.strong == strong {
					flush()
					ops = append(ops, Op{BlockIdx: c.index, Offset: c.offset, Length: len(window)})
					i += len(window)
					matched = true
					windowValid = false
					break
				}
			}
			if !matched {
				// The weak hash collided with a basis block but the strong
				// hash didn't confirm it: a genuine content difference, not
				// a bug, but still the exact condition ErrDeltaMismatch
				// names. The window falls through to the literal path
				// below and the transfer still completes correctly, so
				// this is logged rather than returned.
				mismatchErr := fmt.Errorf("%w: offset %d weak hash %#x matched %d basis block(s), none confirmed by strong hash",
					wire.ErrDeltaMismatch, i, rc.sum(), len(candidates))
				slog.Debug("delta block weak-hash collision", "error", mismatchErr)
			}
		}

		if !matched {
			literal = append(literal, data[i])
			if windowValid {
				// Slide the window forward by one byte, rolling the
				// checksum incrementally instead of rehashing.
				next := i + blockSize
				var inByte byte
				if next < len(data) {
					inByte = data[next]
				} else {
					windowValid = false
				}
				if windowValid {
					rc.roll(data[i], inByte, uint32(blockSize))
				}
			}
			i++
		}
	}

	flush()
	return ops, nil
}

// ApplyDelta reconstructs a file by copying matched ranges from basis (the
// receiver's own older copy, addressed by NEED_RANGES) and literal bytes
// received over DELTA_DATA, writing the result to dst in op order.
func ApplyDelta(basis io.ReadSeeker, ops []Op, dst io.Writer) error {
	for _, op := range ops {
		if op.BlockIdx >= 0 {
			if _, err := basis.Seek(op.Offset, io.SeekStart); err != nil {
				return err
			}
			buf := make([]byte, op.Length)
			if _, err := io.ReadFull(basis, buf); err != nil {
				return err
			}
			if _, err := dst.Write(buf); err != nil {
				return err
			}
			continue
		}
		if _, err := dst.Write(op.Literal); err != nil {
			return err
		}
	}
	return nil
}

// Stats summarizes a completed match for session counters and the "block
// match ratio" logging spec.md's stats section calls for.
type Stats struct {
	MatchedBlocks int
	LiteralBytes  int64
}

// ComputeStats tallies matched-block count and literal byte volume from a
// completed op list.
func ComputeStats(ops []Op) Stats {
	var s Stats
	for _, op := range ops {
		if op.BlockIdx >= 0 {
			s.MatchedBlocks++
		} else {
			s.LiteralBytes += int64(op.Length)
		}
	}
	return s
}
