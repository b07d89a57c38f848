package session

import (
	"fmt"
	"net"

	"github.com/blitsync/blit/internal/deltamove"
	"github.com/blitsync/blit/internal/fsys"
	"github.com/blitsync/blit/internal/manifest"
	"github.com/blitsync/blit/internal/wire"
)

// sendDelta drives the sender's half of the block-delta exchange for one
// path, per spec.md §4.8: read the receiver's block signature, scan the
// local (new) file for matching blocks, and stream the resulting ops.
func sendDelta(conn net.Conn, maxFrame int, read fsys.ReadEndpoint, entry manifest.Entry, counters *Counters) error {
	if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeDeltaStart, Payload: encodeDeltaStart(entry.RelPath)}, maxFrame); err != nil {
		return err
	}

	frame, err := wire.ReadFrame(conn, maxFrame)
	if err != nil {
		return err
	}
	if frame.Type != wire.TypeDeltaSig {
		return fmt.Errorf("%w: expected DELTA_SIG, got %s", wire.ErrProtocolViolation, wire.TypeName(frame.Type))
	}
	sig, err := deltamove.DecodeSignature(frame.Payload)
	if err != nil {
		return err
	}

	var rsc fsys.ReadSeekCloser
	if err := retryOnce(func() error {
		var openErr error
		rsc, openErr = read.OpenRead(entry.RelPath)
		return openErr
	}); err != nil {
		return err
	}
	defer rsc.Close()

	ops, err := deltamove.MatchBlocks(rsc, sig)
	if err != nil {
		return err
	}

	for _, op := range ops {
		if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeDeltaData, Payload: deltamove.EncodeOp(op)}, maxFrame); err != nil {
			return err
		}
	}
	if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeDeltaEnd}, maxFrame); err != nil {
		return err
	}

	stats := deltamove.ComputeStats(ops)
	counters.AddFilesSent(1)
	counters.AddBytesSent(stats.LiteralBytes)
	return nil
}

// recvDelta is the receiver's half: compute a signature of the existing
// file, send it, then apply the ops the sender streams back into a fresh
// temp file before committing it in place of the stale copy.
func recvDelta(conn net.Conn, maxFrame int, write fsys.WriteEndpoint, entry manifest.Entry, opts fsys.MetadataOpts, counters *Counters) error {
	var basis fsys.ReadSeekCloser
	if err := retryOnce(func() error {
		var openErr error
		basis, openErr = write.OpenRead(entry.RelPath)
		return openErr
	}); err != nil {
		return err
	}
	sig, err := deltamove.ComputeSignature(basis, sizeOf(basis), deltamove.DefaultBlockSize)
	_ = basis.Close()
	if err != nil {
		return err
	}

	if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeDeltaSig, Payload: deltamove.EncodeSignature(sig)}, maxFrame); err != nil {
		return err
	}

	var basisSeek fsys.ReadSeekCloser
	if err := retryOnce(func() error {
		var openErr error
		basisSeek, openErr = write.OpenRead(entry.RelPath)
		return openErr
	}); err != nil {
		return err
	}
	defer basisSeek.Close()

	var ops []deltamove.Op
	for {
		frame, err := wire.ReadFrame(conn, maxFrame)
		if err != nil {
			return err
		}
		if frame.Type == wire.TypeDeltaEnd {
			break
		}
		if frame.Type != wire.TypeDeltaData {
			return fmt.Errorf("%w: unexpected %s during delta transfer", wire.ErrProtocolViolation, wire.TypeName(frame.Type))
		}
		op, err := deltamove.DecodeOp(frame.Payload, sig.Blocks)
		if err != nil {
			return err
		}
		ops = append(ops, op)
	}

	var wf fsys.WriteFile
	if err := retryOnce(func() error {
		var createErr error
		wf, createErr = write.CreateTemp(entry.RelPath, fsysEntryFrom(entry).Mode.Perm())
		return createErr
	}); err != nil {
		return err
	}
	if err := deltamove.ApplyDelta(basisSeek, ops, wf); err != nil {
		_ = wf.Close()
		return err
	}
	if err := wf.Close(); err != nil {
		return err
	}
	if err := retryOnce(func() error { return write.Rename(wf.Name(), entry.RelPath) }); err != nil {
		return err
	}
	if err := write.SetMetadata(entry.RelPath, fsysEntryFrom(entry), opts); err != nil {
		return err
	}
	counters.AddFilesReceived(1)
	counters.AddBytesReceived(int64(entry.Size)) //nolint:gosec // size is non-negative by construction
	return nil
}

// sizeOf reads the size of an already-open ReadSeekCloser without needing a
// Stat call, by seeking to the end and back.
func sizeOf(rsc fsys.ReadSeekCloser) int64 {
	size, err := rsc.Seek(0, 2)
	if err != nil {
		return 0
	}
	_, _ = rsc.Seek(0, 0)
	return size
}
