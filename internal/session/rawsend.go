package session

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/blitsync/blit/internal/config"
	"github.com/blitsync/blit/internal/fsys"
	"github.com/blitsync/blit/internal/manifest"
	"github.com/blitsync/blit/internal/rawmove"
	"github.com/blitsync/blit/internal/wire"
)

// sendRaw streams a large file as one or more FILE_RAW_START-announced raw
// ranges, per spec.md §4.7. With no auxiliary connections available it
// walks rawmove.Plan's ranges sequentially over the single control
// connection, using rawmove.SendFile's zero-copy sendfile(2) path when the
// connection and source file support it — every range's bytes follow its
// FILE_RAW_START frame directly on the wire, so this path pays no
// per-chunk frame header overhead. With auxiliary connections available
// (auxConns, dialed during the handshake per net_workers) it instead fans
// the ranges out across a rawmove.Pool running only on those auxiliary
// connections, one worker per connection, streaming each range as chunked
// PFILE_DATA frames terminated by PFILE_END — real framing rather than a
// raw byte count, since multiple workers sharing a conn pool need a clear
// per-range boundary. The primary connection sits out of the pool: its
// receive side stays in the main frame loop reading protocol control
// frames (MKDIR, SYMLINK, ...) for the rest of the session, and mixing its
// raw-byte FILE_RAW_START framing with the auxiliary workers' chunked
// framing on the same connection would be ambiguous to the receiver.
func sendRaw(conn net.Conn, maxFrame int, read fsys.ReadEndpoint, entry manifest.Entry, tuning config.Tuning, auxConns []net.Conn, counters *Counters) error {
	chunkSize := int64(tuning.NetChunkMBClamped()) * 1024 * 1024
	size := int64(entry.Size) //nolint:gosec // size is non-negative by construction
	ranges := rawmove.Plan(size, chunkSize)

	var err error
	if len(auxConns) == 0 || len(ranges) <= 1 {
		err = sendRawSequential(conn, maxFrame, read, entry, ranges, size)
	} else {
		err = sendRawParallel(maxFrame, read, entry, ranges, auxConns)
		if err != nil {
			// spec.md §4.12: a worker-connection failure during the
			// parallel raw path aborts the whole file and falls back to
			// single-stream transfer over the primary connection; only a
			// failure of that fallback is fatal.
			err = sendRawSequential(conn, maxFrame, read, entry, ranges, size)
		}
	}
	if err != nil {
		return err
	}

	counters.AddFilesSent(1)
	counters.AddBytesSent(size)
	return nil
}

// sendRawSequential is the single-connection fallback: every range's raw
// bytes are written directly to conn right after its FILE_RAW_START frame.
func sendRawSequential(conn net.Conn, maxFrame int, read fsys.ReadEndpoint, entry manifest.Entry, ranges []rawmove.Range, size int64) error {
	var rsc fsys.ReadSeekCloser
	if err := retryOnce(func() error {
		var openErr error
		rsc, openErr = read.OpenRead(entry.RelPath)
		return openErr
	}); err != nil {
		return err
	}
	defer rsc.Close()

	for _, rng := range ranges {
		header := fileRawStartPayload{
			RelPath: entry.RelPath, Size: size,
			Offset: rng.Offset, Length: rng.Length,
			MTimeSec: entry.MTimeSec, Mode: entry.Mode,
		}
		if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeFileRawStart, Payload: encodeFileRawStart(header)}, maxFrame); err != nil {
			return err
		}

		if f, ok := rsc.(*os.File); ok {
			if err := retryOnce(func() error { return rawmove.SendFile(conn, f, rng.Offset, rng.Length) }); err != nil {
				return err
			}
			continue
		}
		if err := retryOnce(func() error {
			_, seekErr := rsc.Seek(rng.Offset, io.SeekStart)
			return seekErr
		}); err != nil {
			return err
		}
		if err := retryOnce(func() error {
			_, copyErr := io.CopyN(conn, rsc, rng.Length)
			return copyErr
		}); err != nil {
			return err
		}
	}
	return nil
}

// sendRawParallel fans a file's ranges out across conns via a
// rawmove.Pool, one worker goroutine per available connection. Each
// worker opens its own read handle on the file (a shared handle can't
// safely serve concurrent reads at different offsets) and streams its
// assigned range as FILE_RAW_START followed by chunked PFILE_DATA frames
// and a closing PFILE_END.
func sendRawParallel(maxFrame int, read fsys.ReadEndpoint, entry manifest.Entry, ranges []rawmove.Range, conns []net.Conn) error {
	connPool := make(chan net.Conn, len(conns))
	for _, c := range conns {
		connPool <- c
	}

	items := make(chan rawmove.WorkItem, len(ranges))
	for _, rng := range ranges {
		items <- rawmove.WorkItem{RelPath: entry.RelPath, Range: rng, Size: int64(entry.Size)} //nolint:gosec // size is non-negative by construction
	}
	close(items)

	process := func(_ context.Context, item rawmove.WorkItem) error {
		conn := <-connPool
		defer func() { connPool <- conn }()
		return sendRawRangeChunked(conn, maxFrame, read, entry, item.Range)
	}

	pool := rawmove.Pool{NumWorkers: rawmove.NumWorkersFor(len(conns))}
	return pool.Run(context.Background(), items, process)
}

// sendRawRangeChunked sends one worker's assigned range as FILE_RAW_START
// plus a run of PFILE_DATA frames closed by PFILE_END, over conn.
func sendRawRangeChunked(conn net.Conn, maxFrame int, read fsys.ReadEndpoint, entry manifest.Entry, rng rawmove.Range) error {
	var rsc fsys.ReadSeekCloser
	if err := retryOnce(func() error {
		var openErr error
		rsc, openErr = read.OpenRead(entry.RelPath)
		return openErr
	}); err != nil {
		return err
	}
	defer rsc.Close()

	header := fileRawStartPayload{
		RelPath: entry.RelPath, Size: int64(entry.Size), //nolint:gosec // size is non-negative by construction
		Offset: rng.Offset, Length: rng.Length,
		MTimeSec: entry.MTimeSec, Mode: entry.Mode,
	}
	if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeFileRawStart, Payload: encodeFileRawStart(header)}, maxFrame); err != nil {
		return err
	}
	if err := retryOnce(func() error {
		_, seekErr := rsc.Seek(rng.Offset, io.SeekStart)
		return seekErr
	}); err != nil {
		return err
	}

	buf := make([]byte, perFileChunkSize)
	remaining := rng.Length
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		var got int
		if err := retryOnce(func() error {
			var readErr error
			got, readErr = io.ReadFull(rsc, buf[:n])
			return readErr
		}); err != nil {
			return err
		}
		if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypePFileData, Payload: buf[:got]}, maxFrame); err != nil {
			return err
		}
		remaining -= int64(got)
	}
	return wire.WriteFrame(conn, wire.Frame{Type: wire.TypePFileEnd}, maxFrame)
}

// recvRawRange reads the raw bytes following a FILE_RAW_START frame
// directly off conn (bypassing frame parsing) into wf at the announced
// offset. Used by the single-connection sequential sender's counterpart.
func recvRawRange(conn net.Conn, wf fsys.WriteFile, hdr fileRawStartPayload) error {
	if err := retryOnce(func() error {
		_, seekErr := wf.Seek(hdr.Offset, io.SeekStart)
		return seekErr
	}); err != nil {
		return err
	}
	return retryOnce(func() error {
		_, copyErr := io.CopyN(wf, conn, hdr.Length)
		return copyErr
	})
}

// recvRawRangeChunked reads a FILE_RAW_START range's PFILE_DATA/PFILE_END
// sequence off conn, writing each chunk at its absolute file offset via
// WriteAt so concurrent aux workers can safely share one destination file
// without a shared seek position.
func recvRawRangeChunked(conn net.Conn, maxFrame int, wf fsys.WriteFile, hdr fileRawStartPayload) error {
	off := hdr.Offset
	for {
		frame, err := wire.ReadFrame(conn, maxFrame)
		if err != nil {
			return err
		}
		if frame.Type == wire.TypePFileEnd {
			return nil
		}
		if frame.Type != wire.TypePFileData {
			return fmt.Errorf("%w: unexpected %s during parallel raw transfer", wire.ErrProtocolViolation, wire.TypeName(frame.Type))
		}
		if err := retryOnce(func() error {
			_, writeErr := wf.WriteAt(frame.Payload, off)
			return writeErr
		}); err != nil {
			return err
		}
		off += int64(len(frame.Payload))
	}
}
