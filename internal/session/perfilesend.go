package session

import (
	"io"
	"net"

	"github.com/blitsync/blit/internal/fsys"
	"github.com/blitsync/blit/internal/manifest"
	"github.com/blitsync/blit/internal/wire"
)

// perFileChunkSize is the payload size of each FILE_DATA frame in the
// single-stream per-file path.
const perFileChunkSize = 256 * 1024

// sendPerFile streams one file as FILE_START, a run of FILE_DATA frames,
// then FILE_END — the default path for files too large for the bundler
// but not large enough to justify the raw path's range framing.
func sendPerFile(conn net.Conn, maxFrame int, read fsys.ReadEndpoint, entry manifest.Entry, counters *Counters) error {
	var rsc fsys.ReadSeekCloser
	if err := retryOnce(func() error {
		var openErr error
		rsc, openErr = read.OpenRead(entry.RelPath)
		return openErr
	}); err != nil {
		return err
	}
	defer rsc.Close()

	size := int64(entry.Size) //nolint:gosec // size is non-negative by construction
	header := fileStartPayload{RelPath: entry.RelPath, Size: size, MTimeSec: entry.MTimeSec, Mode: entry.Mode}
	if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeFileStart, Payload: encodeFileStart(header)}, maxFrame); err != nil {
		return err
	}

	buf := make([]byte, perFileChunkSize)
	for {
		var n int
		err := retryOnce(func() error {
			var readErr error
			n, readErr = rsc.Read(buf)
			return readErr
		})
		if n > 0 {
			if werr := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeFileData, Payload: buf[:n]}, maxFrame); werr != nil {
				return werr
			}
		}
		if err == io.EOF { //nolint:errorlint // io.EOF is a sentinel by convention
			break
		}
		if err != nil {
			return err
		}
	}

	if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeFileEnd}, maxFrame); err != nil {
		return err
	}
	counters.AddFilesSent(1)
	counters.AddBytesSent(size)
	return nil
}
