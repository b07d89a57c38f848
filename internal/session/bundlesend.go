package session

import (
	"net"

	"github.com/blitsync/blit/internal/bundle"
	"github.com/blitsync/blit/internal/fsys"
	"github.com/blitsync/blit/internal/manifest"
	"github.com/blitsync/blit/internal/wire"
)

// sendBundle packs the given entries (all bundle-eligible per bundle.Config)
// into one tar archive streamed across TAR_START/TAR_DATA/TAR_END.
func sendBundle(conn net.Conn, maxFrame int, read fsys.ReadEndpoint, entries []manifest.Entry, counters *Counters) error {
	if len(entries) == 0 {
		return nil
	}
	if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeTarStart}, maxFrame); err != nil {
		return err
	}

	cfg := bundleConfig()
	var writeErr error
	bw := bundle.NewWriter(cfg.ChunkSize, func(chunk []byte) error {
		return wire.WriteFrame(conn, wire.Frame{Type: wire.TypeTarData, Payload: chunk}, maxFrame)
	})

	var bytesSent int64
	for _, e := range entries {
		fsEntry := fsysEntryFrom(e)
		if e.Kind == manifest.KindSymlink {
			if writeErr = bw.AddSymlink(fsEntry); writeErr != nil {
				break
			}
			continue
		}
		rsc, err := read.OpenRead(e.RelPath)
		if err != nil {
			writeErr = err
			break
		}
		writeErr = bw.AddFile(fsEntry, rsc)
		_ = rsc.Close()
		if writeErr != nil {
			break
		}
		bytesSent += int64(e.Size) //nolint:gosec // size is non-negative by construction
	}

	if closeErr := bw.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		return writeErr
	}

	if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeTarEnd}, maxFrame); err != nil {
		return err
	}
	counters.AddFilesSent(int64(len(entries)))
	counters.AddBytesSent(bytesSent)
	return nil
}
