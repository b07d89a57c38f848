package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/blitsync/blit/internal/bundle"
	"github.com/blitsync/blit/internal/event"
	"github.com/blitsync/blit/internal/fsys"
	"github.com/blitsync/blit/internal/manifest"
	"github.com/blitsync/blit/internal/rawmove"
	"github.com/blitsync/blit/internal/wire"
)

// rawRecvState tracks a raw-path file across the several FILE_RAW_START
// ranges that make it up. Ranges for one path can arrive out of order or
// interleaved with another path's ranges — spec.md §4.7's auxiliary-
// connection design has no guarantee of in-order delivery across workers —
// so completion is tracked with a rawmove.Coverage bitmap over the file's
// byte range rather than a running total, which would miscount duplicate
// or reordered ranges.
type rawRecvState struct {
	wf    fsys.WriteFile
	entry manifest.Entry
	cov   *rawmove.Coverage
}

// rawRecvRegistry is the receiver-side, mutex-protected map of in-flight
// raw-path files, shared between the primary connection's frame loop and
// any auxiliary connections' worker goroutines — spec.md §4.7's parallel
// raw-file path can deliver ranges for the same path from several
// connections concurrently.
type rawRecvRegistry struct {
	mu   sync.Mutex
	open map[string]*rawRecvState
}

func newRawRecvRegistry() *rawRecvRegistry {
	return &rawRecvRegistry{open: map[string]*rawRecvState{}}
}

// getOrCreate returns the state for relPath, creating a destination temp
// file and a fresh Coverage bitmap the first time any connection sees this
// path.
func (r *rawRecvRegistry) getOrCreate(write fsys.WriteEndpoint, srcIdx manifest.ByPath, hdr fileRawStartPayload) (*rawRecvState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.open[hdr.RelPath]; ok {
		return state, nil
	}
	var wf fsys.WriteFile
	if err := retryOnce(func() error {
		var createErr error
		wf, createErr = write.CreateTemp(hdr.RelPath, os.FileMode(hdr.Mode).Perm())
		return createErr
	}); err != nil {
		return nil, err
	}
	state := &rawRecvState{wf: wf, entry: srcIdx[hdr.RelPath], cov: rawmove.NewCoverage(hdr.Size)}
	r.open[hdr.RelPath] = state
	return state, nil
}

// markRange records hdr's range as delivered and, if that completes the
// file, removes it from the registry and returns (state, true) so the
// caller finalizes it exactly once regardless of which connection
// delivered the last range.
func (r *rawRecvRegistry) markRange(hdr fileRawStartPayload) (*rawRecvState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.open[hdr.RelPath]
	if !ok {
		return nil, false
	}
	state.cov.Add(hdr.Offset, hdr.Length)
	if !state.cov.Complete() {
		return nil, false
	}
	delete(r.open, hdr.RelPath)
	return state, true
}

// runReceiver drives the receiving side of a transfer: read the sender's
// manifest, diff it against the local tree, send back a need-list, then
// apply whatever the sender streams until DONE, finishing with
// mirror-delete when opts.Mirror is set.
func runReceiver(conn net.Conn, n negotiated, write fsys.WriteEndpoint, counters *Counters) error {
	srcManifest, err := recvManifest(conn, n.maxFrame)
	if err != nil {
		return fmt.Errorf("receive manifest: %w", err)
	}
	emit(n.opts.Events, event.Event{Type: event.ScanStarted, Timestamp: time.Now(), Path: write.Root()})
	dstManifest, err := manifest.Build(write, manifest.BuildOptions{Filter: n.opts.Filter, EmptyDirs: n.opts.Tuning.EmptyDirs})
	if err != nil {
		return fmt.Errorf("build local manifest: %w", err)
	}
	emit(n.opts.Events, event.Event{
		Type: event.ScanComplete, Timestamp: time.Now(),
		Total: int64(dstManifest.TotalCount), TotalSize: int64(dstManifest.DatasetSize), //nolint:gosec // dataset size is non-negative
	})
	needs, err := diffWithChecksum(conn, n.maxFrame, srcManifest, dstManifest, write, n.opts.Tuning.Checksum)
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeNeedList, Payload: encodeNeedList(needs)}, n.maxFrame); err != nil {
		return err
	}
	if err := sendNeedRangesBurst(conn, n.maxFrame, needs); err != nil {
		return err
	}

	srcIdx := manifest.Index(srcManifest)
	metaOpts := fsys.DefaultMetadataOpts()
	rawRegistry := newRawRecvRegistry()
	var bundleReader *bundle.Reader

	var auxWG sync.WaitGroup
	auxErrs := make(chan error, len(n.auxConns))
	for _, auxConn := range n.auxConns {
		auxWG.Add(1)
		go func(c net.Conn) {
			defer auxWG.Done()
			if err := recvAuxWorker(c, n.maxFrame, write, srcIdx, rawRegistry, metaOpts, counters); err != nil {
				auxErrs <- err
			}
		}(auxConn)
	}

	for {
		frame, err := wire.ReadFrame(conn, n.maxFrame)
		if err != nil {
			return err
		}

		switch frame.Type {
		case wire.TypeMkdir:
			relPath, mode, err := decodeMkdir(frame.Payload)
			if err != nil {
				return err
			}
			if err := write.MkdirAll(relPath, os.FileMode(mode)); err != nil {
				return err
			}

		case wire.TypeSymlink:
			relPath, target, err := decodeSymlink(frame.Payload)
			if err != nil {
				return err
			}
			if err := write.Symlink(target, relPath); err != nil {
				return err
			}
			if e, ok := srcIdx[relPath]; ok {
				if err := write.SetMetadata(relPath, fsysEntryFrom(e), metaOpts); err != nil {
					return err
				}
			}
			counters.AddFilesReceived(1)

		case wire.TypeSetAttr:
			e, err := decodeSetAttr(frame.Payload)
			if err != nil {
				return err
			}
			if err := write.SetMetadata(e.RelPath, fsysEntryFrom(e), metaOpts); err != nil {
				return err
			}

		case wire.TypeFileStart:
			hdr, err := decodeFileStart(frame.Payload)
			if err != nil {
				return err
			}
			if err := recvPerFile(conn, n.maxFrame, write, hdr, metaOpts); err != nil {
				return err
			}
			counters.AddFilesReceived(1)
			counters.AddBytesReceived(hdr.Size)

		case wire.TypeFileRawStart:
			hdr, err := decodeFileRawStart(frame.Payload)
			if err != nil {
				return err
			}
			if err := applyRawRange(conn, write, hdr, srcIdx, rawRegistry, metaOpts, counters); err != nil {
				return err
			}

		case wire.TypeTarStart:
			bundleReader = bundle.NewReader(write, metaOpts)

		case wire.TypeTarData:
			if bundleReader == nil {
				return fmt.Errorf("%w: TAR_DATA outside a bundle", wire.ErrProtocolViolation)
			}
			if err := bundleReader.Feed(frame.Payload); err != nil {
				return err
			}

		case wire.TypeTarEnd:
			if bundleReader == nil {
				return fmt.Errorf("%w: TAR_END outside a bundle", wire.ErrProtocolViolation)
			}
			stats, err := bundleReader.Close()
			bundleReader = nil
			if err != nil {
				return err
			}
			counters.AddFilesReceived(int64(stats.Files + stats.Symlinks))
			counters.AddBytesReceived(stats.Bytes)

		case wire.TypeDeltaStart:
			relPath, err := decodeDeltaStart(frame.Payload)
			if err != nil {
				return err
			}
			e, ok := srcIdx[relPath]
			if !ok {
				return fmt.Errorf("%w: DELTA_START for unknown path %s", wire.ErrProtocolViolation, relPath)
			}
			if err := recvDelta(conn, n.maxFrame, write, e, metaOpts, counters); err != nil {
				return err
			}

		case wire.TypeDone:
			// The sender closes every aux connection before writing DONE on
			// the primary one, so their worker goroutines are already at or
			// very near EOF; waiting here guarantees every parallel raw
			// range has landed before mirror-delete or the final OK.
			auxWG.Wait()
			select {
			case err := <-auxErrs:
				return err
			default:
			}
			return finishReceive(conn, n, write, srcManifest, needs, counters)

		default:
			return fmt.Errorf("%w: unexpected %s during streaming", wire.ErrProtocolViolation, wire.TypeName(frame.Type))
		}
	}
}

func finishReceive(conn net.Conn, n negotiated, write fsys.WriteEndpoint, srcManifest manifest.Manifest, needs []manifest.Need, counters *Counters) error {
	if n.opts.VerifyOnly {
		// Only the receiver has a WriteEndpoint to walk for extraneous
		// paths, so it always builds the report and ships it to the
		// sender via VERIFY_REPORT — regardless of whether this process's
		// own opts.VerifyReport is set, since push/pull direction decides
		// which side that ends up being.
		report, err := buildVerifyReport(write, srcManifest, needs)
		if err != nil {
			return err
		}
		if n.opts.VerifyReport != nil {
			*n.opts.VerifyReport = *report
		}
		if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeVerifyReport, Payload: encodeVerifyReport(report)}, n.maxFrame); err != nil {
			return err
		}
		return wire.WriteFrame(conn, wire.Frame{Type: wire.TypeOK}, n.maxFrame)
	}
	if n.opts.Mirror {
		expected := manifest.NewExpectedSet(srcManifest)
		if _, err := mirrorDelete(write, expected, n.opts.Events); err != nil {
			return err
		}
	}
	if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeOK}, n.maxFrame); err != nil {
		return err
	}
	if n.opts.RemoveSource {
		return requestRemoveTree(conn, n.maxFrame)
	}
	return nil
}

// requestRemoveTree asks the sender to delete its entire source tree after
// a successful move and waits for its REMOVE_TREE_RESP.
func requestRemoveTree(conn net.Conn, maxFrame int) error {
	if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeRemoveTreeReq}, maxFrame); err != nil {
		return err
	}
	frame, err := wire.ReadFrame(conn, maxFrame)
	if err != nil {
		return err
	}
	if frame.Type != wire.TypeRemoveTreeResp {
		return fmt.Errorf("%w: expected REMOVE_TREE_RESP, got %s", wire.ErrProtocolViolation, wire.TypeName(frame.Type))
	}
	ok, errMsg, err := decodeRemoveTreeResp(frame.Payload)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("remove source tree: %s", errMsg)
	}
	return nil
}

func recvPerFile(conn net.Conn, maxFrame int, write fsys.WriteEndpoint, hdr fileStartPayload, opts fsys.MetadataOpts) error {
	var wf fsys.WriteFile
	if err := retryOnce(func() error {
		var createErr error
		wf, createErr = write.CreateTemp(hdr.RelPath, os.FileMode(hdr.Mode).Perm())
		return createErr
	}); err != nil {
		return err
	}
	for {
		frame, err := wire.ReadFrame(conn, maxFrame)
		if err != nil {
			_ = wf.Close()
			return err
		}
		if frame.Type == wire.TypeFileEnd {
			break
		}
		if frame.Type != wire.TypeFileData {
			_ = wf.Close()
			return fmt.Errorf("%w: unexpected %s during file transfer", wire.ErrProtocolViolation, wire.TypeName(frame.Type))
		}
		if err := retryOnce(func() error {
			_, writeErr := wf.Write(frame.Payload)
			return writeErr
		}); err != nil {
			_ = wf.Close()
			return err
		}
	}
	if err := wf.Close(); err != nil {
		return err
	}
	if err := retryOnce(func() error { return write.Rename(wf.Name(), hdr.RelPath) }); err != nil {
		return err
	}
	entry := manifest.Entry{RelPath: hdr.RelPath, Size: uint64(hdr.Size), MTimeSec: hdr.MTimeSec, Mode: hdr.Mode, Kind: manifest.KindFile} //nolint:gosec // size is non-negative
	return write.SetMetadata(hdr.RelPath, fsysEntryFrom(entry), opts)
}

// applyRawRange handles one FILE_RAW_START range arriving on the primary
// connection, the single-connection sequential sender's counterpart.
func applyRawRange(conn net.Conn, write fsys.WriteEndpoint, hdr fileRawStartPayload, srcIdx manifest.ByPath, reg *rawRecvRegistry, opts fsys.MetadataOpts, counters *Counters) error {
	state, err := reg.getOrCreate(write, srcIdx, hdr)
	if err != nil {
		return err
	}
	if err := recvRawRange(conn, state.wf, hdr); err != nil {
		return err
	}
	return finalizeIfComplete(write, reg, hdr, opts, counters)
}

// recvAuxWorker drains one auxiliary connection's FILE_RAW_START/
// PFILE_DATA.../PFILE_END sequences until the connection closes (the
// sender closes every aux connection once it has dispatched every raw
// need, right before its closing DONE frame on the primary connection),
// writing each range into the shared registry via WriteAt so it never
// races the primary connection's or another aux worker's writes to the
// same file.
func recvAuxWorker(conn net.Conn, maxFrame int, write fsys.WriteEndpoint, srcIdx manifest.ByPath, reg *rawRecvRegistry, opts fsys.MetadataOpts, counters *Counters) error {
	for {
		frame, err := wire.ReadFrame(conn, maxFrame)
		if err != nil {
			if isCleanAuxClose(err) {
				return nil
			}
			return err
		}
		if frame.Type != wire.TypeFileRawStart {
			return fmt.Errorf("%w: unexpected %s opening a parallel raw range", wire.ErrProtocolViolation, wire.TypeName(frame.Type))
		}
		hdr, err := decodeFileRawStart(frame.Payload)
		if err != nil {
			return err
		}
		state, err := reg.getOrCreate(write, srcIdx, hdr)
		if err != nil {
			return err
		}
		if err := recvRawRangeChunked(conn, maxFrame, state.wf, hdr); err != nil {
			return err
		}
		if err := finalizeIfComplete(write, reg, hdr, opts, counters); err != nil {
			return err
		}
	}
}

// isCleanAuxClose reports whether err is the EOF an aux connection
// produces when the sender closes it after streaming every raw need,
// rather than a real transport failure mid-range.
func isCleanAuxClose(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// finalizeIfComplete closes, renames, and stamps metadata on hdr.RelPath's
// destination file once its Coverage bitmap reports every range delivered,
// regardless of which connection delivered the completing range.
func finalizeIfComplete(write fsys.WriteEndpoint, reg *rawRecvRegistry, hdr fileRawStartPayload, opts fsys.MetadataOpts, counters *Counters) error {
	state, complete := reg.markRange(hdr)
	if !complete {
		return nil
	}
	if err := state.wf.Close(); err != nil {
		return err
	}
	if err := retryOnce(func() error { return write.Rename(state.wf.Name(), hdr.RelPath) }); err != nil {
		return err
	}
	if err := write.SetMetadata(hdr.RelPath, fsysEntryFrom(state.entry), opts); err != nil {
		return err
	}
	counters.AddFilesReceived(1)
	counters.AddBytesReceived(hdr.Size)
	return nil
}
