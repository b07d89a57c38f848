package session

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/blitsync/blit/internal/bundle"
	"github.com/blitsync/blit/internal/event"
	"github.com/blitsync/blit/internal/fsys"
	"github.com/blitsync/blit/internal/manifest"
	"github.com/blitsync/blit/internal/wire"
)

// isDeltaEligible decides, from fields both sides already agree on (the
// need's reason and the entry's size), whether a path goes through the
// block-delta path instead of raw/per-file. Because both sides compute
// this from the identical Need in the identical NEED_LIST order, no
// negotiation is needed to agree on the answer — only a NEED_RANGES frame
// to synchronize the sender's read loop with the receiver's decision to
// start the signature exchange for this path. This is a deliberate
// simplification of spec.md §4.8's "receiver opts in": the opt-in
// condition is a shared threshold rule rather than arbitrary receiver
// policy. See DESIGN.md.
func isDeltaEligible(n manifest.Need) bool {
	return n.Entry.Kind == manifest.KindFile &&
		n.Reason != manifest.ReasonMissing &&
		n.Reason != manifest.ReasonLinkTargetDiffers &&
		int64(n.Entry.Size) >= deltaThreshold //nolint:gosec // size is non-negative by construction
}

// runSender drives the sending side of a transfer: build and stream a
// manifest, read back the receiver's need-list, then dispatch every need
// to whichever transfer path fits it.
func runSender(conn net.Conn, n negotiated, read fsys.ReadEndpoint, counters *Counters) error {
	emit(n.opts.Events, event.Event{Type: event.ScanStarted, Timestamp: time.Now(), Path: read.Root()})
	m, err := manifest.Build(read, manifest.BuildOptions{Filter: n.opts.Filter, EmptyDirs: n.opts.Tuning.EmptyDirs})
	if err != nil {
		return fmt.Errorf("build manifest: %w", err)
	}
	emit(n.opts.Events, event.Event{
		Type: event.ScanComplete, Timestamp: time.Now(),
		Total: int64(m.TotalCount), TotalSize: int64(m.DatasetSize), //nolint:gosec // dataset size is non-negative
	})
	if err := sendManifest(conn, n.maxFrame, m); err != nil {
		return err
	}
	needs, err := readNeedListWithVerify(conn, n.maxFrame, read)
	if err != nil {
		return err
	}
	deltaSet, err := recvNeedRangesBurst(conn, n.maxFrame, needs)
	if err != nil {
		return err
	}

	if n.opts.VerifyOnly {
		// The receiver already has everything it needs to report
		// differences from the manifests and hashes exchanged above; a
		// verify session never streams payload or mutates anything.
		emit(n.opts.Events, event.Event{Type: event.VerifyStarted, Timestamp: time.Now()})
		err := finishSendVerify(conn, n)
		verifyResult := event.VerifyOK
		if err != nil {
			verifyResult = event.VerifyFailed
		} else if n.opts.VerifyReport != nil && !n.opts.VerifyReport.InSync() {
			verifyResult = event.VerifyFailed
		}
		emit(n.opts.Events, event.Event{Type: verifyResult, Timestamp: time.Now(), Error: err})
		return err
	}

	batcher := bundle.NewBatcher(bundleConfig())
	var batchEntries []manifest.Entry
	flushBatch := func() error {
		paths := batcher.Flush()
		if len(paths) == 0 {
			return nil
		}
		entries := batchEntries
		batchEntries = nil
		if err := sendBundle(conn, n.maxFrame, read, entries, counters); err != nil {
			return err
		}
		for _, e := range entries {
			emit(n.opts.Events, event.Event{Type: event.FileCompleted, Timestamp: time.Now(), Path: e.RelPath, Size: int64(e.Size)}) //nolint:gosec // size is non-negative by construction
		}
		return nil
	}

	for _, need := range needs {
		e := need.Entry
		switch e.Kind {
		case manifest.KindDir:
			if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeMkdir, Payload: encodeMkdir(e.RelPath, e.Mode)}, n.maxFrame); err != nil {
				return err
			}
			emit(n.opts.Events, event.Event{Type: event.DirCreated, Timestamp: time.Now(), Path: e.RelPath})
			continue
		case manifest.KindSymlink:
			if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeSymlink, Payload: encodeSymlink(e.RelPath, e.LinkTarget)}, n.maxFrame); err != nil {
				return err
			}
			continue
		}

		if deltaSet[e.RelPath] {
			if err := flushBatch(); err != nil {
				return err
			}
			if err := sendDelta(conn, n.maxFrame, read, e, counters); err != nil {
				return err
			}
			emit(n.opts.Events, event.Event{Type: event.FileCompleted, Timestamp: time.Now(), Path: e.RelPath, Size: int64(e.Size)}) //nolint:gosec // size is non-negative by construction
			continue
		}

		size := int64(e.Size) //nolint:gosec // size is non-negative by construction
		if !n.opts.Tuning.NoTar && bundleConfig().Eligible(size) {
			if !batcher.Add(e.RelPath, size) {
				if err := flushBatch(); err != nil {
					return err
				}
				batcher.Add(e.RelPath, size)
			}
			batchEntries = append(batchEntries, e)
			if batcher.Ready() {
				if err := flushBatch(); err != nil {
					return err
				}
			}
			continue
		}

		if err := flushBatch(); err != nil {
			return err
		}
		if size >= n.opts.Tuning.LargeThresholdBytes() {
			if err := sendRaw(conn, n.maxFrame, read, e, n.opts.Tuning, n.auxConns, counters); err != nil {
				return err
			}
		} else if err := sendPerFile(conn, n.maxFrame, read, e, counters); err != nil {
			return err
		}
		emit(n.opts.Events, event.Event{Type: event.FileCompleted, Timestamp: time.Now(), Path: e.RelPath, Size: size})
	}
	if err := flushBatch(); err != nil {
		return err
	}

	// Auxiliary connections are only meaningful during this dispatch loop;
	// closing them here (rather than waiting for the session to end) signals
	// EOF to the receiver's aux workers before DONE arrives on the primary
	// connection, so runReceiver can safely wait for them to finish first.
	closeAuxConns(n.auxConns)

	if err := finishSend(conn, n.maxFrame); err != nil {
		return err
	}
	if n.opts.RemoveSource {
		return handleRemoveTreeReq(conn, n.maxFrame, read)
	}
	return nil
}

// finishSendVerify is finishSend's verify-mode counterpart: the receiver is
// always the one that computed the VerifyReport (it's the side with a
// fsys.WriteEndpoint to walk for extraneous paths), so after DONE the
// sender always reads one VERIFY_REPORT frame back before the closing OK —
// discarding it if this process's own opts.VerifyReport is nil, which
// happens whenever the CLI invocation turned out to hold the sender role.
func finishSendVerify(conn net.Conn, n negotiated) error {
	if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeDone}, n.maxFrame); err != nil {
		return err
	}
	frame, err := wire.ReadFrame(conn, n.maxFrame)
	if err != nil {
		return err
	}
	if frame.Type != wire.TypeVerifyReport {
		return fmt.Errorf("%w: expected VERIFY_REPORT, got %s", wire.ErrProtocolViolation, wire.TypeName(frame.Type))
	}
	report, err := decodeVerifyReport(frame.Payload)
	if err != nil {
		return err
	}
	if n.opts.VerifyReport != nil {
		*n.opts.VerifyReport = *report
	}

	frame, err = wire.ReadFrame(conn, n.maxFrame)
	if err != nil {
		return err
	}
	if frame.Type != wire.TypeOK {
		return fmt.Errorf("%w: expected final OK, got %s", wire.ErrProtocolViolation, wire.TypeName(frame.Type))
	}
	return nil
}

// finishSend writes the closing DONE frame and waits for the receiver's
// final OK for an ordinary transfer; a verify-only session ends through
// finishSendVerify instead.
func finishSend(conn net.Conn, maxFrame int) error {
	if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeDone}, maxFrame); err != nil {
		return err
	}
	frame, err := wire.ReadFrame(conn, maxFrame)
	if err != nil {
		return err
	}
	if frame.Type != wire.TypeOK {
		return fmt.Errorf("%w: expected final OK, got %s", wire.ErrProtocolViolation, wire.TypeName(frame.Type))
	}
	return nil
}

// handleRemoveTreeReq answers the receiver's post-transfer move request by
// deleting the sender's entire source tree, per spec.md's REMOVE_TREE_REQ /
// REMOVE_TREE_RESP pair. It's a whole-tree os.RemoveAll rather than a
// per-entry walk through fsys.ReadEndpoint, since ReadEndpoint has no
// delete capability at all — a source tree is only ever removed wholesale,
// never entry by entry.
func handleRemoveTreeReq(conn net.Conn, maxFrame int, read fsys.ReadEndpoint) error {
	frame, err := wire.ReadFrame(conn, maxFrame)
	if err != nil {
		return err
	}
	if frame.Type != wire.TypeRemoveTreeReq {
		return fmt.Errorf("%w: expected REMOVE_TREE_REQ, got %s", wire.ErrProtocolViolation, wire.TypeName(frame.Type))
	}

	removeErr := os.RemoveAll(read.Root())
	ok := removeErr == nil
	errMsg := ""
	if removeErr != nil {
		errMsg = removeErr.Error()
	}
	if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeRemoveTreeResp, Payload: encodeRemoveTreeResp(ok, errMsg)}, maxFrame); err != nil {
		return err
	}
	return removeErr
}
