package session

import (
	"fmt"
	"net"

	"github.com/blitsync/blit/internal/fsys"
	"github.com/blitsync/blit/internal/manifest"
	"github.com/blitsync/blit/internal/wire"
)

// candidatePaths returns the file paths present on both sides with matching
// size, the only ones checksum-mode diffing needs a sender hash for —
// manifest.diffFile treats a size mismatch as conclusive on its own, so a
// path that already differs in size never needs a hash round trip.
func candidatePaths(src, dst manifest.Manifest) []string {
	dstIdx := manifest.Index(dst)
	var paths []string
	for _, e := range src.Entries {
		if e.Kind != manifest.KindFile {
			continue
		}
		if local, ok := dstIdx[e.RelPath]; ok && local.Size == e.Size {
			paths = append(paths, e.RelPath)
		}
	}
	return paths
}

// collectSenderHashes is the receiver's half of checksum-mode diffing: for
// every candidate path it asks the sender for a strong hash via VERIFY_REQ
// and reads the VERIFY_HASH reply, synchronously, since both sides process
// frames in lockstep on a single connection.
func collectSenderHashes(conn net.Conn, maxFrame int, paths []string) (map[string][32]byte, error) {
	hashes := make(map[string][32]byte, len(paths))
	for _, p := range paths {
		if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeVerifyReq, Payload: encodeVerifyReq(p)}, maxFrame); err != nil {
			return nil, err
		}
		frame, err := wire.ReadFrame(conn, maxFrame)
		if err != nil {
			return nil, err
		}
		if frame.Type != wire.TypeVerifyHash {
			return nil, fmt.Errorf("%w: expected VERIFY_HASH, got %s", wire.ErrProtocolViolation, wire.TypeName(frame.Type))
		}
		relPath, hash, found, err := decodeVerifyHash(frame.Payload)
		if err != nil {
			return nil, err
		}
		if found {
			hashes[relPath] = hash
		}
	}
	return hashes, nil
}

// readNeedListWithVerify is the sender's half: it answers any number of
// VERIFY_REQ frames the receiver sends while computing a checksum-mode
// diff, then reads the NEED_LIST frame that follows once the receiver has
// enough hashes to finish diffing.
func readNeedListWithVerify(conn net.Conn, maxFrame int, read fsys.ReadEndpoint) ([]manifest.Need, error) {
	for {
		frame, err := wire.ReadFrame(conn, maxFrame)
		if err != nil {
			return nil, err
		}
		switch frame.Type {
		case wire.TypeVerifyReq:
			relPath, err := decodeVerifyReq(frame.Payload)
			if err != nil {
				return nil, err
			}
			hash, hErr := read.Hash(relPath)
			found := hErr == nil
			if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeVerifyHash, Payload: encodeVerifyHash(relPath, hash, found)}, maxFrame); err != nil {
				return nil, err
			}
		case wire.TypeNeedList:
			return decodeNeedList(frame.Payload)
		default:
			return nil, fmt.Errorf("%w: unexpected %s while awaiting NEED_LIST", wire.ErrProtocolViolation, wire.TypeName(frame.Type))
		}
	}
}

// diffWithChecksum runs manifest.Diff, optionally in checksum mode: it
// collects sender hashes for every candidate path first when opts.Checksum
// is set, otherwise falls straight through to the size/mtime fast path.
func diffWithChecksum(conn net.Conn, maxFrame int, src, dst manifest.Manifest, write fsys.WriteEndpoint, checksum bool) ([]manifest.Need, error) {
	if !checksum {
		return manifest.Diff(src, dst, manifest.DiffOptions{})
	}

	hashes, err := collectSenderHashes(conn, maxFrame, candidatePaths(src, dst))
	if err != nil {
		return nil, err
	}
	return manifest.Diff(src, dst, manifest.DiffOptions{
		Checksum: true,
		HashSender: func(relPath string) ([32]byte, error) {
			h, ok := hashes[relPath]
			if !ok {
				return [32]byte{}, fmt.Errorf("no hash collected for %s", relPath)
			}
			return h, nil
		},
		HashReceiver: write.Hash,
	})
}
