package session

import (
	"fmt"
	"net"

	"github.com/blitsync/blit/internal/deltamove"
	"github.com/blitsync/blit/internal/manifest"
	"github.com/blitsync/blit/internal/wire"
)

// deltaEligiblePaths returns the relative paths of needs that qualify for
// the block-delta path, in the order they appear in needs.
func deltaEligiblePaths(needs []manifest.Need) []string {
	var paths []string
	for _, n := range needs {
		if isDeltaEligible(n) {
			paths = append(paths, n.Entry.RelPath)
		}
	}
	return paths
}

// sendNeedRangesBurst is the receiver's opt-in to the delta path,
// per spec.md §4.8: right after NEED_LIST, it sends one NEED_RANGES frame
// per delta-eligible path. Since eligibility is a threshold rule computed
// identically on both sides from data already carried in NEED_LIST
// (spec.md §4.4's reason and size), no interactive request/response is
// needed — one deterministic burst is sufficient.
func sendNeedRangesBurst(conn net.Conn, maxFrame int, needs []manifest.Need) error {
	for _, relPath := range deltaEligiblePaths(needs) {
		if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeNeedRanges, Payload: deltamove.EncodeNeedRanges(relPath)}, maxFrame); err != nil {
			return err
		}
	}
	return nil
}

// recvNeedRangesBurst is the sender's half: it already knows how many
// NEED_RANGES frames to expect from its own copy of needs, and collects
// the opted-in paths into a set consulted during dispatch.
func recvNeedRangesBurst(conn net.Conn, maxFrame int, needs []manifest.Need) (map[string]bool, error) {
	want := deltaEligiblePaths(needs)
	set := make(map[string]bool, len(want))
	for range want {
		frame, err := wire.ReadFrame(conn, maxFrame)
		if err != nil {
			return nil, err
		}
		if frame.Type != wire.TypeNeedRanges {
			return nil, fmt.Errorf("%w: expected NEED_RANGES, got %s", wire.ErrProtocolViolation, wire.TypeName(frame.Type))
		}
		relPath, err := deltamove.DecodeNeedRanges(frame.Payload)
		if err != nil {
			return nil, err
		}
		set[relPath] = true
	}
	return set, nil
}
