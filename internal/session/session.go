// Package session drives one blit transfer end to end over a single
// framed connection: the START handshake, the manifest/need-list exchange,
// dispatch of each need to whichever transfer path fits it, mirror-delete,
// and the final counters. It is grounded on
// _examples/bamsammich-beam/internal/engine/engine.go's copy-driving loop
// and internal/transport/proto.Handler's request-serving loop, folded into
// one push/pull-symmetric machine per spec.md §4.9: the two sides differ
// only in which one holds a fsys.ReadEndpoint (the sender) and which holds
// a fsys.WriteEndpoint (the receiver), never in the sequence of frames
// exchanged.
package session

import (
	"net"

	"github.com/blitsync/blit/internal/config"
	"github.com/blitsync/blit/internal/event"
	"github.com/blitsync/blit/internal/filter"
	"github.com/blitsync/blit/internal/wire"
)

// Role is which end of a transfer a side plays.
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

// Options configures one transfer, resolved from CLI flags and
// internal/config.Tuning before the session starts.
type Options struct {
	// Pull, when true, means the client is the receiver and the server the
	// sender; when false the client pushes and the server receives.
	Pull bool
	// Mirror, when true, deletes destination paths absent from the sender's
	// manifest after every needed path has been applied (spec.md §4.10).
	Mirror bool
	// RemoveSource, when true, implements "move": once the transfer
	// finishes successfully the sender's entire source tree is removed via
	// a REMOVE_TREE_REQ/REMOVE_TREE_RESP round trip.
	RemoveSource bool
	// VerifyOnly runs the manifest/need-list handshake and reports
	// differences without transferring payload or deleting anything.
	// VerifyReport, when non-nil, receives the result — an out parameter
	// rather than a return value, since RunClient/RunServer's Snapshot
	// return type is shared with ordinary transfers.
	VerifyOnly   bool
	VerifyReport *VerifyReport
	Filter       *filter.Chain
	Tuning       config.Tuning
	// Events, when non-nil, receives scan and mirror-delete progress
	// events for a caller that wants live status beyond the final
	// Snapshot (e.g. a daemon's structured log or a future progress UI).
	// Sends are best-effort: a full channel drops the event rather than
	// blocking the transfer on a slow consumer.
	Events chan<- event.Event
	// AuxDial, when non-nil, dials one more connection to the same peer
	// the primary conn is already connected to, for the parallel raw-file
	// path's auxiliary workers (spec.md §4.7). Only the client side of a
	// transfer can supply this — it's the side that holds the peer
	// address, regardless of which role push/pull direction gives it.
	AuxDial func() (net.Conn, error)
	// AuxConns, when non-nil, supplies auxiliary connections a daemon's
	// accept loop has already matched to this session by its session ID.
	// Only the server side of a transfer receives connections this way.
	AuxConns <-chan net.Conn
}

// emit sends ev on events without blocking the caller when the channel is
// nil or full.
func emit(events chan<- event.Event, ev event.Event) {
	if events == nil {
		return
	}
	select {
	case events <- ev:
	default:
	}
}

// flagsFor packs the wire-visible subset of opts into a START frame's flag
// word. Mirror is a local decision the receiver makes after the transfer
// and never needs to cross the wire.
func flagsFor(opts Options) uint32 {
	var flags uint32
	if opts.Pull {
		flags |= wire.FlagPull
	}
	if opts.Tuning.EmptyDirs {
		flags |= wire.FlagEmptyDirs
	}
	if opts.Tuning.NoTar {
		flags |= wire.FlagNoTar
	}
	if opts.Tuning.Checksum {
		flags |= wire.FlagChecksum
	}
	if opts.Tuning.HighThroughput {
		flags |= wire.FlagHighThroughput
	}
	if opts.VerifyOnly {
		flags |= wire.FlagVerifyOnly
	}
	if opts.RemoveSource {
		flags |= wire.FlagRemoveSource
	}
	return flags
}
