package session

import (
	"net"

	"github.com/blitsync/blit/internal/fsys"
	"github.com/blitsync/blit/internal/wire"
)

// RunServer drives the accepting side of a transfer against root.
// defaultOpts supplies the filter and mirror-delete/tuning defaults the
// daemon operator configured; the client's START frame only ever narrows
// the transfer direction, the verify-only and remove-source modes, and the
// tuning bits that must match on both ends (empty-dirs, no-tar, checksum,
// high-throughput). It has no way to
// pick up auxiliary connections for the parallel raw-file path — callers
// that can offer one (cmd/blit/daemon.go's accept loop) use
// RunServerFromStart instead.
func RunServer(conn net.Conn, root string, defaultOpts Options) (Snapshot, error) {
	n, err := serverHandshake(conn, defaultOpts)
	if err != nil {
		return Snapshot{}, err
	}
	return runNegotiated(conn, n, root)
}

// RunServerFromStart drives the accepting side of a transfer when the
// caller has already exchanged hellos and read the START frame itself
// (needed to learn the session ID before dispatching to a session at
// all). auxConns, when non-nil, is drained for whatever connections the
// caller's accept loop routes to this session's ID.
func RunServerFromStart(conn net.Conn, startFrame wire.Frame, root string, defaultOpts Options, auxConns <-chan net.Conn) (Snapshot, error) {
	defaultOpts.AuxConns = auxConns
	n, err := serverHandshakeFromStart(conn, startFrame, defaultOpts)
	if err != nil {
		return Snapshot{}, err
	}
	return runNegotiated(conn, n, root)
}

// DecodeAuxHello exposes codec.go's AUX_HELLO decoding to cmd/blit's
// accept loop, which needs it to route a freshly accepted auxiliary
// connection before any session exists to hand it to.
func DecodeAuxHello(payload []byte) ([16]byte, error) { return decodeAuxHello(payload) }

// PeekSessionID exposes a decoded START frame's session ID to cmd/blit's
// accept loop, so it can look up (or create) the right auxiliary
// connection channel before calling RunServerFromStart.
func PeekSessionID(startFrame wire.Frame) ([16]byte, error) {
	start, err := decodeStart(startFrame.Payload)
	if err != nil {
		return [16]byte{}, err
	}
	return start.SessionID, nil
}

func runNegotiated(conn net.Conn, n negotiated, root string) (Snapshot, error) {
	counters := NewCounters()
	defer closeAuxConns(n.auxConns)

	if n.role == RoleSender {
		read := fsys.NewLocalReadEndpoint(root)
		defer read.Close()
		if err := runSender(conn, n, read, counters); err != nil {
			return counters.Snapshot(), err
		}
		return counters.Snapshot(), nil
	}

	write := fsys.NewLocalWriteEndpoint(root)
	defer write.Close()
	if err := runReceiver(conn, n, write, counters); err != nil {
		return counters.Snapshot(), err
	}
	return counters.Snapshot(), nil
}

func closeAuxConns(conns []net.Conn) {
	for _, c := range conns {
		_ = c.Close()
	}
}
