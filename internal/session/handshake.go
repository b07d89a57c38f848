package session

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/blitsync/blit/internal/wire"
)

// negotiated is what both sides know once the handshake completes: the
// frame-size ceiling to use for the rest of the session, which role this
// side plays, the session ID both sides agree on, and whatever auxiliary
// connections the parallel raw-file path (spec.md §4.7) has available.
type negotiated struct {
	maxFrame  int
	role      Role
	opts      Options
	sessionID [16]byte
	auxConns  []net.Conn
}

// auxHelloTimeout bounds how long the server side waits for auxiliary
// connections to arrive after the primary handshake; dialAuxConns does not
// use it — long enough for a same-datacenter TCP handshake,
// short enough that a peer with no net-workers support doesn't stall a
// transfer waiting for connections that will never come.
const auxHelloTimeout = 5 * time.Second

// dialAuxConns dials up to workers-1 additional connections to the same
// peer via dial, tags each with sessionID over an AUX_HELLO frame, and
// returns however many succeeded — a partial or empty result just means
// the raw-file sender falls back to fewer parallel workers, never a fatal
// error, since the primary connection alone is always sufficient.
func dialAuxConns(dial func() (net.Conn, error), sessionID [16]byte, workers int) []net.Conn {
	if dial == nil || workers <= 1 {
		return nil
	}
	conns := make([]net.Conn, 0, workers-1)
	for i := 0; i < workers-1; i++ {
		conn, err := dial()
		if err != nil {
			break
		}
		if err := tagAuxConn(conn, sessionID); err != nil {
			conn.Close()
			break
		}
		conns = append(conns, conn)
	}
	return conns
}

// tagAuxConn performs an auxiliary connection's hello handshake and sends
// its AUX_HELLO frame identifying the session it's joining.
func tagAuxConn(conn net.Conn, sessionID [16]byte) error {
	if err := wire.WriteHello(conn); err != nil {
		return err
	}
	if _, err := wire.ReadHello(conn); err != nil {
		return err
	}
	return wire.WriteFrame(conn, wire.Frame{Type: wire.TypeAuxHello, Payload: encodeAuxHello(sessionID)}, wire.DefaultMaxFrameBytes)
}

func maxFrameFor(flags uint32) int {
	if flags&wire.FlagHighThroughput != 0 {
		return wire.HighThroughputMaxFrameBytes
	}
	return wire.DefaultMaxFrameBytes
}

// clientHandshake performs the client's half of the hello/START exchange:
// send hello, read the server's hello, send START, read OK. The client
// always dials, so it always speaks first. Once negotiated, it also dials
// whatever auxiliary connections opts.AuxDial and opts.Tuning.NetWorkers
// allow for the parallel raw-file path — the client is always the side
// that can dial more of them, regardless of whether it ends up sending or
// receiving.
func clientHandshake(conn net.Conn, opts Options) (negotiated, error) {
	if err := wire.WriteHello(conn); err != nil {
		return negotiated{}, err
	}
	if _, err := wire.ReadHello(conn); err != nil {
		return negotiated{}, err
	}

	sessionID, err := uuid.New().MarshalBinary()
	if err != nil {
		return negotiated{}, fmt.Errorf("generate session id: %w", err)
	}
	var id [16]byte
	copy(id[:], sessionID)

	flags := flagsFor(opts)
	maxFrame := maxFrameFor(flags)
	if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeStart, Payload: encodeStart(flags, id)}, maxFrame); err != nil {
		return negotiated{}, err
	}

	frame, err := wire.ReadFrame(conn, maxFrame)
	if err != nil {
		return negotiated{}, err
	}
	if frame.Type != wire.TypeOK {
		return negotiated{}, fmt.Errorf("%w: expected OK, got %s", wire.ErrProtocolViolation, wire.TypeName(frame.Type))
	}

	role := RoleSender
	if opts.Pull {
		role = RoleReceiver
	}
	var auxConns []net.Conn
	if !opts.VerifyOnly {
		auxConns = dialAuxConns(opts.AuxDial, id, opts.Tuning.NetWorkersClamped())
	}
	return negotiated{maxFrame: maxFrame, role: role, opts: opts, sessionID: id, auxConns: auxConns}, nil
}

// serverHandshake performs the server's half: read hello, send hello, read
// START, send OK. Used by RunServer, whose caller has no accept-side
// session-ID registry (e.g. a local net.Pipe pair or a unit test), so it
// never has auxiliary connections to drain.
func serverHandshake(conn net.Conn, defaultOpts Options) (negotiated, error) {
	if _, err := wire.ReadHello(conn); err != nil {
		return negotiated{}, err
	}
	if err := wire.WriteHello(conn); err != nil {
		return negotiated{}, err
	}

	frame, err := wire.ReadFrame(conn, wire.DefaultMaxFrameBytes)
	if err != nil {
		return negotiated{}, err
	}
	if frame.Type != wire.TypeStart {
		return negotiated{}, fmt.Errorf("%w: expected START, got %s", wire.ErrProtocolViolation, wire.TypeName(frame.Type))
	}
	return finishServerHandshake(conn, frame, defaultOpts)
}

// serverHandshakeFromStart is serverHandshake's counterpart for a daemon
// that has already exchanged hellos and read the START frame itself, in
// order to inspect its session ID before dispatching to a session at all
// (cmd/blit/daemon.go's accept loop). defaultOpts.AuxConns, when set, is
// drained here for up to auxHelloTimeout to pick up whatever auxiliary
// connections the accept loop routes to this session ID meanwhile.
func serverHandshakeFromStart(conn net.Conn, frame wire.Frame, defaultOpts Options) (negotiated, error) {
	if frame.Type != wire.TypeStart {
		return negotiated{}, fmt.Errorf("%w: expected START, got %s", wire.ErrProtocolViolation, wire.TypeName(frame.Type))
	}
	return finishServerHandshake(conn, frame, defaultOpts)
}

// finishServerHandshake decodes a START frame, replies OK, and assembles
// the negotiated session. The negotiated role is the opposite of whatever
// the client requested, and defaultOpts supplies everything the wire
// doesn't carry (filter, tuning) — only Pull, VerifyOnly, RemoveSource and
// the tuning flag bits travel on START.
func finishServerHandshake(conn net.Conn, frame wire.Frame, defaultOpts Options) (negotiated, error) {
	start, err := decodeStart(frame.Payload)
	if err != nil {
		return negotiated{}, err
	}

	opts := defaultOpts
	opts.Pull = start.Flags&wire.FlagPull != 0
	opts.Tuning.EmptyDirs = start.Flags&wire.FlagEmptyDirs != 0
	opts.Tuning.NoTar = start.Flags&wire.FlagNoTar != 0
	opts.Tuning.Checksum = start.Flags&wire.FlagChecksum != 0
	opts.Tuning.HighThroughput = start.Flags&wire.FlagHighThroughput != 0
	opts.VerifyOnly = start.Flags&wire.FlagVerifyOnly != 0
	opts.RemoveSource = start.Flags&wire.FlagRemoveSource != 0

	maxFrame := maxFrameFor(start.Flags)
	if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeOK}, maxFrame); err != nil {
		return negotiated{}, err
	}

	// The server plays the opposite role of the client's request: a client
	// push (Pull=false) means the client sends and the server receives.
	role := RoleReceiver
	if opts.Pull {
		role = RoleSender
	}
	var auxConns []net.Conn
	if !opts.VerifyOnly {
		auxConns = drainAuxConns(opts.AuxConns, opts.Tuning.NetWorkersClamped()-1, auxHelloTimeout)
	}
	return negotiated{maxFrame: maxFrame, role: role, opts: opts, sessionID: start.SessionID, auxConns: auxConns}, nil
}

// drainAuxConns collects up to want connections from ch, waiting up to
// timeout total for them to arrive — auxiliary connections are separate
// TCP dials from the client and may reach the accept loop slightly after
// the primary connection's START frame does. Returning fewer than want is
// never an error; the raw-file path just runs with fewer parallel workers.
func drainAuxConns(ch <-chan net.Conn, want int, timeout time.Duration) []net.Conn {
	if ch == nil || want <= 0 {
		return nil
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	conns := make([]net.Conn, 0, want)
	for len(conns) < want {
		select {
		case conn := <-ch:
			conns = append(conns, conn)
		case <-deadline.C:
			return conns
		}
	}
	return conns
}
