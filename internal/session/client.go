package session

import (
	"net"
)

// RunClient drives the client (dialing) side of a transfer against root,
// per spec.md §4.9. opts.Pull selects push vs. pull; the client is always
// the one that initiated the connection, and so is always the side that
// dials whatever auxiliary connections opts.AuxDial offers for the
// parallel raw-file path, regardless of which role it ends up playing.
func RunClient(conn net.Conn, root string, opts Options) (Snapshot, error) {
	n, err := clientHandshake(conn, opts)
	if err != nil {
		return Snapshot{}, err
	}
	return runNegotiated(conn, n, root)
}
