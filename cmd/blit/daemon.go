package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blitsync/blit/internal/config"
	"github.com/blitsync/blit/internal/session"
	"github.com/blitsync/blit/internal/tlsboot"
	"github.com/blitsync/blit/internal/wire"
)

func newDaemonCmd() *cobra.Command {
	var (
		listenAddr  string
		root        string
		tlsCertFile string
		tlsKeyFile  string
		noTLS       bool
		mirror      bool
		flags       sessionFlags
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Serve a directory tree over the blit binary protocol",
		Long: `Run a blit daemon that serves a directory tree to remote blit clients.

The daemon accepts one connection per goroutine and drives each through
session.RunServerFromStart, playing sender or receiver as the client's
START frame requests; a connection that instead opens with AUX_HELLO joins
an existing session's parallel raw-file worker pool rather than starting
one. Connection info (port and TLS certificate fingerprint) is
written to /etc/blit/daemon.toml so that clients pointed at this host with a
bare blits:// URL can discover and trust-on-first-use verify it without an
out-of-band fingerprint.

The daemon generates a persistent self-signed certificate on first run,
stored at /etc/blit/daemon.{crt,key}. Provide --tls-cert and --tls-key to
supply your own, or --no-tls to serve plaintext (blit:// only).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, &flags, listenAddr, root, tlsCertFile, tlsKeyFile, noTLS, mirror)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", fmt.Sprintf(":%d", 9876), "listen address (host:port)")
	cmd.Flags().StringVar(&root, "root", ".", "root directory to serve")
	cmd.Flags().StringVar(&tlsCertFile, "tls-cert", "", "path to TLS certificate file")
	cmd.Flags().StringVar(&tlsKeyFile, "tls-key", "", "path to TLS private key file")
	cmd.Flags().BoolVar(&noTLS, "no-tls", false, "serve plaintext instead of TLS")
	cmd.Flags().BoolVar(&mirror, "mirror", false, "delete destination-side extras when acting as receiver")
	registerSessionFlags(cmd, &flags)
	return cmd
}

func runDaemon(cmd *cobra.Command, flags *sessionFlags, listenAddr, root, tlsCertFile, tlsKeyFile string, noTLS, mirror bool) error {
	info, err := os.Stat(root)
	if err != nil {
		return &exitError{code: 2, msg: fmt.Sprintf("root directory %q: %v", root, err)}
	}
	if !info.IsDir() {
		return &exitError{code: 2, msg: fmt.Sprintf("root %q is not a directory", root)}
	}

	chain, err := buildFilterChain(flags)
	if err != nil {
		return &exitError{code: 2, msg: err.Error()}
	}
	tuning := loadTuning(cmd, flags)
	if flags.bwLimitStr != "" {
		n, err := parseBWLimit(flags.bwLimitStr)
		if err != nil {
			return &exitError{code: 2, msg: "invalid --bwlimit: " + err.Error()}
		}
		tuning.BWLimitBytesPerSec = n
	}
	defaultOpts := session.Options{Mirror: mirror, Tuning: tuning}
	if !chain.Empty() {
		defaultOpts.Filter = chain
	}

	var listener net.Listener
	var fingerprint string
	if noTLS {
		listener, err = net.Listen("tcp", listenAddr)
		if err != nil {
			return &exitError{code: 1, msg: err.Error()}
		}
	} else {
		cert, fp, certErr := loadDaemonCert(tlsCertFile, tlsKeyFile)
		if certErr != nil {
			return &exitError{code: 1, msg: "TLS cert: " + certErr.Error()}
		}
		fingerprint = fp
		listener, err = tls.Listen("tcp", listenAddr, tlsboot.ServerTLSConfig(cert))
		if err != nil {
			return &exitError{code: 1, msg: err.Error()}
		}
	}
	defer listener.Close()

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		return &exitError{code: 1, msg: fmt.Sprintf("unexpected listener address type: %T", listener.Addr())}
	}
	if err := config.WriteDaemonDiscovery(config.DaemonDiscovery{Fingerprint: fingerprint, Port: tcpAddr.Port}); err != nil {
		slog.Warn("failed to write daemon discovery file", "error", err)
	}
	defer config.RemoveDaemonDiscovery()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("blit daemon listening", "addr", tcpAddr, "root", root, "tls", !noTLS)
	return serveLoop(ctx, listener, root, defaultOpts)
}

func loadDaemonCert(certFile, keyFile string) (tls.Certificate, string, error) {
	var cert tls.Certificate
	var err error
	if certFile != "" && keyFile != "" {
		cert, err = tls.LoadX509KeyPair(certFile, keyFile)
	} else {
		cert, _, err = tlsboot.LoadOrGenerateCert("", "")
	}
	if err != nil {
		return tls.Certificate{}, "", err
	}
	fingerprint, err := tlsboot.CertFingerprint(cert)
	if err != nil {
		return tls.Certificate{}, "", err
	}
	return cert, fingerprint, nil
}

// auxRegistry routes freshly accepted connections that identify themselves
// as auxiliary workers (an AUX_HELLO frame) to the in-flight session they
// belong to, keyed by the 16-byte session ID carried in that session's
// START frame — spec.md §4.7's parallel raw-file path dials these as
// independent connections that reach the accept loop separately from, and
// in no guaranteed order relative to, the connection carrying START.
type auxRegistry struct {
	mu    sync.Mutex
	chans map[[16]byte]chan net.Conn
}

func newAuxRegistry() *auxRegistry {
	return &auxRegistry{chans: make(map[[16]byte]chan net.Conn)}
}

// getOrCreate returns the channel for id, buffered generously enough to
// hold spec.md §6's entire net-workers range without blocking the accept
// loop on a session that's slow to claim its aux connections.
func (r *auxRegistry) getOrCreate(id [16]byte) chan net.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.chans[id]
	if !ok {
		ch = make(chan net.Conn, 32)
		r.chans[id] = ch
	}
	return ch
}

// remove retires id's channel once its session has claimed everything it's
// going to. The entry stays behind as a nil channel, so route closes any
// connection that arrives for id afterward instead of leaking it.
func (r *auxRegistry) remove(id [16]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chans[id] = nil
}

// route delivers conn to id's channel, creating it if this AUX_HELLO
// arrived before the session that owns it. A full channel means the
// session already claimed net_workers connections and isn't reading any
// more; conn is closed rather than blocking the accept loop.
func (r *auxRegistry) route(id [16]byte, conn net.Conn) {
	ch := r.getOrCreate(id)
	select {
	case ch <- conn:
	default:
		conn.Close()
	}
}

// serveLoop accepts connections until ctx is canceled, driving each one
// through handleConn in its own goroutine. A per-connection error is
// logged, never fatal to the daemon.
func serveLoop(ctx context.Context, listener net.Listener, root string, defaultOpts session.Options) error {
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	aux := newAuxRegistry()
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go handleConn(conn, root, defaultOpts, aux)
	}
}

// handleConn completes an accepted connection's hello handshake, then
// dispatches on its first frame: START begins a new session (draining
// whatever auxiliary connections the registry has or later collects for
// its session ID), while AUX_HELLO joins an existing one. Only the START
// path owns and eventually closes conn; an AUX_HELLO connection's
// lifetime belongs to whichever session claims it.
func handleConn(conn net.Conn, root string, defaultOpts session.Options, aux *auxRegistry) {
	if _, err := wire.ReadHello(conn); err != nil {
		slog.Warn("hello failed", "remote", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}
	if err := wire.WriteHello(conn); err != nil {
		slog.Warn("hello failed", "remote", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}

	frame, err := wire.ReadFrame(conn, wire.DefaultMaxFrameBytes)
	if err != nil {
		slog.Warn("session failed", "remote", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}

	switch frame.Type {
	case wire.TypeAuxHello:
		id, err := session.DecodeAuxHello(frame.Payload)
		if err != nil {
			slog.Warn("aux_hello decode failed", "remote", conn.RemoteAddr(), "error", err)
			conn.Close()
			return
		}
		aux.route(id, conn)

	case wire.TypeStart:
		defer conn.Close()
		id, err := session.PeekSessionID(frame)
		if err != nil {
			slog.Warn("start decode failed", "remote", conn.RemoteAddr(), "error", err)
			return
		}
		auxCh := aux.getOrCreate(id)
		defer aux.remove(id)

		snap, err := session.RunServerFromStart(conn, frame, root, defaultOpts, auxCh)
		if err != nil {
			slog.Warn("session failed", "remote", conn.RemoteAddr(), "error", err)
			return
		}
		slog.Info("session complete", "remote", conn.RemoteAddr(),
			"files", snap.FilesSent+snap.FilesReceived, "bytes", snap.BytesSent+snap.BytesReceived)

	default:
		slog.Warn("unexpected first frame", "remote", conn.RemoteAddr(), "type", wire.TypeName(frame.Type))
		conn.Close()
	}
}
