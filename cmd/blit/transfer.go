package main

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/blitsync/blit/internal/filter"
	"github.com/blitsync/blit/internal/location"
	"github.com/blitsync/blit/internal/session"
	"github.com/blitsync/blit/internal/tlsboot"
)

// sessionFlags mirrors spec.md §6's recognized session flags plus the
// filter and bandwidth flags the teacher's rootCmd registers, one struct
// per invocation so mirror/copy/move/verify share registration and
// resolution without repeating each flag's plumbing.
type sessionFlags struct {
	emptyDirs      bool
	noTar          bool
	checksum       bool
	highThroughput bool
	netWorkers     int
	netChunkMB     int
	largeThreshMB  int
	bwLimitStr     string

	excludes   []string
	includes   []string
	filterFile string
	minSizeStr string
	maxSizeStr string

	fingerprint string
	quiet       bool
	progress    bool
}

func registerSessionFlags(cmd *cobra.Command, f *sessionFlags) {
	cmd.Flags().BoolVar(&f.emptyDirs, "empty-dirs", false, "create empty directories present on the source")
	cmd.Flags().BoolVar(&f.noTar, "no-tar", false, "disable small-file tar bundling")
	cmd.Flags().BoolVar(&f.checksum, "checksum", false, "compare file content hashes instead of size/mtime")
	cmd.Flags().BoolVar(&f.highThroughput, "high-throughput", false, "raise the maximum frame size for high-bandwidth links")
	cmd.Flags().IntVar(&f.netWorkers, "net-workers", 4, "number of network workers for the raw large-file path (1-32)")
	cmd.Flags().IntVar(&f.netChunkMB, "net-chunk-mb", 4, "chunk size in MiB for the raw large-file path (1-32)")
	cmd.Flags().IntVar(&f.largeThreshMB, "large-threshold-mb", 16, "file size in MiB at or above which the raw large-file path replaces per-file transfer")
	cmd.Flags().StringVar(&f.bwLimitStr, "bwlimit", "", "bandwidth limit (e.g. 10M, 1G)")
	cmd.Flags().StringSliceVar(&f.excludes, "exclude", nil, "exclude files matching PATTERN (repeatable)")
	cmd.Flags().StringSliceVar(&f.includes, "include", nil, "include files matching PATTERN (repeatable)")
	cmd.Flags().StringVar(&f.filterFile, "filter", "", "read filter rules from FILE")
	cmd.Flags().StringVar(&f.minSizeStr, "min-size", "", "skip files smaller than SIZE")
	cmd.Flags().StringVar(&f.maxSizeStr, "max-size", "", "skip files larger than SIZE")
	cmd.Flags().StringVar(&f.fingerprint, "fingerprint", "", "expected TLS fingerprint for blits:// (SHA256:...)")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "suppress the summary line")
	cmd.Flags().BoolVar(&f.progress, "progress", false, "print per-file and periodic throughput progress during the transfer")
}

func parseBWLimit(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return filter.ParseSize(s)
}

func buildFilterChain(f *sessionFlags) (*filter.Chain, error) {
	chain := filter.NewChain()
	if f.filterFile != "" {
		if err := chain.LoadFile(f.filterFile); err != nil {
			return nil, fmt.Errorf("load filter file: %w", err)
		}
	}
	for _, pattern := range f.excludes {
		if err := chain.AddExclude(pattern); err != nil {
			return nil, fmt.Errorf("invalid --exclude %q: %w", pattern, err)
		}
	}
	for _, pattern := range f.includes {
		if err := chain.AddInclude(pattern); err != nil {
			return nil, fmt.Errorf("invalid --include %q: %w", pattern, err)
		}
	}
	if f.minSizeStr != "" {
		n, err := filter.ParseSize(f.minSizeStr)
		if err != nil {
			return nil, fmt.Errorf("invalid --min-size: %w", err)
		}
		chain.SetMinSize(n)
	}
	if f.maxSizeStr != "" {
		n, err := filter.ParseSize(f.maxSizeStr)
		if err != nil {
			return nil, fmt.Errorf("invalid --max-size: %w", err)
		}
		chain.SetMaxSize(n)
	}
	return chain, nil
}

// endpointArg is one side of a mirror/copy/move/verify invocation, either a
// bare local path or a blit://.../blits://... URL.
type endpointArg struct {
	loc      location.Location
	isRemote bool
}

func parseEndpointArg(raw string) endpointArg {
	loc, err := location.Parse(raw)
	if err != nil {
		return endpointArg{loc: location.Location{Path: raw}}
	}
	return endpointArg{loc: loc, isRemote: true}
}

// dialSide connects to the remote side of a transfer and returns the
// connected net.Conn; the peer's root path stays in e.loc.Path.
func dialSide(e endpointArg, fingerprint string) (net.Conn, error) {
	if !e.loc.TLS {
		return net.DialTimeout("tcp", e.loc.Addr(), 10*time.Second)
	}

	conn, err := tls.Dial("tcp", e.loc.Addr(), tlsboot.ClientTLSConfig())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", e.loc.Addr(), err)
	}
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		conn.Close()
		return nil, fmt.Errorf("dial %s: no peer certificate presented", e.loc.Addr())
	}
	if fingerprint != "" {
		peerFP, fpErr := tlsboot.PeerFingerprint(conn)
		if fpErr != nil {
			conn.Close()
			return nil, fpErr
		}
		if peerFP != fingerprint {
			conn.Close()
			return nil, fmt.Errorf("TLS fingerprint mismatch: expected %s, got %s", fingerprint, peerFP)
		}
	} else {
		store := tlsboot.NewStore("")
		if verifyErr := store.Verify(e.loc.Host, state.PeerCertificates[0]); verifyErr != nil {
			conn.Close()
			return nil, verifyErr
		}
	}
	return conn, nil
}

// runTransfer resolves the two endpoint arguments into a session.RunClient
// call and executes opts against them, returning the resulting snapshot.
// At most one side may be remote (spec.md §6); when neither is, the two
// sides are still driven through the wire protocol over a net.Pipe, so
// local-to-local invocations exercise the identical machine a networked one
// does rather than a separate local-copy fast path (a non-goal, see
// DESIGN.md's "Deleted teacher modules").
func runTransfer(src, dst endpointArg, opts session.Options, fingerprint string) (session.Snapshot, error) {
	switch {
	case src.isRemote && dst.isRemote:
		return session.Snapshot{}, &exitError{code: 2, msg: "remote-to-remote transfers are not supported; one side must be local"}
	case dst.isRemote:
		conn, err := dialSide(dst, fingerprint)
		if err != nil {
			return session.Snapshot{}, &exitError{code: 1, msg: err.Error()}
		}
		defer conn.Close()
		opts.Pull = false
		opts.AuxDial = func() (net.Conn, error) { return dialSide(dst, fingerprint) }
		snap, err := session.RunClient(conn, src.loc.Path, opts)
		return snap, wrapSessionErr(err)
	case src.isRemote:
		conn, err := dialSide(src, fingerprint)
		if err != nil {
			return session.Snapshot{}, &exitError{code: 1, msg: err.Error()}
		}
		defer conn.Close()
		opts.Pull = true
		opts.AuxDial = func() (net.Conn, error) { return dialSide(src, fingerprint) }
		snap, err := session.RunClient(conn, dst.loc.Path, opts)
		return snap, wrapSessionErr(err)
	default:
		return runLocalPair(src.loc.Path, dst.loc.Path, opts)
	}
}

// runLocalPair drives a local-to-local transfer over an in-process
// net.Pipe: the destination plays the server (receiver by default), the
// source plays the client (sender), matching the push direction an actual
// networked push would use. opts.AuxDial is left nil: a net.Pipe has no
// listener for a second connection to reach, so the parallel raw-file
// path always falls back to its single-connection sequential form here.
func runLocalPair(srcPath, dstPath string, opts session.Options) (session.Snapshot, error) {
	clientConn, serverConn := net.Pipe()

	serverDone := make(chan error, 1)
	go func() {
		_, err := session.RunServer(serverConn, dstPath, opts)
		serverDone <- err
	}()

	opts.Pull = false
	snap, clientErr := session.RunClient(clientConn, srcPath, opts)
	serverErr := <-serverDone

	if clientErr != nil {
		return snap, wrapSessionErr(clientErr)
	}
	if serverErr != nil {
		return snap, wrapSessionErr(serverErr)
	}
	return snap, nil
}

func wrapSessionErr(err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: 1, msg: err.Error()}
}

// printSummary prints a one-line human-readable summary, colored the way
// the teacher's inline (non-TUI) presenter does for a plain terminal.
func printSummary(snap session.Snapshot, quiet bool) {
	if quiet {
		return
	}
	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf(
		"%s sent=%s received=%s files sent=%d received=%d elapsed=%dms\n",
		bold(green("blit")),
		humanize.Bytes(uint64(snap.BytesSent)),     //nolint:gosec // byte counts are non-negative
		humanize.Bytes(uint64(snap.BytesReceived)), //nolint:gosec // byte counts are non-negative
		snap.FilesSent, snap.FilesReceived, snap.ElapsedMS,
	)
}
