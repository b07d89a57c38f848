package session

import (
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blitsync/blit/internal/config"
	"github.com/blitsync/blit/internal/fsys"
	"github.com/blitsync/blit/internal/manifest"
	"github.com/blitsync/blit/internal/wire"
)

// TestSendRawFallsBackToSequentialOnParallelFailure covers spec.md §4.12's
// two-tier failure policy: a worker-connection failure during the parallel
// raw path aborts the whole file and retries it over the single primary
// connection, rather than propagating the aux failure directly.
func TestSendRawFallsBackToSequentialOnParallelFailure(t *testing.T) {
	t.Parallel()

	srcRoot := t.TempDir()
	content := make([]byte, 3*1024*1024) // three 1MiB ranges at chunk=1MiB
	for i := range content {
		content[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "big.bin"), content, 0o644))
	read := fsys.NewLocalReadEndpoint(srcRoot)

	entry := manifest.Entry{RelPath: "big.bin", Size: uint64(len(content)), Kind: manifest.KindFile, Mode: 0o644}
	tuning := config.DefaultTuning()
	tuning.NetChunkMB = 1

	// Every auxiliary connection is pre-closed, so sendRawParallel's first
	// write attempt on any of them fails immediately and sendRaw must fall
	// back to sendRawSequential over the primary connection.
	auxA, auxB := net.Pipe()
	auxA.Close()
	auxB.Close()

	primaryServer, primaryClient := net.Pipe()
	defer primaryClient.Close()

	recvDone := make(chan []byte, 1)
	recvErr := make(chan error, 1)
	go func() {
		dst := make([]byte, len(content))
		for received := 0; received < len(content); {
			frame, err := wire.ReadFrame(primaryServer, wire.DefaultMaxFrameBytes)
			if err != nil {
				recvErr <- err
				return
			}
			if frame.Type != wire.TypeFileRawStart {
				recvErr <- errors.New("expected FILE_RAW_START, got " + wire.TypeName(frame.Type))
				return
			}
			hdr, err := decodeFileRawStart(frame.Payload)
			if err != nil {
				recvErr <- err
				return
			}
			buf := make([]byte, hdr.Length)
			if _, err := io.ReadFull(primaryServer, buf); err != nil {
				recvErr <- err
				return
			}
			copy(dst[hdr.Offset:hdr.Offset+hdr.Length], buf)
			received += int(hdr.Length)
		}
		recvDone <- dst
	}()

	counters := NewCounters()
	err := sendRaw(primaryClient, wire.DefaultMaxFrameBytes, read, entry, tuning, []net.Conn{auxA}, counters)
	require.NoError(t, err)

	select {
	case got := <-recvDone:
		require.Equal(t, content, got)
	case err := <-recvErr:
		t.Fatalf("receiver failed: %v", err)
	}
	require.Equal(t, int64(1), counters.Snapshot().FilesSent)
	require.Equal(t, int64(len(content)), counters.Snapshot().BytesSent)
}
