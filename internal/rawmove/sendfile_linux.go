//go:build linux

package rawmove

import (
	"errors"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// SendFile transfers length bytes of src, starting at offset, to a
// TCP connection using the sendfile(2) syscall, avoiding a userspace copy.
// It falls back to io.CopyN if conn isn't backed by a raw TCP socket, and
// for the bytes sendfile(2) had not yet sent when it fails.
func SendFile(conn net.Conn, src *os.File, offset, length int64) error {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return copyFallback(conn, src, offset, length)
	}

	rawConn, err := tcp.SyscallConn()
	if err != nil {
		return copyFallback(conn, src, offset, length)
	}

	srcFd := int(src.Fd()) //nolint:gosec // fd is a small positive int by construction
	off := offset
	remaining := length

	var sendErr error
	ctrlErr := rawConn.Write(func(dstFd uintptr) bool {
		for remaining > 0 {
			n, err := unix.Sendfile(int(dstFd), srcFd, &off, int(remaining))
			if n > 0 {
				remaining -= int64(n)
			}
			if err != nil {
				if errors.Is(err, unix.EAGAIN) {
					return false // ask runtime to wait for writability, then retry
				}
				sendErr = err
				return true
			}
			if n == 0 {
				break
			}
		}
		return true
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	if sendErr != nil {
		return copyFallback(conn, src, off, remaining)
	}
	return nil
}

func copyFallback(conn net.Conn, src *os.File, offset, length int64) error {
	if _, err := src.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	_, err := io.CopyN(conn, src, length)
	return err
}
