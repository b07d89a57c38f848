//go:build !linux

package rawmove

import (
	"io"
	"net"
	"os"
)

// SendFile transfers length bytes from src (at offset) to conn. Platforms
// without a sendfile syscall wired here fall back to a buffered copy; the
// transfer semantics are identical, only the zero-copy optimization differs.
func SendFile(conn net.Conn, src *os.File, offset, length int64) error {
	if _, err := src.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	_, err := io.CopyN(conn, src, length)
	return err
}
