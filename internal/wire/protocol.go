package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// ProtocolVersion is the current wire protocol version. A peer advertising a
// different version fails the handshake with ErrVersionMismatch.
const ProtocolVersion = 1

// protocolMagic identifies the start of a blit session on a freshly accepted
// connection, distinguishing it from stray or misdirected traffic.
var protocolMagic = [4]byte{'B', 'L', 'I', 'T'}

// Frame type registry, per spec.md §4.2. The numeric IDs given in the spec
// table are anchors and are preserved exactly; frame types the spec leaves
// unnumbered within a category are assigned stable values in a disjoint
// high range (50+) rather than guessed into the gaps between anchors, so
// that no two categories can ever collide. TypeAuxHello (64) extends that
// same range for the parallel raw-mover's connection-tagging handshake. See
// DESIGN.md for the rationale.
const (
	TypeStart byte = 11
	TypeOK    byte = 12
	TypeDone  byte = 13
	TypeError byte = 14

	TypeManifestStart byte = 21
	TypeManifestEntry byte = 22
	TypeManifestEnd   byte = 23
	TypeNeedList      byte = 24

	TypeMkdir   byte = 25
	TypeSymlink byte = 26
	TypeSetAttr byte = 27

	TypeFileStart    byte = 28
	TypeFileRawStart byte = 29

	TypeVerifyReq  byte = 31
	TypeVerifyHash byte = 32

	TypeRemoveTreeReq  byte = 42
	TypeRemoveTreeResp byte = 43

	TypeFileData  byte = 51
	TypeFileEnd   byte = 52
	TypePFileData byte = 53
	TypePFileEnd  byte = 54

	TypeTarStart byte = 55
	TypeTarData  byte = 56
	TypeTarEnd   byte = 57

	TypeDeltaStart byte = 58
	TypeDeltaSig   byte = 59
	TypeDeltaData  byte = 60
	TypeDeltaEnd   byte = 61
	TypeNeedRanges byte = 62

	// TypeVerifyReport carries a verify session's classified differences
	// back from whichever side computed them (always the receiver) to the
	// sender, so the invoking CLI gets its report regardless of which role
	// push/pull direction gave it.
	TypeVerifyReport byte = 63

	// TypeAuxHello is the first frame an auxiliary connection sends after
	// its own hello handshake, tagging itself with the session ID carried
	// in the primary connection's START frame so the accepting side can
	// route it to the right in-flight transfer's worker pool (spec.md
	// §4.7's parallel raw-file path).
	TypeAuxHello byte = 64
)

// typeNames gives a stable string form for logging and error messages.
var typeNames = map[byte]string{
	TypeStart:          "START",
	TypeOK:             "OK",
	TypeDone:           "DONE",
	TypeError:          "ERROR",
	TypeManifestStart:  "MANIFEST_START",
	TypeManifestEntry:  "MANIFEST_ENTRY",
	TypeManifestEnd:    "MANIFEST_END",
	TypeNeedList:       "NEED_LIST",
	TypeMkdir:          "MKDIR",
	TypeSymlink:        "SYMLINK",
	TypeSetAttr:        "SET_ATTR",
	TypeFileStart:      "FILE_START",
	TypeFileData:       "FILE_DATA",
	TypeFileEnd:        "FILE_END",
	TypeFileRawStart:   "FILE_RAW_START",
	TypePFileData:      "PFILE_DATA",
	TypePFileEnd:       "PFILE_END",
	TypeTarStart:       "TAR_START",
	TypeTarData:        "TAR_DATA",
	TypeTarEnd:         "TAR_END",
	TypeVerifyReq:      "VERIFY_REQ",
	TypeVerifyHash:     "VERIFY_HASH",
	TypeDeltaStart:     "DELTA_START",
	TypeDeltaSig:       "DELTA_SIG",
	TypeDeltaData:      "DELTA_DATA",
	TypeDeltaEnd:       "DELTA_END",
	TypeNeedRanges:     "NEED_RANGES",
	TypeVerifyReport:   "VERIFY_REPORT",
	TypeRemoveTreeReq:  "REMOVE_TREE_REQ",
	TypeRemoveTreeResp: "REMOVE_TREE_RESP",
	TypeAuxHello:       "AUX_HELLO",
}

// TypeName returns the registered name for a frame type, or a hex fallback
// for an unrecognized value.
func TypeName(t byte) string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%02x)", t)
}

// Session flag bits carried in the START frame payload, per spec.md §4.2.
const (
	FlagPull uint32 = 1 << iota
	FlagEmptyDirs
	FlagNoTar
	FlagChecksum
	FlagHighThroughput
	// FlagVerifyOnly marks a session that reports differences instead of
	// transferring or deleting anything, per spec.md's verify sub-mode.
	FlagVerifyOnly
	// FlagRemoveSource marks a "move": once the transfer completes
	// successfully, the receiver asks the sender to remove its entire
	// source tree via REMOVE_TREE_REQ/REMOVE_TREE_RESP.
	FlagRemoveSource
)

// WriteHello writes the magic+version handshake preamble to conn. Both
// endpoints send this before any framed traffic.
func WriteHello(conn net.Conn) error {
	buf := make([]byte, 5)
	copy(buf[:4], protocolMagic[:])
	buf[4] = ProtocolVersion
	if conn != nil {
		if err := conn.SetWriteDeadline(time.Now().Add(baseHeaderTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := conn.Write(buf); err != nil {
		return fmt.Errorf("write hello: %w", err)
	}
	return nil
}

// ReadHello reads and validates the magic+version handshake preamble,
// returning the peer's advertised version. It returns ErrVersionMismatch if
// the peer's version differs from ProtocolVersion.
func ReadHello(conn net.Conn) (int, error) {
	if conn != nil {
		if err := conn.SetReadDeadline(time.Now().Add(baseHeaderTimeout)); err != nil {
			return 0, fmt.Errorf("set read deadline: %w", err)
		}
	}
	buf := make([]byte, 5)
	if _, err := readFull(conn, buf); err != nil {
		return 0, fmt.Errorf("read hello: %w", err)
	}
	if !bytes.Equal(buf[:4], protocolMagic[:]) {
		return 0, fmt.Errorf("%w: bad magic", ErrProtocolViolation)
	}
	peerVersion := int(buf[4])
	if peerVersion != ProtocolVersion {
		return peerVersion, fmt.Errorf("%w: peer=%d local=%d", ErrVersionMismatch, peerVersion, ProtocolVersion)
	}
	return peerVersion, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// PutUint32 wraps encoding/binary.BigEndian for the fixed-width integer
// fields used throughout the message payloads in internal/session.
func PutUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }

// Uint32 decodes a big-endian uint32 from b.
func Uint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

// PutUint64 encodes a big-endian uint64 into b.
func PutUint64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }

// Uint64 decodes a big-endian uint64 from b.
func Uint64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }
