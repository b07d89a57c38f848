package session

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/blitsync/blit/internal/manifest"
	"github.com/blitsync/blit/internal/wire"
)

// encodeManifestStart carries just the aggregate counts; the entries
// themselves stream as individual MANIFEST_ENTRY frames so a sender never
// has to hold a whole encoded manifest in memory at once.
func encodeManifestStart(m manifest.Manifest) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], uint32(m.TotalCount)) //nolint:gosec // count is non-negative
	binary.BigEndian.PutUint64(buf[4:12], m.DatasetSize)
	return buf
}

func decodeManifestStart(payload []byte) (totalCount int, datasetSize uint64, err error) {
	if len(payload) < 12 {
		return 0, 0, fmt.Errorf("%w: manifest_start truncated", wire.ErrProtocolViolation)
	}
	return int(binary.BigEndian.Uint32(payload[0:4])), binary.BigEndian.Uint64(payload[4:12]), nil
}

// sendManifest streams m as MANIFEST_START, one MANIFEST_ENTRY per entry,
// then MANIFEST_END.
func sendManifest(conn net.Conn, maxFrame int, m manifest.Manifest) error {
	if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeManifestStart, Payload: encodeManifestStart(m)}, maxFrame); err != nil {
		return err
	}
	for _, e := range m.Entries {
		if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeManifestEntry, Payload: encodeManifestEntry(e)}, maxFrame); err != nil {
			return err
		}
	}
	return wire.WriteFrame(conn, wire.Frame{Type: wire.TypeManifestEnd}, maxFrame)
}

// recvManifest reads a full manifest sent by sendManifest.
func recvManifest(conn net.Conn, maxFrame int) (manifest.Manifest, error) {
	frame, err := wire.ReadFrame(conn, maxFrame)
	if err != nil {
		return manifest.Manifest{}, err
	}
	if frame.Type != wire.TypeManifestStart {
		return manifest.Manifest{}, fmt.Errorf("%w: expected MANIFEST_START, got %s", wire.ErrProtocolViolation, wire.TypeName(frame.Type))
	}
	totalCount, datasetSize, err := decodeManifestStart(frame.Payload)
	if err != nil {
		return manifest.Manifest{}, err
	}

	m := manifest.Manifest{Entries: make([]manifest.Entry, 0, totalCount), DatasetSize: datasetSize}
	for {
		frame, err := wire.ReadFrame(conn, maxFrame)
		if err != nil {
			return manifest.Manifest{}, err
		}
		switch frame.Type {
		case wire.TypeManifestEntry:
			e, err := decodeManifestEntry(frame.Payload)
			if err != nil {
				return manifest.Manifest{}, err
			}
			m.Entries = append(m.Entries, e)
		case wire.TypeManifestEnd:
			m.TotalCount = len(m.Entries)
			return m, nil
		default:
			return manifest.Manifest{}, fmt.Errorf("%w: unexpected %s during manifest transfer", wire.ErrProtocolViolation, wire.TypeName(frame.Type))
		}
	}
}
