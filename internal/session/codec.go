// Package session drives the two concrete transfer roles, Client and
// Server, sharing internal/wire's frame codec and internal/manifest's
// build/diff logic. It is grounded on
// _examples/bamsammich-beam/internal/engine/engine.go's copy-driving loop
// and internal/transport/proto.Handler's request-serving loop, folded into
// one push/pull-symmetric state machine per spec.md §4.9.
package session

import (
	"encoding/binary"
	"fmt"

	"github.com/blitsync/blit/internal/manifest"
	"github.com/blitsync/blit/internal/wire"
)

func putString(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s))) //nolint:gosec // path length fits u32
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}

func getString(payload []byte, off int) (string, int, error) {
	if off+4 > len(payload) {
		return "", 0, fmt.Errorf("%w: string length truncated", wire.ErrProtocolViolation)
	}
	n := int(binary.BigEndian.Uint32(payload[off : off+4]))
	off += 4
	if off+n > len(payload) {
		return "", 0, fmt.Errorf("%w: string body truncated", wire.ErrProtocolViolation)
	}
	return string(payload[off : off+n]), off + n, nil
}

// encodeManifestEntry serializes one manifest.Entry into a MANIFEST_ENTRY
// payload: kind(u8) relpath(string) linktarget(string) size(u64)
// mtimeSec(i64) mtimeNsec(u32) mode(u32).
func encodeManifestEntry(e manifest.Entry) []byte {
	buf := make([]byte, 0, 32+len(e.RelPath)+len(e.LinkTarget))
	buf = append(buf, byte(e.Kind))
	buf = putString(buf, e.RelPath)
	buf = putString(buf, e.LinkTarget)

	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], e.Size)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint64(tmp[:], uint64(e.MTimeSec)) //nolint:gosec // seconds since epoch is non-negative here
	buf = append(buf, tmp[:]...)
	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], e.MTimeNsec)
	buf = append(buf, tmp4[:]...)
	binary.BigEndian.PutUint32(tmp4[:], e.Mode)
	buf = append(buf, tmp4[:]...)
	return buf
}

func decodeManifestEntry(payload []byte) (manifest.Entry, error) {
	if len(payload) < 1 {
		return manifest.Entry{}, fmt.Errorf("%w: manifest entry empty", wire.ErrProtocolViolation)
	}
	e := manifest.Entry{Kind: manifest.Kind(payload[0])}
	off := 1

	relPath, off, err := getString(payload, off)
	if err != nil {
		return manifest.Entry{}, err
	}
	e.RelPath = relPath

	linkTarget, off, err := getString(payload, off)
	if err != nil {
		return manifest.Entry{}, err
	}
	e.LinkTarget = linkTarget

	if off+24 > len(payload) {
		return manifest.Entry{}, fmt.Errorf("%w: manifest entry tail truncated", wire.ErrProtocolViolation)
	}
	e.Size = binary.BigEndian.Uint64(payload[off : off+8])
	e.MTimeSec = int64(binary.BigEndian.Uint64(payload[off+8 : off+16])) //nolint:gosec // round-trips a value we encoded ourselves
	e.MTimeNsec = binary.BigEndian.Uint32(payload[off+16 : off+20])
	e.Mode = binary.BigEndian.Uint32(payload[off+20 : off+24])
	return e, nil
}

// startPayload is the flags and session ID carried in a START frame. The
// session ID lets a later, independently dialed auxiliary connection
// identify which in-flight transfer it belongs to (spec.md §4.7).
type startPayload struct {
	Flags     uint32
	SessionID [16]byte
}

func encodeStart(flags uint32, sessionID [16]byte) []byte {
	buf := make([]byte, 4, 20)
	binary.BigEndian.PutUint32(buf, flags)
	return append(buf, sessionID[:]...)
}

func decodeStart(payload []byte) (startPayload, error) {
	if len(payload) < 20 {
		return startPayload{}, fmt.Errorf("%w: start frame truncated", wire.ErrProtocolViolation)
	}
	sp := startPayload{Flags: binary.BigEndian.Uint32(payload[:4])}
	copy(sp.SessionID[:], payload[4:20])
	return sp, nil
}

// encodeAuxHello / decodeAuxHello carry the session ID an auxiliary
// connection is joining, the entire payload of an AUX_HELLO frame.
func encodeAuxHello(sessionID [16]byte) []byte {
	buf := make([]byte, 16)
	copy(buf, sessionID[:])
	return buf
}

func decodeAuxHello(payload []byte) ([16]byte, error) {
	var id [16]byte
	if len(payload) < 16 {
		return id, fmt.Errorf("%w: aux_hello frame truncated", wire.ErrProtocolViolation)
	}
	copy(id[:], payload[:16])
	return id, nil
}

// mkdirPayload / symlinkPayload / setAttrPayload share the relpath +
// metadata shape needed to replay a directory/symlink/attribute-only need.

func encodeMkdir(relPath string, mode uint32) []byte {
	buf := putString(nil, relPath)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], mode)
	return append(buf, tmp[:]...)
}

func decodeMkdir(payload []byte) (relPath string, mode uint32, err error) {
	relPath, off, err := getString(payload, 0)
	if err != nil {
		return "", 0, err
	}
	if off+4 > len(payload) {
		return "", 0, fmt.Errorf("%w: mkdir frame truncated", wire.ErrProtocolViolation)
	}
	return relPath, binary.BigEndian.Uint32(payload[off : off+4]), nil
}

func encodeSymlink(relPath, target string) []byte {
	buf := putString(nil, relPath)
	return putString(buf, target)
}

func decodeSymlink(payload []byte) (relPath, target string, err error) {
	relPath, off, err := getString(payload, 0)
	if err != nil {
		return "", "", err
	}
	target, _, err = getString(payload, off)
	if err != nil {
		return "", "", err
	}
	return relPath, target, nil
}

func encodeSetAttr(e manifest.Entry) []byte {
	return encodeManifestEntry(e)
}

func decodeSetAttr(payload []byte) (manifest.Entry, error) {
	return decodeManifestEntry(payload)
}

// fileStartPayload is FILE_START's header, per spec.md §4.6.
type fileStartPayload struct {
	RelPath  string
	Size     int64
	MTimeSec int64
	Mode     uint32
	Flags    uint32
}

func encodeFileStart(p fileStartPayload) []byte {
	buf := putString(nil, p.RelPath)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(p.Size)) //nolint:gosec // size is non-negative
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint64(tmp[:], uint64(p.MTimeSec))
	buf = append(buf, tmp[:]...)
	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], p.Mode)
	buf = append(buf, tmp4[:]...)
	binary.BigEndian.PutUint32(tmp4[:], p.Flags)
	return append(buf, tmp4[:]...)
}

func decodeFileStart(payload []byte) (fileStartPayload, error) {
	relPath, off, err := getString(payload, 0)
	if err != nil {
		return fileStartPayload{}, err
	}
	if off+24 > len(payload) {
		return fileStartPayload{}, fmt.Errorf("%w: file_start frame truncated", wire.ErrProtocolViolation)
	}
	return fileStartPayload{
		RelPath:  relPath,
		Size:     int64(binary.BigEndian.Uint64(payload[off : off+8])),
		MTimeSec: int64(binary.BigEndian.Uint64(payload[off+8 : off+16])),
		Mode:     binary.BigEndian.Uint32(payload[off+16 : off+20]),
		Flags:    binary.BigEndian.Uint32(payload[off+20 : off+24]),
	}, nil
}

// FileFlagReadOnly marks a windows read-only attribute on FILE_START
// headers, per spec.md §4.6; FILE_RAW_START headers carry no flags.
const FileFlagReadOnly uint32 = 1

// fileRawStartPayload is FILE_RAW_START's header, per spec.md §4.7.
type fileRawStartPayload struct {
	RelPath  string
	Size     int64
	Offset   int64
	Length   int64
	MTimeSec int64
	Mode     uint32
}

func encodeFileRawStart(p fileRawStartPayload) []byte {
	buf := putString(nil, p.RelPath)
	var tmp [8]byte
	for _, v := range []int64{p.Size, p.Offset, p.Length, p.MTimeSec} {
		binary.BigEndian.PutUint64(tmp[:], uint64(v)) //nolint:gosec // fields are non-negative
		buf = append(buf, tmp[:]...)
	}
	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], p.Mode)
	return append(buf, tmp4[:]...)
}

func decodeFileRawStart(payload []byte) (fileRawStartPayload, error) {
	relPath, off, err := getString(payload, 0)
	if err != nil {
		return fileRawStartPayload{}, err
	}
	if off+36 > len(payload) {
		return fileRawStartPayload{}, fmt.Errorf("%w: file_raw_start frame truncated", wire.ErrProtocolViolation)
	}
	return fileRawStartPayload{
		RelPath:  relPath,
		Size:     int64(binary.BigEndian.Uint64(payload[off : off+8])),
		Offset:   int64(binary.BigEndian.Uint64(payload[off+8 : off+16])),
		Length:   int64(binary.BigEndian.Uint64(payload[off+16 : off+24])),
		MTimeSec: int64(binary.BigEndian.Uint64(payload[off+24 : off+32])),
		Mode:     binary.BigEndian.Uint32(payload[off+32 : off+36]),
	}, nil
}

// encodeDeltaStart / decodeDeltaStart announce that the path that follows
// runs through the block-delta exchange rather than a plain file transfer.
func encodeDeltaStart(relPath string) []byte {
	return putString(nil, relPath)
}

func decodeDeltaStart(payload []byte) (string, error) {
	relPath, _, err := getString(payload, 0)
	return relPath, err
}

// encodeVerifyReq / decodeVerifyReq carry a single relative path the
// receiver wants the sender's strong hash for, used both by checksum-mode
// diffing and by the standalone verify sub-mode.
func encodeVerifyReq(relPath string) []byte {
	return putString(nil, relPath)
}

func decodeVerifyReq(payload []byte) (string, error) {
	relPath, _, err := getString(payload, 0)
	return relPath, err
}

// encodeVerifyHash / decodeVerifyHash answer a VERIFY_REQ with the 256-bit
// content hash of relPath, or a zero hash plus found=false when the sender
// doesn't have that path at all.
func encodeVerifyHash(relPath string, hash [32]byte, found bool) []byte {
	buf := putString(nil, relPath)
	buf = append(buf, hash[:]...)
	if found {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func decodeVerifyHash(payload []byte) (relPath string, hash [32]byte, found bool, err error) {
	relPath, off, err := getString(payload, 0)
	if err != nil {
		return "", hash, false, err
	}
	if off+33 > len(payload) {
		return "", hash, false, fmt.Errorf("%w: verify_hash frame truncated", wire.ErrProtocolViolation)
	}
	copy(hash[:], payload[off:off+32])
	found = payload[off+32] != 0
	return relPath, hash, found, nil
}

// encodeNeedList / decodeNeedList carry manifest.Need entries across
// NEED_LIST: count(u32) then each entry as reason(u8) + a manifest entry.
func encodeNeedList(needs []manifest.Need) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(needs)))
	for _, n := range needs {
		buf = append(buf, byte(n.Reason))
		entry := encodeManifestEntry(n.Entry)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(entry)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, entry...)
	}
	return buf
}

func decodeNeedList(payload []byte) ([]manifest.Need, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: need_list truncated", wire.ErrProtocolViolation)
	}
	count := binary.BigEndian.Uint32(payload[:4])
	off := 4
	needs := make([]manifest.Need, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+5 > len(payload) {
			return nil, fmt.Errorf("%w: need_list entry header truncated", wire.ErrProtocolViolation)
		}
		reason := manifest.NeedReason(payload[off])
		entryLen := int(binary.BigEndian.Uint32(payload[off+1 : off+5]))
		off += 5
		if off+entryLen > len(payload) {
			return nil, fmt.Errorf("%w: need_list entry body truncated", wire.ErrProtocolViolation)
		}
		entry, err := decodeManifestEntry(payload[off : off+entryLen])
		if err != nil {
			return nil, err
		}
		off += entryLen
		needs = append(needs, manifest.Need{Entry: entry, Reason: reason})
	}
	return needs, nil
}

// encodeRemoveTreeResp carries whether the sender successfully removed its
// entire source tree after a move, and the error text when it didn't.
func encodeRemoveTreeResp(ok bool, errMsg string) []byte {
	buf := make([]byte, 1)
	if ok {
		buf[0] = 1
	}
	return putString(buf, errMsg)
}

func decodeRemoveTreeResp(payload []byte) (ok bool, errMsg string, err error) {
	if len(payload) < 1 {
		return false, "", fmt.Errorf("%w: remove_tree_resp truncated", wire.ErrProtocolViolation)
	}
	ok = payload[0] != 0
	errMsg, _, err = getString(payload, 1)
	return ok, errMsg, err
}

func putStringList(buf []byte, paths []string) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(paths))) //nolint:gosec // list length fits u32
	buf = append(buf, lenBuf[:]...)
	for _, p := range paths {
		buf = putString(buf, p)
	}
	return buf
}

func getStringList(payload []byte, off int) ([]string, int, error) {
	if off+4 > len(payload) {
		return nil, 0, fmt.Errorf("%w: string list length truncated", wire.ErrProtocolViolation)
	}
	count := binary.BigEndian.Uint32(payload[off : off+4])
	off += 4
	list := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		s, next, err := getString(payload, off)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, s)
		off = next
	}
	return list, off, nil
}

// encodeVerifyReport / decodeVerifyReport carry a VerifyReport's six path
// lists across VERIFY_REPORT, so whichever side ends up in the receiver
// role can hand its computed report to the other side.
func encodeVerifyReport(r *VerifyReport) []byte {
	var buf []byte
	buf = putStringList(buf, r.Missing)
	buf = putStringList(buf, r.SizeDiffers)
	buf = putStringList(buf, r.MTimeDiffers)
	buf = putStringList(buf, r.HashDiffers)
	buf = putStringList(buf, r.LinkTargetDiffers)
	buf = putStringList(buf, r.Extraneous)
	return buf
}

func decodeVerifyReport(payload []byte) (*VerifyReport, error) {
	r := &VerifyReport{}
	off := 0
	var err error
	for _, dst := range []*[]string{
		&r.Missing, &r.SizeDiffers, &r.MTimeDiffers, &r.HashDiffers, &r.LinkTargetDiffers, &r.Extraneous,
	} {
		*dst, off, err = getStringList(payload, off)
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

