// Package wire frames a backend record for byte-oriented stores (bolt,
// redis). Tabular backends keep the metadata in columns and do not use
// this framing.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version byte = 1

	flagEternal byte = 1 << 0
)

var (
	ErrCorrupt = errors.New("spoolcache: corrupt record")
	magic4     = [...]byte{'S', 'P', 'L', 'C'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Record: magic(4) | ver(1) | flags(1) | createdAt unix ms (u64 be) |
// maxLife seconds (u64 be) | blen(u32 be) | blob(blen)
func EncodeRecord(createdAt time.Time, maxLife time.Duration, eternal bool, blob []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 8 + 4 + len(blob))

	buf.Write(magic4[:])
	buf.WriteByte(version)

	var flags byte
	if eternal {
		flags |= flagEternal
	}
	buf.WriteByte(flags)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(createdAt.UnixMilli()))
	buf.Write(u8[:])

	binary.BigEndian.PutUint64(u8[:], uint64(maxLife/time.Second))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(blob)))
	buf.Write(u4[:])

	buf.Write(blob)
	return buf.Bytes()
}

func DecodeRecord(b []byte) (createdAt time.Time, maxLife time.Duration, eternal bool, blob []byte, err error) {
	const hdr = 4 + 1 + 1 + 8 + 8 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version {
		err = ErrCorrupt
		return
	}

	eternal = b[5]&flagEternal != 0
	off := 6

	createdAt = time.UnixMilli(int64(binary.BigEndian.Uint64(b[off : off+8])))
	off += 8

	maxLife = time.Duration(binary.BigEndian.Uint64(b[off:off+8])) * time.Second
	off += 8

	blen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if blen < 0 || blen > len(b)-off { // overflow-safe bound check
		err = ErrCorrupt
		return
	}

	blob = b[off : off+blen]
	return
}
