// Package wire frames warm-store entries: a generation stamp plus the
// codec-encoded payload. The generation lets readers reject bytes written
// before the last invalidation without trusting store TTLs.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const version byte = 1

var (
	ErrCorrupt = errors.New("fetchcache: corrupt store entry")
	magic4     = [...]byte{'F', 'C', 'H', 'E'}
)

const hdrLen = 4 + 1 + 8 + 4

// Encode frames payload as: magic(4) | ver(1) | gen(u64 be) | vlen(u32 be) | payload.
func Encode(gen uint64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], gen)
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// Decode rejects anything that is not exactly one well-formed frame,
// trailing bytes included.
func Decode(b []byte) (gen uint64, payload []byte, err error) {
	if len(b) < hdrLen || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return 0, nil, ErrCorrupt
	}

	off := 5
	gen = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen != len(b)-off {
		return 0, nil, ErrCorrupt
	}

	return gen, b[off : off+vlen], nil
}
