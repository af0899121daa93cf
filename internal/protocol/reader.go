package protocol

import (
	"encoding/binary"
	"math"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/google/uuid"
)

// PacketReader decodes big-endian fields from a packet payload. The first
// failure is sticky: later reads return zero values and Err reports the
// original problem, so schema decoders can read every field and check once.
type PacketReader struct {
	data []byte
	off  int
	err  error
}

// NewPacketReader creates a reader over payload.
func NewPacketReader(payload []byte) *PacketReader {
	return &PacketReader{data: payload}
}

// Err returns the first error encountered.
func (r *PacketReader) Err() error {
	return r.err
}

// Remaining returns the number of unread bytes.
func (r *PacketReader) Remaining() int {
	return len(r.data) - r.off
}

// Finish returns the sticky error, or a schema error if bytes are left unread.
func (r *PacketReader) Finish() error {
	if r.err != nil {
		return r.err
	}
	if n := r.Remaining(); n > 0 {
		return schemaErrorf("%d trailing bytes", n)
	}
	return nil
}

// Failf records a schema error for constraints the reader cannot check itself.
func (r *PacketReader) Failf(format string, args ...interface{}) {
	r.fail(schemaErrorf(format, args...))
}

func (r *PacketReader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *PacketReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.fail(schemaErrorf("need %d bytes at offset %d, have %d", n, r.off, r.Remaining()))
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

// ReadUint8 reads one unsigned byte.
func (r *PacketReader) ReadUint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// ReadInt8 reads one signed byte.
func (r *PacketReader) ReadInt8() int8 {
	return int8(r.ReadUint8())
}

// ReadBool reads a boolean. Values other than 0 and 1 are rejected.
func (r *PacketReader) ReadBool() bool {
	v := r.ReadUint8()
	if v > 1 {
		r.fail(schemaErrorf("invalid boolean byte 0x%02x", v))
		return false
	}
	return v == 1
}

// ReadUint16 reads a big-endian uint16.
func (r *PacketReader) ReadUint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

// ReadInt16 reads a big-endian int16.
func (r *PacketReader) ReadInt16() int16 {
	return int16(r.ReadUint16())
}

// ReadInt32 reads a big-endian int32.
func (r *PacketReader) ReadInt32() int32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

// ReadInt64 reads a big-endian int64.
func (r *PacketReader) ReadInt64() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

// ReadFloat32 reads a big-endian IEEE 754 single.
func (r *PacketReader) ReadFloat32() float32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}

// ReadFloat64 reads a big-endian IEEE 754 double.
func (r *PacketReader) ReadFloat64() float64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

// ReadVarInt reads a VarInt. A truncated or over-long encoding is a schema error.
func (r *PacketReader) ReadVarInt() int32 {
	if r.err != nil {
		return 0
	}
	v, n, err := DecodeVarInt(r.data[r.off:])
	if err != nil {
		r.fail(schemaErrorf("bad varint at offset %d: %v", r.off, err))
		return 0
	}
	r.off += n
	return v
}

// ReadString reads a VarInt-length UTF-8 string of at most maxLen UTF-16
// code units, the unit the protocol bounds strings in.
func (r *PacketReader) ReadString(maxLen int) string {
	n := r.ReadVarInt()
	if r.err != nil {
		return ""
	}
	if n < 0 || int(n) > maxLen*3 {
		r.fail(schemaErrorf("string byte length %d exceeds bound for %d chars", n, maxLen))
		return ""
	}
	b := r.take(int(n))
	if b == nil {
		return ""
	}
	if !utf8.Valid(b) {
		r.fail(schemaErrorf("string is not valid UTF-8"))
		return ""
	}
	s := string(b)
	if units := utf16Len(s); units > maxLen {
		r.fail(schemaErrorf("string length %d exceeds %d", units, maxLen))
		return ""
	}
	return s
}

func utf16Len(s string) int {
	n := 0
	for _, c := range s {
		n += utf16.RuneLen(c)
	}
	return n
}

// ReadUUID reads 16 raw bytes as a UUID.
func (r *PacketReader) ReadUUID() uuid.UUID {
	var id uuid.UUID
	b := r.take(16)
	if b != nil {
		copy(id[:], b)
	}
	return id
}

// ReadByteArray reads a VarInt-length byte array of at most maxLen bytes.
func (r *PacketReader) ReadByteArray(maxLen int) []byte {
	n := r.ReadVarInt()
	if r.err != nil {
		return nil
	}
	if n < 0 || int(n) > maxLen {
		r.fail(schemaErrorf("byte array length %d exceeds %d", n, maxLen))
		return nil
	}
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// ReadRest consumes and returns everything left, bounded by maxLen.
func (r *PacketReader) ReadRest(maxLen int) []byte {
	n := r.Remaining()
	if n > maxLen {
		r.fail(schemaErrorf("trailing data of %d bytes exceeds %d", n, maxLen))
		return nil
	}
	b := r.take(n)
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
