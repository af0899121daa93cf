package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf16"

	"github.com/google/uuid"
)

// PacketBuilder constructs packet payloads: a VarInt packet id followed by
// big-endian fields. Methods return the builder so calls can be chained.
type PacketBuilder struct {
	buf     bytes.Buffer
	scratch [8]byte
}

// NewPacketBuilder creates a builder whose payload starts with the given packet id.
func NewPacketBuilder(id int32) *PacketBuilder {
	b := &PacketBuilder{}
	b.WriteVarInt(id)
	return b
}

// NewFieldBuilder creates a builder with no packet id, for nested structures.
func NewFieldBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
}

// WriteUint8 writes a single unsigned byte.
func (b *PacketBuilder) WriteUint8(v uint8) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteInt8 writes a single signed byte.
func (b *PacketBuilder) WriteInt8(v int8) *PacketBuilder {
	b.buf.WriteByte(byte(v))
	return b
}

// WriteBool writes 1 for true and 0 for false.
func (b *PacketBuilder) WriteBool(v bool) *PacketBuilder {
	if v {
		b.buf.WriteByte(1)
	} else {
		b.buf.WriteByte(0)
	}
	return b
}

// WriteInt16 writes a big-endian int16.
func (b *PacketBuilder) WriteInt16(v int16) *PacketBuilder {
	binary.BigEndian.PutUint16(b.scratch[:2], uint16(v))
	b.buf.Write(b.scratch[:2])
	return b
}

// WriteUint16 writes a big-endian uint16.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	binary.BigEndian.PutUint16(b.scratch[:2], v)
	b.buf.Write(b.scratch[:2])
	return b
}

// WriteInt32 writes a big-endian int32.
func (b *PacketBuilder) WriteInt32(v int32) *PacketBuilder {
	binary.BigEndian.PutUint32(b.scratch[:4], uint32(v))
	b.buf.Write(b.scratch[:4])
	return b
}

// WriteInt64 writes a big-endian int64.
func (b *PacketBuilder) WriteInt64(v int64) *PacketBuilder {
	binary.BigEndian.PutUint64(b.scratch[:8], uint64(v))
	b.buf.Write(b.scratch[:8])
	return b
}

// WriteFloat32 writes an IEEE 754 single in big-endian order.
func (b *PacketBuilder) WriteFloat32(v float32) *PacketBuilder {
	binary.BigEndian.PutUint32(b.scratch[:4], math.Float32bits(v))
	b.buf.Write(b.scratch[:4])
	return b
}

// WriteFloat64 writes an IEEE 754 double in big-endian order.
func (b *PacketBuilder) WriteFloat64(v float64) *PacketBuilder {
	binary.BigEndian.PutUint64(b.scratch[:8], math.Float64bits(v))
	b.buf.Write(b.scratch[:8])
	return b
}

// WriteVarInt writes a VarInt.
func (b *PacketBuilder) WriteVarInt(v int32) *PacketBuilder {
	n := AppendVarInt(b.scratch[:0], v)
	b.buf.Write(n)
	return b
}

// WriteString writes a VarInt byte length followed by the UTF-8 bytes of s.
func (b *PacketBuilder) WriteString(s string) *PacketBuilder {
	b.WriteVarInt(int32(len(s)))
	b.buf.WriteString(s)
	return b
}

// WriteUUID writes the 16 raw bytes of id.
func (b *PacketBuilder) WriteUUID(id uuid.UUID) *PacketBuilder {
	b.buf.Write(id[:])
	return b
}

// WriteByteArray writes a VarInt length followed by data.
func (b *PacketBuilder) WriteByteArray(data []byte) *PacketBuilder {
	b.WriteVarInt(int32(len(data)))
	b.buf.Write(data)
	return b
}

// WriteBytes writes raw bytes with no length prefix.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// WriteBitSet writes a VarInt count of longs followed by the longs.
func (b *PacketBuilder) WriteBitSet(words []uint64) *PacketBuilder {
	b.WriteVarInt(int32(len(words)))
	for _, w := range words {
		b.WriteInt64(int64(w))
	}
	return b
}

// WriteNBTString writes a nameless network NBT string tag, which is how
// text components travel in configuration and play packets. The text is
// encoded as modified UTF-8 and cut at a character boundary when it would
// exceed MaxNBTStringLength bytes.
func (b *PacketBuilder) WriteNBTString(s string) *PacketBuilder {
	enc := AppendModifiedUTF8(nil, s, MaxNBTStringLength)
	b.buf.WriteByte(nbtTagString)
	b.WriteUint16(uint16(len(enc)))
	b.buf.Write(enc)
	return b
}

// MaxNBTStringLength is the largest encoded length an NBT string can declare.
const MaxNBTStringLength = math.MaxUint16

// AppendModifiedUTF8 appends s to dst in the JVM's modified UTF-8: NUL takes
// two bytes and runes outside the BMP become a surrogate pair of three-byte
// sequences. Encoding stops before the first character that would push the
// output past max bytes.
func AppendModifiedUTF8(dst []byte, s string, max int) []byte {
	start := len(dst)
	for _, r := range s {
		var enc [6]byte
		n := 0
		switch {
		case r == 0:
			enc[0], enc[1] = 0xC0, 0x80
			n = 2
		case r < 0x80:
			enc[0] = byte(r)
			n = 1
		case r < 0x800:
			enc[0] = 0xC0 | byte(r>>6)
			enc[1] = 0x80 | byte(r)&0x3F
			n = 2
		case r < 0x10000:
			n = putUTF8Unit(enc[:], uint16(r))
		default:
			hi, lo := utf16.EncodeRune(r)
			n = putUTF8Unit(enc[:], uint16(hi))
			n += putUTF8Unit(enc[n:], uint16(lo))
		}
		if len(dst)-start+n > max {
			break
		}
		dst = append(dst, enc[:n]...)
	}
	return dst
}

func putUTF8Unit(dst []byte, u uint16) int {
	dst[0] = 0xE0 | byte(u>>12)
	dst[1] = 0x80 | byte(u>>6)&0x3F
	dst[2] = 0x80 | byte(u)&0x3F
	return 3
}

// WriteEmptyNBTCompound writes a nameless network NBT compound with no entries.
func (b *PacketBuilder) WriteEmptyNBTCompound() *PacketBuilder {
	b.buf.WriteByte(nbtTagCompound)
	b.buf.WriteByte(nbtTagEnd)
	return b
}

const (
	nbtTagEnd      = 0x00
	nbtTagString   = 0x08
	nbtTagCompound = 0x0A
)

// Build returns the constructed payload bytes.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// Len returns the current size of the payload being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current payload for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}
