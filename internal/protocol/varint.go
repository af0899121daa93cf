package protocol

import (
	"io"
)

// MaxVarIntLen is the widest legal VarInt encoding.
const MaxVarIntLen = 5

const (
	segmentBits  = 0x7F
	continueBit  = 0x80
	varIntShifts = 7
)

// AppendVarInt appends the VarInt encoding of v to dst.
// Negative values are encoded as their two's complement and take 5 bytes.
func AppendVarInt(dst []byte, v int32) []byte {
	u := uint32(v)
	for u >= continueBit {
		dst = append(dst, byte(u&segmentBits)|continueBit)
		u >>= varIntShifts
	}
	return append(dst, byte(u))
}

// VarIntSize returns the number of bytes AppendVarInt would write for v.
func VarIntSize(v int32) int {
	u := uint32(v)
	n := 1
	for u >= continueBit {
		u >>= varIntShifts
		n++
	}
	return n
}

// DecodeVarInt decodes a VarInt from the start of buf and returns the value
// and the number of bytes consumed. If buf ends before the VarInt does it
// returns io.ErrUnexpectedEOF so accumulating callers can wait for more data.
// An encoding wider than 5 bytes is a frame error.
func DecodeVarInt(buf []byte) (int32, int, error) {
	var value uint32
	for i := 0; i < MaxVarIntLen; i++ {
		if i >= len(buf) {
			return 0, 0, io.ErrUnexpectedEOF
		}
		b := buf[i]
		value |= uint32(b&segmentBits) << (varIntShifts * i)
		if b&continueBit == 0 {
			return int32(value), i + 1, nil
		}
	}
	return 0, 0, frameErrorf("varint wider than %d bytes", MaxVarIntLen)
}

// ReadVarInt reads a VarInt one byte at a time from r.
func ReadVarInt(r io.ByteReader) (int32, error) {
	var value uint32
	for i := 0; i < MaxVarIntLen; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if i > 0 && err == io.EOF {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		value |= uint32(b&segmentBits) << (varIntShifts * i)
		if b&continueBit == 0 {
			return int32(value), nil
		}
	}
	return 0, frameErrorf("varint wider than %d bytes", MaxVarIntLen)
}
