package protocol

import (
	"bytes"
	"compress/zlib"
	"crypto/cipher"
	"errors"
	"io"
)

// FrameDecoder turns a stream of received bytes into packet payloads.
// Bytes are fed in as they arrive; Next yields complete payloads in order.
// It is not safe for concurrent use.
type FrameDecoder struct {
	buf       []byte
	threshold int
	stream    cipher.Stream
}

// NewFrameDecoder creates a decoder with compression and encryption disabled.
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{threshold: -1}
}

// EnableCompression switches to the compressed frame layout for every frame
// not yet returned by Next. A negative threshold turns compression off.
func (d *FrameDecoder) EnableCompression(threshold int) {
	d.threshold = threshold
}

// EnableEncryption decrypts all bytes after the current read position with
// stream, including bytes already buffered.
func (d *FrameDecoder) EnableEncryption(stream cipher.Stream) {
	d.stream = stream
	if len(d.buf) > 0 {
		stream.XORKeyStream(d.buf, d.buf)
	}
}

// Compressed reports whether the compressed frame layout is active.
func (d *FrameDecoder) Compressed() bool {
	return d.threshold >= 0
}

// Feed appends received bytes, decrypting them when encryption is enabled.
func (d *FrameDecoder) Feed(p []byte) {
	start := len(d.buf)
	d.buf = append(d.buf, p...)
	if d.stream != nil {
		d.stream.XORKeyStream(d.buf[start:], d.buf[start:])
	}
}

// Buffered returns the number of bytes waiting to be decoded.
func (d *FrameDecoder) Buffered() int {
	return len(d.buf)
}

// Next returns the next complete payload (packet id plus fields). It returns
// nil, nil when more bytes are needed. Errors wrap ErrFrame and leave the
// decoder unusable.
func (d *FrameDecoder) Next() ([]byte, error) {
	length, n, err := DecodeVarInt(d.buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if length <= 0 {
		return nil, frameErrorf("invalid frame length %d", length)
	}
	if length > MaxPacketSize {
		return nil, frameErrorf("frame length %d exceeds %d", length, MaxPacketSize)
	}
	end := n + int(length)
	if len(d.buf) < end {
		return nil, nil
	}
	frame := d.buf[n:end]

	var payload []byte
	if d.threshold >= 0 {
		payload, err = decompressFrame(frame)
		if err != nil {
			return nil, err
		}
	} else {
		payload = bytes.Clone(frame)
	}

	d.buf = d.buf[end:]
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return payload, nil
}

func decompressFrame(frame []byte) ([]byte, error) {
	dataLen, n, err := DecodeVarInt(frame)
	if err != nil {
		return nil, frameErrorf("bad uncompressed length: %v", err)
	}
	body := frame[n:]
	if dataLen == 0 {
		if len(body) == 0 {
			return nil, frameErrorf("empty uncompressed payload")
		}
		return bytes.Clone(body), nil
	}
	if dataLen < 0 || dataLen > MaxPacketSize {
		return nil, frameErrorf("uncompressed length %d out of range", dataLen)
	}

	zr, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, frameErrorf("zlib header: %v", err)
	}
	defer zr.Close()

	payload := make([]byte, dataLen)
	if _, err := io.ReadFull(zr, payload); err != nil {
		return nil, frameErrorf("inflated size mismatch, want %d: %v", dataLen, err)
	}
	var extra [1]byte
	n, err = zr.Read(extra[:])
	if n > 0 {
		return nil, frameErrorf("inflated data longer than declared %d", dataLen)
	}
	if err != nil && err != io.EOF {
		return nil, frameErrorf("inflate: %v", err)
	}
	return payload, nil
}

// FrameEncoder turns payloads into wire frames. It is not safe for concurrent use.
type FrameEncoder struct {
	threshold int
	stream    cipher.Stream
	zbuf      bytes.Buffer
	zw        *zlib.Writer
}

// NewFrameEncoder creates an encoder with compression and encryption disabled.
func NewFrameEncoder() *FrameEncoder {
	return &FrameEncoder{threshold: -1}
}

// EnableCompression switches every later frame to the compressed layout.
// Payloads of at least threshold bytes are deflated. A negative threshold
// turns compression off.
func (e *FrameEncoder) EnableCompression(threshold int) {
	e.threshold = threshold
}

// EnableEncryption encrypts every later frame with stream.
func (e *FrameEncoder) EnableEncryption(stream cipher.Stream) {
	e.stream = stream
}

// Encode frames payload. The returned slice is owned by the caller.
func (e *FrameEncoder) Encode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, frameErrorf("empty payload")
	}

	var body []byte
	if e.threshold >= 0 {
		if len(payload) >= e.threshold {
			compressed, err := e.deflate(payload)
			if err != nil {
				return nil, err
			}
			body = AppendVarInt(make([]byte, 0, MaxVarIntLen+len(compressed)), int32(len(payload)))
			body = append(body, compressed...)
		} else {
			body = AppendVarInt(make([]byte, 0, 1+len(payload)), 0)
			body = append(body, payload...)
		}
	} else {
		body = payload
	}

	if len(body) > MaxPacketSize {
		return nil, frameErrorf("frame length %d exceeds %d", len(body), MaxPacketSize)
	}

	frame := AppendVarInt(make([]byte, 0, MaxVarIntLen+len(body)), int32(len(body)))
	frame = append(frame, body...)
	if e.stream != nil {
		e.stream.XORKeyStream(frame, frame)
	}
	return frame, nil
}

func (e *FrameEncoder) deflate(payload []byte) ([]byte, error) {
	e.zbuf.Reset()
	if e.zw == nil {
		e.zw = zlib.NewWriter(&e.zbuf)
	} else {
		e.zw.Reset(&e.zbuf)
	}
	if _, err := e.zw.Write(payload); err != nil {
		return nil, frameErrorf("deflate: %v", err)
	}
	if err := e.zw.Close(); err != nil {
		return nil, frameErrorf("deflate: %v", err)
	}
	return bytes.Clone(e.zbuf.Bytes()), nil
}
