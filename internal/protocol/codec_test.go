package protocol

import (
	"bytes"
	"compress/zlib"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, d *FrameDecoder) [][]byte {
	t.Helper()
	var out [][]byte
	for {
		p, err := d.Next()
		require.NoError(t, err)
		if p == nil {
			return out
		}
		out = append(out, p)
	}
}

func testPayloads() [][]byte {
	big := bytes.Repeat([]byte("crawlspace"), 100)
	return [][]byte{
		{0x00},
		NewPacketBuilder(0x01).WriteInt64(1234567).Build(),
		append([]byte{0x27}, big...),
		NewPacketBuilder(0x00).WriteString("hello").Build(),
	}
}

func TestFrameCodec_Uncompressed(t *testing.T) {
	enc := NewFrameEncoder()
	dec := NewFrameDecoder()

	var wire []byte
	for _, p := range testPayloads() {
		frame, err := enc.Encode(p)
		require.NoError(t, err)
		wire = append(wire, frame...)
	}

	// Feed one byte at a time to exercise partial frames.
	var got [][]byte
	for _, b := range wire {
		dec.Feed([]byte{b})
		got = append(got, drain(t, dec)...)
	}
	assert.Equal(t, testPayloads(), got)
	assert.Zero(t, dec.Buffered())
}

func TestFrameCodec_Compressed(t *testing.T) {
	for _, threshold := range []int{0, 64, 256} {
		enc := NewFrameEncoder()
		dec := NewFrameDecoder()
		enc.EnableCompression(threshold)
		dec.EnableCompression(threshold)
		assert.True(t, dec.Compressed())

		var wire []byte
		for _, p := range testPayloads() {
			frame, err := enc.Encode(p)
			require.NoError(t, err)
			wire = append(wire, frame...)
		}
		dec.Feed(wire)
		assert.Equal(t, testPayloads(), drain(t, dec), "threshold %d", threshold)
	}
}

func TestFrameCodec_BelowThresholdUsesZeroDataLength(t *testing.T) {
	enc := NewFrameEncoder()
	enc.EnableCompression(256)

	frame, err := enc.Encode([]byte{0x00, 0x01})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x00, 0x00, 0x01}, frame)
}

func TestFrameDecoder_Rejects(t *testing.T) {
	t.Run("declared length too large", func(t *testing.T) {
		dec := NewFrameDecoder()
		dec.Feed(AppendVarInt(nil, MaxPacketSize+1))
		_, err := dec.Next()
		assert.ErrorIs(t, err, ErrFrame)
	})

	t.Run("zero length", func(t *testing.T) {
		dec := NewFrameDecoder()
		dec.Feed([]byte{0x00})
		_, err := dec.Next()
		assert.ErrorIs(t, err, ErrFrame)
	})

	t.Run("over-long length prefix", func(t *testing.T) {
		dec := NewFrameDecoder()
		dec.Feed([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01})
		_, err := dec.Next()
		assert.ErrorIs(t, err, ErrFrame)
	})

	t.Run("inflated size mismatch", func(t *testing.T) {
		var z bytes.Buffer
		zw := zlib.NewWriter(&z)
		_, _ = zw.Write(bytes.Repeat([]byte{0x01}, 300))
		require.NoError(t, zw.Close())

		body := AppendVarInt(nil, 200)
		body = append(body, z.Bytes()...)
		frame := AppendVarInt(nil, int32(len(body)))
		frame = append(frame, body...)

		dec := NewFrameDecoder()
		dec.EnableCompression(256)
		dec.Feed(frame)
		_, err := dec.Next()
		assert.ErrorIs(t, err, ErrFrame)
	})

	t.Run("garbage compressed body", func(t *testing.T) {
		body := AppendVarInt(nil, 300)
		body = append(body, 0xde, 0xad, 0xbe, 0xef)
		frame := AppendVarInt(nil, int32(len(body)))
		frame = append(frame, body...)

		dec := NewFrameDecoder()
		dec.EnableCompression(256)
		dec.Feed(frame)
		_, err := dec.Next()
		assert.ErrorIs(t, err, ErrFrame)
	})
}

func TestFrameEncoder_RejectsOversizedPayload(t *testing.T) {
	enc := NewFrameEncoder()
	_, err := enc.Encode(make([]byte, MaxPacketSize+1))
	assert.ErrorIs(t, err, ErrFrame)
}

func TestFrameCodec_EncryptionMidStream(t *testing.T) {
	secret := bytes.Repeat([]byte{0x42}, SharedSecretSize)

	clientEnc, _, err := NewCipherStreams(secret)
	require.NoError(t, err)
	_, serverDec, err := NewCipherStreams(secret)
	require.NoError(t, err)

	clientFrames := NewFrameEncoder()
	plain, err := clientFrames.Encode([]byte{0x01, 0xAA})
	require.NoError(t, err)

	clientFrames.EnableEncryption(clientEnc)
	first, err := clientFrames.Encode([]byte{0x03})
	require.NoError(t, err)
	second, err := clientFrames.Encode(NewPacketBuilder(0x00).WriteString("after").Build())
	require.NoError(t, err)

	// The plaintext frame and the first encrypted frame arrive in one read.
	dec := NewFrameDecoder()
	dec.Feed(append(append([]byte{}, plain...), first...))

	p, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0xAA}, p)

	dec.EnableEncryption(serverDec)
	p, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03}, p)

	dec.Feed(second)
	p, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, NewPacketBuilder(0x00).WriteString("after").Build(), p)
}

func TestFrameCodec_CorruptedCiphertextIsDetected(t *testing.T) {
	secret := bytes.Repeat([]byte{0x07}, SharedSecretSize)
	enc, _, err := NewCipherStreams(secret)
	require.NoError(t, err)
	_, decStream, err := NewCipherStreams(secret)
	require.NoError(t, err)

	e := NewFrameEncoder()
	e.EnableCompression(0)
	e.EnableEncryption(enc)
	frame, err := e.Encode(bytes.Repeat([]byte("abc"), 100))
	require.NoError(t, err)

	// Flip bits in the compressed body, past the length prefixes.
	frame[len(frame)/2] ^= 0xFF

	d := NewFrameDecoder()
	d.EnableCompression(0)
	d.EnableEncryption(decStream)
	d.Feed(frame)
	_, err = d.Next()
	assert.ErrorIs(t, err, ErrFrame)
}

func TestKeyPair_SecretExchange(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NotEmpty(t, keys.PublicKeyDER())

	secret := make([]byte, SharedSecretSize)
	_, err = rand.Read(secret)
	require.NoError(t, err)

	ct, err := rsa.EncryptPKCS1v15(rand.Reader, keys.Public(), secret)
	require.NoError(t, err)

	got, err := keys.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, secret, got)

	_, err = keys.Decrypt([]byte("not ciphertext"))
	assert.ErrorIs(t, err, ErrAuth)

	_, _, err = NewCipherStreams(secret[:8])
	assert.ErrorIs(t, err, ErrAuth)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "frame", Kind(frameErrorf("x")))
	assert.Equal(t, "schema", Kind(schemaErrorf("x")))
	assert.Equal(t, "none", Kind(nil))
	assert.Equal(t, "io", Kind(assert.AnError))
}
