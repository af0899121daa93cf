package protocol

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"github.com/Tnze/go-mc/net/CFB8"
)

// SharedSecretSize is the AES-128 key size clients must agree on.
const SharedSecretSize = 16

// VerifyTokenSize is the size of the random token echoed back by clients.
const VerifyTokenSize = 4

const keyBits = 1024

// KeyPair is the server's RSA key, generated once per process and used only
// to receive the client's shared secret.
type KeyPair struct {
	private   *rsa.PrivateKey
	publicDER []byte
}

// GenerateKeyPair creates a fresh 1024-bit RSA key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}
	return &KeyPair{private: priv, publicDER: der}, nil
}

// PublicKeyDER returns the ASN.1 DER SubjectPublicKeyInfo sent to clients.
func (k *KeyPair) PublicKeyDER() []byte {
	return k.publicDER
}

// Public returns the RSA public key.
func (k *KeyPair) Public() *rsa.PublicKey {
	return &k.private.PublicKey
}

// Decrypt reverses PKCS#1 v1.5 encryption done by a client.
func (k *KeyPair) Decrypt(ciphertext []byte) ([]byte, error) {
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, k.private, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: rsa decrypt: %v", ErrAuth, err)
	}
	return plain, nil
}

// NewVerifyToken returns VerifyTokenSize random bytes.
func NewVerifyToken() ([]byte, error) {
	token := make([]byte, VerifyTokenSize)
	if _, err := rand.Read(token); err != nil {
		return nil, fmt.Errorf("failed to generate verify token: %w", err)
	}
	return token, nil
}

// NewCipherStreams builds the AES/CFB8 encrypt and decrypt streams for a
// shared secret. The secret doubles as the IV.
func NewCipherStreams(secret []byte) (enc, dec cipher.Stream, err error) {
	if len(secret) != SharedSecretSize {
		return nil, nil, fmt.Errorf("%w: shared secret is %d bytes, want %d", ErrAuth, len(secret), SharedSecretSize)
	}
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	enc = CFB8.NewCFB8Encrypt(block, bytes.Clone(secret))
	dec = CFB8.NewCFB8Decrypt(block, bytes.Clone(secret))
	return enc, dec, nil
}
