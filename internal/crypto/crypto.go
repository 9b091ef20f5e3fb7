package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the fixed pre-shared key length: 256 bits.
	KeySize = 32
	// NonceSize is the random nonce prepended to every ciphertext: 96 bits.
	NonceSize = 12
	// TagSize is the GCM authentication tag appended by the cipher: 128 bits.
	TagSize = 16
)

// ErrAuthFailed is returned when a ciphertext fails GCM tag verification,
// or the input is too short to contain a nonce and tag.
var ErrAuthFailed = errors.New("crypto: authentication failed")

// Box performs AES-256-GCM encryption and decryption with a fixed
// process-wide key. Nonces are generated fresh per call from a
// cryptographically secure source and are never reused.
type Box struct {
	aead cipher.AEAD
}

// NewBox builds a Box from a 256-bit key. It fails if the key is not
// KeySize bytes or the cryptographic backend cannot construct the
// cipher, per section 7
// ("Crypto init failure ... Fatal; session does not start").
func NewBox(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("crypto: key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}

	return &Box{aead: aead}, nil
}

// Encrypt returns nonce || ciphertext || tag for the given plaintext.
func (b *Box) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}

	sealed := b.aead.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Decrypt splits the first NonceSize bytes off as the nonce and
// authenticates/decrypts the remainder. Returns ErrAuthFailed on tag
// mismatch or malformed input; never panics on attacker-controlled data.
func (b *Box) Decrypt(data []byte) ([]byte, error) {
	if len(data) < NonceSize+TagSize {
		return nil, ErrAuthFailed
	}

	nonce, sealed := data[:NonceSize], data[NonceSize:]
	plaintext, err := b.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}
