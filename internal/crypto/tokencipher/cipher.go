// Package tokencipher implements envelope encryption for stored OAuth tokens.
//
// Wire format: base64(salt[16] || iv[12] || ciphertext||tag). A fresh random
// salt and IV are drawn for every encryption, so no two records share a
// derivable key. A legacy format (base64(iv[12] || ciphertext||tag)) written
// before per-record salts exists only for reads; DecryptLegacy recovers it
// using a fixed package salt.
package tokencipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/pbkdf2"
)

// Format parameters.
const (
	saltSize   = 16
	ivSize     = 12
	tagSize    = 16
	keySize    = 32
	iterations = 100_000
)

// legacySalt is the single salt shared by all records written before the
// per-record salt format. Used only by DecryptLegacy.
var legacySalt = []byte("calsync-static-salt-v1")

var (
	// ErrNoPassphrase indicates the encryption passphrase is not configured.
	ErrNoPassphrase = errors.New("token passphrase not configured")

	// ErrAuthentication indicates GCM tag verification failed (tampered
	// ciphertext or wrong key).
	ErrAuthentication = errors.New("token authentication failed")

	// ErrMalformed indicates the value is not valid base64 or is too short
	// for its claimed format.
	ErrMalformed = errors.New("malformed encrypted token")
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// Cipher encrypts and decrypts token strings with keys derived from an
// operator-supplied passphrase. The derived keys are never persisted.
type Cipher struct {
	passphrase []byte
}

// New constructs a Cipher. The passphrase must be non-empty.
func New(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}
	return &Cipher{passphrase: []byte(passphrase)}, nil
}

// deriveKey runs PBKDF2-HMAC-SHA256 over the passphrase with the given salt.
func (c *Cipher) deriveKey(salt []byte) []byte {
	return pbkdf2.Key(c.passphrase, salt, iterations, keySize, sha256.New)
}

func (c *Cipher) aead(salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.deriveKey(salt))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals a plaintext token under a freshly derived key. Every call
// draws a new salt and IV.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	salt, err := RandBytes(saltSize)
	if err != nil {
		return "", err
	}
	iv, err := RandBytes(ivSize)
	if err != nil {
		return "", err
	}
	aead, err := c.aead(salt)
	if err != nil {
		return "", err
	}
	out := make([]byte, 0, saltSize+ivSize+len(plaintext)+tagSize)
	out = append(out, salt...)
	out = append(out, iv...)
	out = aead.Seal(out, iv, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a value in the per-record-salt format.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrMalformed
	}
	if len(raw) < saltSize+ivSize+tagSize {
		return "", ErrMalformed
	}
	salt := raw[:saltSize]
	iv := raw[saltSize : saltSize+ivSize]
	ct := raw[saltSize+ivSize:]

	aead, err := c.aead(salt)
	if err != nil {
		return "", err
	}
	pt, err := aead.Open(nil, iv, ct, nil)
	if err != nil {
		return "", ErrAuthentication
	}
	return string(pt), nil
}

// EncryptLegacy seals a value in the pre-fix fixed-salt format. It exists
// only to produce fixtures for migration tests; production writes always
// use Encrypt.
func (c *Cipher) EncryptLegacy(plaintext string) (string, error) {
	iv, err := RandBytes(ivSize)
	if err != nil {
		return "", err
	}
	aead, err := c.aead(legacySalt)
	if err != nil {
		return "", err
	}
	out := make([]byte, 0, ivSize+len(plaintext)+tagSize)
	out = append(out, iv...)
	out = aead.Seal(out, iv, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptLegacy opens a value in the fixed-salt format that predates
// per-record salts. Never used for new writes.
func (c *Cipher) DecryptLegacy(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrMalformed
	}
	if len(raw) < ivSize+tagSize {
		return "", ErrMalformed
	}
	iv := raw[:ivSize]
	ct := raw[ivSize:]

	aead, err := c.aead(legacySalt)
	if err != nil {
		return "", err
	}
	pt, err := aead.Open(nil, iv, ct, nil)
	if err != nil {
		return "", ErrAuthentication
	}
	return string(pt), nil
}

// IsEncrypted reports whether a stored value decodes into the per-record-salt
// length range. Classification by length picks the decrypt path to try first;
// it is not a security boundary.
func IsEncrypted(encoded string) bool {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false
	}
	return len(raw) >= saltSize+ivSize+tagSize
}

// IsLegacyEncrypted reports whether a stored value decodes into the legacy
// length range [iv+tag, salt+iv+tag).
func IsLegacyEncrypted(encoded string) bool {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false
	}
	return len(raw) >= ivSize+tagSize && len(raw) < saltSize+ivSize+tagSize
}
