// Package encryption seals snapshot files with a passphrase. The key is
// derived with PBKDF2-SHA256 and the data is sealed with AES-256-GCM. The
// salt and iteration count travel in the sealed header, so the passphrase is
// the only secret a reader needs.
package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations is the PBKDF2 work factor used when Config leaves it zero
	DefaultIterations = 100000

	// upper bound accepted from a sealed header
	maxIterations = 10000000

	keySize   = 32 // AES-256
	saltSize  = 16
	nonceSize = 12
	version   = 1

	// magic, version, iterations, salt
	headerSize = 4 + 1 + 4 + saltSize
)

var magic = []byte("SHLX")

var (
	// ErrEmptyPassphrase is returned when sealing is configured without a passphrase
	ErrEmptyPassphrase = errors.New("passphrase cannot be empty")

	// ErrNotSealed is returned by Open for data Seal did not produce
	ErrNotSealed = errors.New("data is not encrypted")

	// ErrWrongPassphrase is returned when sealed data fails authentication,
	// either because the passphrase differs or the data was altered
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted data")
)

// Config holds the passphrase and key derivation settings
type Config struct {
	Passphrase string
	Iterations int // PBKDF2 rounds for new seals; 0 means DefaultIterations
}

// Sealer encrypts and decrypts whole payloads. It remembers the last derived
// key, so repeated seals and opens of the same file derive it once.
type Sealer struct {
	passphrase []byte
	iterations int

	mu   sync.Mutex
	salt []byte
	key  []byte
	iter int
}

// NewSealer validates config and returns a Sealer
func NewSealer(config *Config) (*Sealer, error) {
	if config == nil || config.Passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	iterations := config.Iterations
	if iterations == 0 {
		iterations = DefaultIterations
	}
	if iterations < 0 || iterations > maxIterations {
		return nil, fmt.Errorf("iterations must be between 1 and %d, got %d", maxIterations, iterations)
	}
	return &Sealer{passphrase: []byte(config.Passphrase), iterations: iterations}, nil
}

// IsSealed reports whether data starts with a sealed header
func IsSealed(data []byte) bool {
	return len(data) >= headerSize && bytes.Equal(data[:len(magic)], magic)
}

// Seal encrypts plaintext.
// Layout: [magic][version][iterations][salt][nonce][ciphertext+tag]; the
// header is authenticated as additional data.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	salt, key, err := s.sealingKey()
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, headerSize, headerSize+nonceSize+len(plaintext)+gcm.Overhead())
	copy(out, magic)
	out[4] = version
	binary.BigEndian.PutUint32(out[5:9], uint32(s.iterations))
	copy(out[9:headerSize], salt)

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, out[:headerSize]), nil
}

// Open decrypts data produced by Seal
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if !IsSealed(sealed) {
		return nil, ErrNotSealed
	}
	if sealed[4] != version {
		return nil, fmt.Errorf("unsupported encryption version %d", sealed[4])
	}
	if len(sealed) < headerSize+nonceSize {
		return nil, fmt.Errorf("%w: truncated", ErrWrongPassphrase)
	}
	iterations := int(binary.BigEndian.Uint32(sealed[5:9]))
	if iterations == 0 || iterations > maxIterations {
		return nil, fmt.Errorf("%w: bad work factor %d", ErrWrongPassphrase, iterations)
	}
	salt := sealed[9:headerSize]

	gcm, err := newGCM(s.keyFor(salt, iterations))
	if err != nil {
		return nil, err
	}
	nonce := sealed[headerSize : headerSize+nonceSize]
	plaintext, err := gcm.Open(nil, nonce, sealed[headerSize+nonceSize:], sealed[:headerSize])
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plaintext, nil
}

// sealingKey returns the cached salt and key when they were derived with the
// configured work factor, otherwise a fresh pair
func (s *Sealer) sealingKey() ([]byte, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != nil && s.iter == s.iterations {
		return s.salt, s.key, nil
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	s.salt, s.iter = salt, s.iterations
	s.key = pbkdf2.Key(s.passphrase, salt, s.iterations, keySize, sha256.New)
	return s.salt, s.key, nil
}

func (s *Sealer) keyFor(salt []byte, iterations int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != nil && s.iter == iterations && bytes.Equal(s.salt, salt) {
		return s.key
	}
	key := pbkdf2.Key(s.passphrase, salt, iterations, keySize, sha256.New)
	s.salt, s.key, s.iter = append([]byte(nil), salt...), key, iterations
	return key
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
