package encryption

import (
	"bytes"
	"errors"
	"testing"
)

// a low work factor keeps the tests fast
func testSealer(t *testing.T, passphrase string) *Sealer {
	t.Helper()
	s, err := NewSealer(&Config{Passphrase: passphrase, Iterations: 1000})
	if err != nil {
		t.Fatalf("NewSealer failed: %v", err)
	}
	return s
}

func TestNewSealer(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{"nil config", nil, true},
		{"empty passphrase", &Config{}, true},
		{"negative iterations", &Config{Passphrase: "x", Iterations: -1}, true},
		{"too many iterations", &Config{Passphrase: "x", Iterations: maxIterations + 1}, true},
		{"default iterations", &Config{Passphrase: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSealer(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewSealer() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && s.iterations != DefaultIterations {
				t.Errorf("Expected %d iterations, got %d", DefaultIterations, s.iterations)
			}
		})
	}
	if _, err := NewSealer(&Config{}); !errors.Is(err, ErrEmptyPassphrase) {
		t.Errorf("Expected ErrEmptyPassphrase, got %v", err)
	}
}

func TestSealOpen(t *testing.T) {
	s := testSealer(t, "correct horse")
	plaintext := []byte("books and their prices")

	sealed, err := s.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if !IsSealed(sealed) {
		t.Error("Expected sealed output to carry the header")
	}
	if bytes.Contains(sealed, plaintext) {
		t.Error("Expected the plaintext not to appear in sealed output")
	}

	again, _ := s.Seal(plaintext)
	if bytes.Equal(sealed, again) {
		t.Error("Expected a fresh nonce per seal")
	}

	// a second sealer with the same passphrase reads the salt from the header
	opened, err := testSealer(t, "correct horse").Open(sealed)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Expected %q, got %q", plaintext, opened)
	}

	empty, _ := s.Seal(nil)
	if out, err := s.Open(empty); err != nil || len(out) != 0 {
		t.Errorf("Expected an empty payload to round-trip, got %q (%v)", out, err)
	}
}

func TestOpenRejects(t *testing.T) {
	s := testSealer(t, "correct horse")
	sealed, err := s.Seal([]byte("ledger"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	flip := func(i int) []byte {
		out := append([]byte(nil), sealed...)
		out[i] ^= 0x01
		return out
	}

	tests := []struct {
		name   string
		sealer *Sealer
		data   []byte
		want   error
	}{
		{"wrong passphrase", testSealer(t, "battery staple"), sealed, ErrWrongPassphrase},
		{"altered ciphertext", s, flip(len(sealed) - 1), ErrWrongPassphrase},
		{"altered salt", s, flip(headerSize - 1), ErrWrongPassphrase},
		{"truncated", s, sealed[:headerSize+4], ErrWrongPassphrase},
		{"plain data", s, []byte("not sealed at all, just text"), ErrNotSealed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.sealer.Open(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}
