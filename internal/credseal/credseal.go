// Package credseal encrypts machine passwords at rest with an age x25519
// identity kept on local disk. Sealed values carry a prefix so rows written
// before sealing was enabled still read back as plaintext.
package credseal

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

const prefix = "age1:"

// Sealer seals and opens short secrets. A nil *Sealer passes values through
// unchanged.
type Sealer struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// New wraps an existing identity.
func New(identity *age.X25519Identity) *Sealer {
	return &Sealer{identity: identity, recipient: identity.Recipient()}
}

// Generate creates a Sealer with a fresh identity.
func Generate() (*Sealer, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}
	return New(id), nil
}

// LoadOrCreate reads the identity at path, generating and writing one
// (mode 0600) if the file does not exist.
func LoadOrCreate(path string) (*Sealer, error) {
	b, err := os.ReadFile(path)
	if err == nil {
		id, err := age.ParseX25519Identity(strings.TrimSpace(string(b)))
		if err != nil {
			return nil, fmt.Errorf("parsing identity %s: %w", path, err)
		}
		return New(id), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	s, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, err
	}
	if _, err := fmt.Fprintln(f, s.identity.String()); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return s, nil
}

// Recipient returns the public half, safe to print.
func (s *Sealer) Recipient() string {
	if s == nil {
		return ""
	}
	return s.recipient.String()
}

// Seal encrypts plaintext. Empty input stays empty.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s == nil || plaintext == "" {
		return plaintext, nil
	}
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipient)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing age encryption: %w", err)
	}
	return prefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Open decrypts a sealed value. Values without the sealed prefix are
// returned as-is.
func (s *Sealer) Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	if s == nil {
		return "", errors.New("sealed value but no identity configured")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, prefix))
	if err != nil {
		return "", fmt.Errorf("decoding sealed value: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), s.identity)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading plaintext: %w", err)
	}
	return string(b), nil
}

// IsSealed reports whether stored was produced by Seal.
func IsSealed(stored string) bool {
	return strings.HasPrefix(stored, prefix)
}
