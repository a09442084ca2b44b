// Package auth hashes passwords and issues bearer tokens.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Argon2Params tunes argon2id hashing.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

// DefaultArgon2Params is used for all new hashes.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		SaltLen:     16,
		KeyLen:      32,
	}
}

// HashPassword returns a PHC-style argon2id string with raw base64 salt
// and key.
func HashPassword(password string, p Argon2Params) (string, error) {
	if password == "" {
		return "", errors.New("password is required")
	}
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLen)
	enc := base64.RawStdEncoding
	return fmt.Sprintf("argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		enc.EncodeToString(salt), enc.EncodeToString(key)), nil
}

// VerifyPassword checks password against an encoded hash. Argon2id PHC
// strings and bcrypt hashes (accounts carried over from older deployments)
// are both accepted.
func VerifyPassword(password, encoded string) (bool, error) {
	if password == "" || encoded == "" {
		return false, nil
	}
	if isBcrypt(encoded) {
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		if err == nil {
			return true, nil
		}
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, err
	}
	h, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password), h.salt, h.Iterations, h.Memory, h.Parallelism, h.KeyLen)
	return subtle.ConstantTimeCompare(got, h.hash) == 1, nil
}

// NeedsRehash reports whether encoded should be replaced after a
// successful login: bcrypt imports and argon2id hashes weaker than cur.
func NeedsRehash(encoded string, cur Argon2Params) bool {
	if isBcrypt(encoded) {
		return true
	}
	h, err := parsePHC(encoded)
	if err != nil {
		return false
	}
	return h.Memory < cur.Memory || h.Iterations < cur.Iterations
}

func isBcrypt(encoded string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(encoded, prefix) {
			return true
		}
	}
	return false
}

// phc is a decoded argon2id$v=19$m=..,t=..,p=..$salt$hash string.
type phc struct {
	Argon2Params
	salt []byte
	hash []byte
}

var errBadHash = errors.New("invalid password hash format")

func parsePHC(s string) (phc, error) {
	var h phc
	parts := strings.Split(s, "$")
	if len(parts) != 5 || parts[0] != "argon2id" {
		return h, errBadHash
	}
	var ver int
	if _, err := fmt.Sscanf(parts[1], "v=%d", &ver); err != nil || ver != argon2.Version {
		return h, fmt.Errorf("unsupported argon2 version %q", parts[1])
	}
	if n, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &h.Memory, &h.Iterations, &h.Parallelism); err != nil || n != 3 {
		return h, fmt.Errorf("invalid argon2 parameters %q", parts[2])
	}
	if h.Iterations == 0 || h.Parallelism == 0 {
		return h, fmt.Errorf("invalid argon2 parameters %q", parts[2])
	}
	var err error
	enc := base64.RawStdEncoding
	if h.salt, err = enc.DecodeString(parts[3]); err != nil {
		return h, errBadHash
	}
	if h.hash, err = enc.DecodeString(parts[4]); err != nil || len(h.hash) < 16 {
		return h, errBadHash
	}
	h.SaltLen, h.KeyLen = uint32(len(h.salt)), uint32(len(h.hash))
	return h, nil
}
