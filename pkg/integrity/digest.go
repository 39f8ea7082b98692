package integrity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	// SaltSize is the number of random bytes mixed into every digest.
	SaltSize = 16
	// IVSize is the size of the per-digest initialization value.
	IVSize = 12
	// DefaultKeyVersion tags digests produced with the current key material.
	DefaultKeyVersion = "v1"
)

var (
	ErrEmptySignature = errors.New("signature image is empty")
	ErrEmptyKey       = errors.New("key material is empty")
)

// Digest is a salted one-way fingerprint of a signature image. It cannot be
// reversed; checking a candidate image means recomputing it with the same salt.
type Digest struct {
	Digest     string    `json:"digest"`
	Salt       []byte    `json:"salt"`
	IV         []byte    `json:"iv"`
	Timestamp  time.Time `json:"timestamp"`
	KeyVersion string    `json:"keyVersion"`
}

// Digester is what the shipment workflow needs from this package.
type Digester interface {
	ComputeDigest(ctx context.Context, image, keyMaterial string) (Digest, error)
	Verify(candidate string, digest Digest, keyMaterial string) bool
}

// Service derives and verifies signature digests.
type Service struct {
	random     io.Reader
	now        func() time.Time
	keyVersion string
}

// NewService creates a digest service tagging its output with keyVersion.
func NewService(keyVersion string) *Service {
	if keyVersion == "" {
		keyVersion = DefaultKeyVersion
	}
	return &Service{
		random:     rand.Reader,
		now:        time.Now,
		keyVersion: keyVersion,
	}
}

// ComputeDigest draws a fresh salt and IV and hashes the image together with
// the base64 salt and the derived key. Salts are never reused, so two digests
// of the same image differ.
func (s *Service) ComputeDigest(ctx context.Context, image, keyMaterial string) (Digest, error) {
	if err := ctx.Err(); err != nil {
		return Digest{}, err
	}
	if image == "" {
		return Digest{}, ErrEmptySignature
	}
	if keyMaterial == "" {
		return Digest{}, ErrEmptyKey
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(s.random, salt); err != nil {
		return Digest{}, fmt.Errorf("failed to generate salt: %w", err)
	}
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(s.random, iv); err != nil {
		return Digest{}, fmt.Errorf("failed to generate iv: %w", err)
	}

	return Digest{
		Digest:     digestOf(image, salt, keyMaterial),
		Salt:       salt,
		IV:         iv,
		Timestamp:  s.now().UTC(),
		KeyVersion: s.keyVersion,
	}, nil
}

// Verify reports whether candidate is the image that produced digest.
// Malformed digests verify as false.
func (s *Service) Verify(candidate string, digest Digest, keyMaterial string) bool {
	if candidate == "" || keyMaterial == "" {
		return false
	}
	if len(digest.Salt) != SaltSize || len(digest.Digest) != sha256.Size*2 {
		return false
	}
	if _, err := hex.DecodeString(digest.Digest); err != nil {
		return false
	}
	expected := digestOf(candidate, digest.Salt, keyMaterial)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(digest.Digest)) == 1
}

func digestOf(image string, salt []byte, keyMaterial string) string {
	h := sha256.New()
	h.Write([]byte(image))
	h.Write([]byte(base64.StdEncoding.EncodeToString(salt)))
	h.Write([]byte(deriveKey(keyMaterial)))
	return hex.EncodeToString(h.Sum(nil))
}

func deriveKey(keyMaterial string) string {
	sum := sha256.Sum256([]byte(keyMaterial))
	return hex.EncodeToString(sum[:])
}
