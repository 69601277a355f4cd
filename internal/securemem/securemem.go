// Package securemem keeps credentials in memguard-protected memory so the
// gateway token never sits in plain heap between handshakes.
package securemem

import (
	"crypto/subtle"

	"github.com/awnumar/memguard"
)

// Init arms memguard's interrupt handler so secure buffers are wiped on
// SIGINT. Call once from main before any Secret is created.
func Init() {
	memguard.CatchInterrupt()
}

// Purge destroys every live secure buffer. Call on shutdown.
func Purge() {
	memguard.Purge()
}

// Secret holds one sensitive value in an encrypted, non-swappable buffer.
type Secret struct {
	buf       *memguard.LockedBuffer
	destroyed bool
}

// NewSecret seals plaintext into protected memory.
func NewSecret(plaintext string) *Secret {
	return &Secret{buf: memguard.NewBufferFromBytes([]byte(plaintext))}
}

// NewSecretFromBytes seals data into protected memory. memguard wipes the
// input slice as part of the transfer.
func NewSecretFromBytes(data []byte) *Secret {
	return &Secret{buf: memguard.NewBufferFromBytes(data)}
}

// Reveal returns a plain-memory copy of the value. Callers should keep its
// lifetime short.
func (s *Secret) Reveal() string {
	if s == nil || s.destroyed || s.buf == nil {
		return ""
	}
	return string(s.buf.Bytes())
}

// IsEmpty reports whether the secret holds no bytes or was destroyed.
func (s *Secret) IsEmpty() bool {
	if s == nil || s.destroyed || s.buf == nil {
		return true
	}
	return len(s.buf.Bytes()) == 0
}

// Equal compares against plaintext in constant time.
func (s *Secret) Equal(plaintext string) bool {
	if s == nil || s.destroyed || s.buf == nil {
		return plaintext == ""
	}
	return subtle.ConstantTimeCompare(s.buf.Bytes(), []byte(plaintext)) == 1
}

// Destroy wipes the value. The secret is unusable afterwards.
func (s *Secret) Destroy() {
	if s == nil || s.destroyed {
		return
	}
	if s.buf != nil {
		s.buf.Destroy()
		s.buf = nil
	}
	s.destroyed = true
}
