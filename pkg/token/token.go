// Package token generates prefixed random identifiers such as webhook ids
// (`wbhk_`), webhook secrets (`wbhk_sec_`) and event ids (`evt_`).
//
// Tokens are not cryptographically unique, only probabilistically: collision
// resistance scales with the requested length. Secrets should use at least
// DefaultSecretLength characters of randomness.
package token

import (
	"crypto/rand"
	"fmt"
)

// alphabet matches the URL-safe character set commonly used for short ids.
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-_"

const (
	// DefaultIDLength is the random suffix length for resource identifiers.
	DefaultIDLength = 8
	// DefaultSecretLength is the random suffix length for signing secrets.
	DefaultSecretLength = 12
)

// New returns prefix followed by length random characters from the token
// alphabet. The prefix may be empty.
func New(prefix string, length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("token: length must be positive, got %d", length)
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token: failed to read random bytes: %w", err)
	}

	// The alphabet has 64 characters, so masking the low 6 bits keeps the
	// distribution uniform.
	for i, b := range buf {
		buf[i] = alphabet[b&63]
	}

	return prefix + string(buf), nil
}

// MustNew works like New but panics on failure. Random source failures are
// unrecoverable process-level problems, so most callers use this form.
func MustNew(prefix string, length int) string {
	s, err := New(prefix, length)
	if err != nil {
		panic(err)
	}
	return s
}
