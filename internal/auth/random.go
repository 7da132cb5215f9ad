package auth

import (
	"crypto/rand"
	"fmt"
)

const (
	SelectorLength  = 12
	ValidatorLength = 48
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Largest multiple of len(alphabet) that fits in a byte. Bytes at or above it are redrawn.
const maxUnbiased = 256 - 256%len(alphabet)

// RandomString returns n characters drawn uniformly from [0-9A-Za-z] using crypto/rand.
func RandomString(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("%w: length must be positive", ErrInvalidInput)
	}
	out := make([]byte, 0, n)
	buf := make([]byte, n+n/4+1)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read entropy: %w", err)
		}
		for _, b := range buf {
			if int(b) >= maxUnbiased {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
