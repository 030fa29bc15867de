package helpers

import (
	"crypto/rand"
	"encoding/base64"
)

// GenerateOpaqueToken returns n random bytes encoded as a URL-safe string.
// Used for email verification tokens.
func GenerateOpaqueToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
