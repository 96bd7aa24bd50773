package util

import (
	"crypto/rand"
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
)

func NewID() uuid.UUID {
	return uuid.New()
}

// ShortHex returns the first n hex characters of id with the dashes removed.
func ShortHex(id uuid.UUID, n int) string {
	hex := strings.ReplaceAll(id.String(), "-", "")
	if n > len(hex) {
		n = len(hex)
	}
	return hex[:n]
}

// NewToken returns a URL-safe random token built from size random bytes.
func NewToken(size int) (string, error) {
	bytes := make([]byte, size)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
