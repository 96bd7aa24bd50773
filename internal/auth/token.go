// Package auth carries the authenticated identity handed to every service
// call. Credential verification happens upstream.
package auth

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Principal struct {
	ID    uuid.UUID
	Email string
	Name  string
}

// DisplayName falls back to the email when no name is known.
func (p Principal) DisplayName() string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	return p.Email
}

// NormalizeEmail lowercases and trims an address for comparisons and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
