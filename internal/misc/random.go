// Package misc holds small helpers with no better home.
package misc

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateRandomState returns a hex-encoded random value suitable for OAuth
// state parameters.
func GenerateRandomState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
