// Package requestid mints the correlation ids echoed back in api error
// bodies when the gateway did not supply an X-Request-Id.
package requestid

import (
	"crypto/rand"
	"encoding/hex"
)

// New returns a 32-char hex id.
func New() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
