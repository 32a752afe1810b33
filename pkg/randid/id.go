// Package randid provides random ID generation utilities.
package randid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a 128-bit random identifier rendered as 32 lowercase hex
// characters. Every call draws fresh randomness from crypto/rand.
func New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Valid reports whether id has the shape produced by New.
func Valid(id string) bool {
	if len(id) != 32 {
		return false
	}
	for _, c := range id {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
