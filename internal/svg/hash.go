package svg

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest returns the lowercase hex SHA-256 of canonical markup. Computed
// over the canonical form, it identifies template content independent of
// formatting and doubles as the render dedup cache key.
func Digest(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
