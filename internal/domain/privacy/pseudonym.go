package privacy

import (
	"crypto/sha256"
	"encoding/hex"
)

// Pseudonymizer derives stable pseudonyms with a secret salt. The same value
// and salt always yield the same pseudonym, so equality joins keep working
// on pseudonymized columns.
type Pseudonymizer struct {
	salt string
}

func NewPseudonymizer(salt string) *Pseudonymizer {
	return &Pseudonymizer{salt: salt}
}

// Pseudonymize returns the first 16 bytes of SHA-256(value || salt) as hex.
func (p *Pseudonymizer) Pseudonymize(value string) string {
	sum := sha256.Sum256([]byte(value + p.salt))
	return hex.EncodeToString(sum[:16])
}

// OriginalHash is the unsalted SHA-256 of the value, used only as a lookup
// key. It is not a substitute for the salted pseudonym.
func OriginalHash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
