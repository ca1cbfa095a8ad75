package announcement

import (
	"crypto/md5"
	"encoding/hex"
)

// Fingerprint identifies a record by project code, category and project name.
// Any other field may change without changing the fingerprint.
func Fingerprint(code string, category Category, name string) string {
	sum := md5.Sum([]byte(code + "|" + string(category) + "|" + name))
	return hex.EncodeToString(sum[:])
}

// ComputeFingerprint returns the fingerprint of r without storing it.
func (r *Record) ComputeFingerprint() string {
	return Fingerprint(r.ProjectCode, r.Category, r.ProjectName)
}
