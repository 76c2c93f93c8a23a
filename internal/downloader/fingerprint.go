package downloader

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const fingerprintSeparator = "\x00"

// Fingerprint derives the task id for a (url, directory, file name) triple.
// Surrounding whitespace is ignored so equivalent requests collapse to one task.
func Fingerprint(url, dir, name string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		strings.TrimSpace(url),
		strings.TrimSpace(dir),
		strings.TrimSpace(name),
	}, fingerprintSeparator)))

	return hex.EncodeToString(sum[:])
}
