package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Fingerprint hashes normalized text: whitespace collapsed, case folded.
// Formatting-only re-saves of a document therefore produce the same hash and
// never trigger re-embedding.
func Fingerprint(text string) string {
	h := sha256.New()
	var pendingSpace bool
	wroteAny := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			pendingSpace = wroteAny
			continue
		}
		if pendingSpace {
			h.Write([]byte{' '})
			pendingSpace = false
		}
		h.Write([]byte(strings.ToLower(string(r))))
		wroteAny = true
	}
	return hex.EncodeToString(h.Sum(nil))
}
