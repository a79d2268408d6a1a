// Package fileid derives document identities: a random id per accepted upload
// and a content hash used to detect re-uploads of the same bytes.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"

	"github.com/google/uuid"
)

const hashPrefix = "sha256:"

// ContentHash returns "sha256:<hex>" of content.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hashPrefix + hex.EncodeToString(sum[:])
}

// ContentHashReader hashes everything read from r.
func ContentHashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hashPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// IsContentHash reports whether s looks like a value returned by ContentHash.
func IsContentHash(s string) bool {
	hexPart, ok := strings.CutPrefix(s, hashPrefix)
	if !ok || len(hexPart) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}

// NewDocID returns a fresh random document id.
func NewDocID() string {
	return uuid.NewString()
}
