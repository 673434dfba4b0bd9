// Package textnorm normalizes natural-language rule descriptions into the
// canonical form stored on patterns and derives their stable content hash.
package textnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Normalize lower-cases the text, strips punctuation and collapses
// whitespace. Letters (hangul included) and digits survive; everything else
// becomes a single space. Stored normalized_text and incoming queries go
// through the same path so identical rules hash identically.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Tokens splits normalized text on whitespace.
func Tokens(normalized string) []string {
	if normalized == "" {
		return nil
	}
	return strings.Fields(normalized)
}

// PatternHash is a deterministic 32-hex-char key over the normalized text,
// used for near-duplicate detection at write time.
func PatternHash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:32]
}
