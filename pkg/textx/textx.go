// Package textx provides small text utilities used across the project.
package textx

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	// strip control chars outside tab/newline/carriage return
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Normalize lowercases, trims, and collapses internal whitespace runs into a
// single space. Cache keys and similarity signatures are derived from the
// normalized form so that trivially different spellings share entries.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(SanitizeText(s))), " ")
}

// TruncateRunes bounds s to at most n runes. A non-positive n returns s
// unchanged.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// HashKey returns a stable hex digest of the normalized form of s, so
// that two texts differing only in case or whitespace share a key.
func HashKey(s string) string {
	sum := sha256.Sum256([]byte(Normalize(s)))
	return hex.EncodeToString(sum[:])
}

// TokenSet returns the set of distinct whitespace-delimited tokens of the
// normalized text. Used as the lightweight signature for similarity lookups.
func TokenSet(s string) map[string]struct{} {
	fields := strings.Fields(Normalize(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Jaccard computes the Jaccard similarity of two token sets. Two empty sets
// are treated as identical.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	inter := 0
	for t := range small {
		if _, ok := large[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
