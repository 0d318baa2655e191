// Package sanitize normalizes identifiers for use in collection names.
//
// Qdrant collection names must match: ^[a-z0-9_]{1,64}$
// This package turns arbitrary operator input into conforming names.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxIdentifierLength is the maximum length for collection name
	// components. Qdrant requires collection names of 1-64 characters.
	MaxIdentifierLength = 64

	// HashSuffixLength is the length of the hash suffix added to
	// truncated identifiers. Format: _<8-char-hash> = 9 characters.
	HashSuffixLength = 9

	// DefaultIdentifier is used when sanitization produces an empty result.
	DefaultIdentifier = "default"
)

// Identifier sanitizes a string for use in collection names.
//
// Rules applied:
//   - Converts to lowercase
//   - Replaces invalid characters with underscores
//   - Collapses multiple underscores
//   - Trims leading/trailing underscores
//   - Truncates to MaxIdentifierLength with hash suffix if too long
//   - Returns DefaultIdentifier if result would be empty
//
// Examples:
//
//	"acme.example.com" -> "acme_example_com"
//	"My Corpus!"       -> "my_corpus"
//	"" or "!!!"        -> "default"
func Identifier(s string) string {
	if s == "" {
		return DefaultIdentifier
	}

	s = strings.ToLower(s)

	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}

	sanitized := result.String()
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")

	if sanitized == "" {
		return DefaultIdentifier
	}

	if len(sanitized) > MaxIdentifierLength {
		sanitized = truncateWithHash(sanitized)
	}

	return sanitized
}

// truncateWithHash truncates a string to fit within MaxIdentifierLength,
// appending a hash suffix to preserve uniqueness.
//
// Format: <truncated>_<8-char-hash>
// Example: "very_long_identifier..." -> "very_long_iden_a1b2c3d4"
func truncateWithHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	hashSuffix := "_" + hex.EncodeToString(hash[:])[:8]

	maxBase := MaxIdentifierLength - HashSuffixLength
	truncated := s[:maxBase]

	truncated = strings.TrimRight(truncated, "_")

	return truncated + hashSuffix
}

// CollectionName builds a collection name from a base name and an
// optional suffix.
//
// Example: CollectionName("Acme Corpus", "v2") -> "acme_corpus_v2"
//
// The result is guaranteed to be a valid Qdrant collection name.
func CollectionName(base, suffix string) string {
	name := Identifier(base)
	if suffix != "" {
		name = name + "_" + Identifier(suffix)
	}

	if len(name) > MaxIdentifierLength {
		name = truncateWithHash(name)
	}

	return name
}
