// Package textproc prepares raw text for embedding: normalization,
// chunking, and duplicate removal.
//
// All functions in this package are pure; they never touch the network
// and are safe for concurrent use.
package textproc

import (
	"errors"
	"regexp"
	"strings"
)

// ErrUnknownLevel indicates a normalization level outside the known set.
var ErrUnknownLevel = errors.New("unknown normalization level")

// Level controls how strictly Normalize cleans input text.
type Level string

const (
	// LevelMinimal unifies line endings and collapses whitespace.
	LevelMinimal Level = "minimal"

	// LevelStandard additionally canonicalizes typographic characters
	// and strips characters outside the safe punctuation set.
	LevelStandard Level = "standard"

	// LevelAggressive additionally replaces numbers, emails, and URLs
	// with placeholder tokens and keeps only sentence punctuation.
	LevelAggressive Level = "aggressive"
)

// Placeholder tokens inserted by LevelAggressive.
const (
	TokenNumber = "<NUM>"
	TokenEmail  = "<EMAIL>"
	TokenURL    = "<URL>"
)

// IsValid reports whether the level is a known normalization level.
func (l Level) IsValid() bool {
	switch l {
	case LevelMinimal, LevelStandard, LevelAggressive:
		return true
	}
	return false
}

var (
	horizontalWS  = regexp.MustCompile(`[ \t\x{00A0}\x{2000}-\x{200B}]+`)
	excessBlank   = regexp.MustCompile(`\n{3,}`)
	spacedNewline = regexp.MustCompile(` *\n *`)

	// Order matters: URLs before emails before bare numbers, so a digit
	// inside a URL is consumed by the URL token, not split into <NUM>.
	urlPattern    = regexp.MustCompile(`\bhttps?://\S+|\bwww\.\S+`)
	emailPattern  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	numberPattern = regexp.MustCompile(`\b\d+(?:[.,]\d+)*\b`)

	// standardUnsafe matches anything outside the safe punctuation set
	// for LevelStandard.
	standardUnsafe = regexp.MustCompile(`[^\pL\pN\s.,;:!?'"()\[\]{}<>@#$%&*+=/\\|_~^` + "`" + `-]`)

	// aggressiveUnsafe keeps only basic sentence punctuation plus the
	// characters placeholder tokens are built from.
	aggressiveUnsafe = regexp.MustCompile(`[^\pL\pN\s.,!?'<>_-]`)
)

// smartReplacer canonicalizes smart quotes, dashes, and ellipses to ASCII.
var smartReplacer = strings.NewReplacer(
	"‘", "'", "’", "'", "‚", "'", "‛", "'",
	"“", `"`, "”", `"`, "„", `"`, "‟", `"`,
	"–", "-", "—", "-", "―", "-",
	"…", "...",
)

// Normalize cleans raw text at the given strictness level.
//
// Normalization is idempotent: Normalize(Normalize(s, l), l) == Normalize(s, l)
// for every level. Unknown levels fall back to LevelStandard.
func Normalize(text string, level Level) string {
	if text == "" {
		return ""
	}

	switch level {
	case LevelMinimal:
		return normalizeMinimal(text)
	case LevelAggressive:
		return normalizeAggressive(text)
	default:
		return normalizeStandard(text)
	}
}

func normalizeMinimal(text string) string {
	// Unify line endings first so newline handling sees only \n.
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	text = horizontalWS.ReplaceAllString(text, " ")
	text = spacedNewline.ReplaceAllString(text, "\n")
	text = excessBlank.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

func normalizeStandard(text string) string {
	text = normalizeMinimal(text)
	text = smartReplacer.Replace(text)
	text = standardUnsafe.ReplaceAllString(text, "")
	return normalizeMinimal(text)
}

func normalizeAggressive(text string) string {
	text = normalizeStandard(text)
	text = urlPattern.ReplaceAllString(text, TokenURL)
	text = emailPattern.ReplaceAllString(text, TokenEmail)
	text = numberPattern.ReplaceAllString(text, TokenNumber)
	text = aggressiveUnsafe.ReplaceAllString(text, "")
	return normalizeMinimal(text)
}
