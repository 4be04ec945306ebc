// Package address turns noisy Korean free-text addresses into strings the
// geocoding service can resolve, and derives coarser fallbacks from them.
package address

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	parenthesized   = regexp.MustCompile(`\([^)]*\)`)
	bracketed       = regexp.MustCompile(`\[[^\]]*\]`)
	syllableDigit   = regexp.MustCompile(`([가-힣])(\d)`)
	whitespaceRunes = regexp.MustCompile(`\s+`)
)

// Normalizer cleans raw address strings. It is stateless after construction
// and safe to reuse.
type Normalizer struct {
	noise   []string
	renames *strings.Replacer
	fixes   []Replacement
}

// NewNormalizer builds a Normalizer from the given rules.
func NewNormalizer(rules *Rules) *Normalizer {
	pairs := make([]string, 0, len(rules.Regions)*2)
	for _, rep := range rules.Regions {
		pairs = append(pairs, rep.From, rep.To)
	}

	return &Normalizer{
		noise:   rules.Noise,
		renames: strings.NewReplacer(pairs...),
		fixes:   rules.Corrections,
	}
}

// Normalize returns the cleaned form of raw, or "" for blank input.
func (n *Normalizer) Normalize(raw string) string {
	addr := strings.TrimSpace(norm.NFC.String(raw))
	if addr == "" {
		return ""
	}

	addr = parenthesized.ReplaceAllString(addr, "")
	addr = bracketed.ReplaceAllString(addr, "")

	for _, word := range n.noise {
		addr = strings.ReplaceAll(addr, word, " ")
	}

	addr = n.renames.Replace(addr)

	// Applied in table order; later entries see earlier replacements.
	for _, fix := range n.fixes {
		addr = strings.ReplaceAll(addr, fix.From, fix.To)
	}

	addr = syllableDigit.ReplaceAllString(addr, "$1 $2")

	return strings.TrimSpace(whitespaceRunes.ReplaceAllString(addr, " "))
}
