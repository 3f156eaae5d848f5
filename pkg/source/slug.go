package source

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// asciiFold strips diacritics so "Pokémon" folds to "Pokemon" before the
// slug rules run.
var asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

var (
	slugSeparators = regexp.MustCompile(`[',.]`)
	slugDropped    = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpaces     = regexp.MustCompile(`\s+`)
	slugHyphens    = regexp.MustCompile(`-+`)
)

// Slugify converts a game title to the retailer's URL slug convention.
// Lossy and best-effort: punctuation folds to separators, case folds down.
//
//	"Warhammer 40,000: Space Marine 2" -> "warhammer-40-000-space-marine-2"
//	"Baldur's Gate 3"                  -> "baldur-s-gate-3"
//	"L.A. Noire"                       -> "l-a-noire"
func Slugify(title string) string {
	s, _, err := transform.String(asciiFold, title)
	if err != nil {
		s = title
	}
	s = strings.ToLower(s)
	s = slugSeparators.ReplaceAllString(s, "-")
	s = strings.ReplaceAll(s, ":", "")
	s = slugDropped.ReplaceAllString(s, "")
	s = slugSpaces.ReplaceAllString(s, "-")
	s = slugHyphens.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
