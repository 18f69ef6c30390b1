package merge

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Filename turns a title into a download name: accents folded, spaces to
// underscores, anything else outside [A-Za-z0-9._-] dropped. An empty
// result falls back to fallback.
func Filename(title, fallback string) string {
	folded, _, err := transform.String(stripMarks, title)
	if err != nil {
		folded = title
	}
	var b strings.Builder
	for _, r := range strings.TrimSpace(folded) {
		switch {
		case r == ' ':
			b.WriteRune('_')
		case r == '-' || r == '_' || r == '.',
			r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	name := strings.Trim(b.String(), "._")
	name = strings.TrimSuffix(name, ".pdf")
	if name == "" {
		return fallback
	}
	return name + ".pdf"
}
