package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonIntentChars = regexp.MustCompile(`[^a-z0-9\s\-.,]+`)
	whitespace     = regexp.MustCompile(`\s+`)
)

// trailingFillers are stripped from the end of a message, in this order.
var trailingFillers = []string{
	"bro", "amigo", "che", "jaja", "jeje", "porfa", "por favor", "pls", "please",
	"okey", "okeyy", "daleee", "gracias", "graciass",
}

var fillerPatterns = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(trailingFillers))
	for _, f := range trailingFillers {
		out = append(out, regexp.MustCompile(`\b`+regexp.QuoteMeta(f)+`$`))
	}
	return out
}()

// StripAccents removes combining marks ("acción" -> "accion").
func StripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// IntentText lowercases, strips accents and punctuation (keeping numeric
// separators and the minus sign), collapses whitespace and drops trailing
// conversational fillers. The result is what intent matchers run against.
func IntentText(message string) string {
	m := strings.ToLower(strings.TrimSpace(message))
	m = StripAccents(m)
	m = nonIntentChars.ReplaceAllString(m, " ")
	m = collapse(m)

	for _, re := range fillerPatterns {
		m = collapse(re.ReplaceAllString(m, ""))
	}
	return m
}

// ASCII is a lighter normalization used for keys and labels: accents
// removed, lowercased, whitespace collapsed.
func ASCII(message string) string {
	return collapse(strings.ToLower(StripAccents(strings.TrimSpace(message))))
}

func collapse(s string) string {
	return whitespace.ReplaceAllString(strings.TrimSpace(s), " ")
}
