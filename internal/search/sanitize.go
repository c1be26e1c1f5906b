package search

import (
	"strings"
	"unicode"
)

// Sanitize strips characters the lexical engines treat as query operators,
// leaving plain terms. A punctuation-only query sanitizes to the empty
// string, which the lexical path answers with empty results rather than a
// parse error. The semantic path never sees sanitized text; embeddings are
// operator-insensitive.
func Sanitize(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for _, r := range query {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
