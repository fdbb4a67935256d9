package prefixsearch

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/remiges-tech/prefixsearch/providers"
)

// Terminator marks a complete term in the TermIndex. See providers.Terminator.
const Terminator = providers.Terminator

// Normalize folds a product name or query prefix into its indexed form.
//
// The text is NFKC-normalized, control characters and the terminator are dropped,
// whitespace runs collapse to one space, and the result is trimmed and uppercased.
// Index time and query time both go through this function; any divergence between
// the two makes prefix matching fail silently.
func Normalize(s string) string {
	s = norm.NFKC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = b.Len() > 0
			continue
		case unicode.IsControl(r), r == utf8.RuneError, string(r) == Terminator:
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}

	return strings.ToUpper(b.String())
}

// unterminate strips the terminator, reporting whether the entry was a complete term.
func unterminate(entry string) (string, bool) {
	return strings.CutSuffix(entry, Terminator)
}
