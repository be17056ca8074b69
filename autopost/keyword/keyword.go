package keyword

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonTokenChars = regexp.MustCompile(`[^\pL\pN\s]+`)

// Splits free-form chat text in to tokens: lower-cased, punctuation and emoji dropped, combining marks folded away.
func Tokenize(text string) []string {
	// re-created per call; transform chains are not safe for concurrent use
	normFunc := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	bare := strings.ToLower(nonTokenChars.ReplaceAllString(text, " "))
	out, _, err := transform.String(normFunc, bare)
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		out = bare
	}
	return strings.Fields(out)
}

// Tokenized text re-joined with single spaces
func Normalize(text string) string {
	return strings.Join(Tokenize(text), " ")
}

// Set of pre-normalized keywords, matched against one message at a time.
type Matcher struct {
	keywords []string
	needles  []string
}

func NewMatcher(keywords []string) *Matcher {
	m := &Matcher{}
	for _, kw := range keywords {
		n := Normalize(kw)
		if n == "" {
			continue
		}
		m.keywords = append(m.keywords, kw)
		m.needles = append(m.needles, n)
	}
	return m
}

// Returns the original keywords found in text, in the order they were given. Matching is by substring of the normalized text, so "price" matches "prices?" but multi-word keywords must appear in order.
func (m *Matcher) Match(text string) []string {
	hay := Normalize(text)
	out := []string{}
	if hay == "" {
		return out
	}
	for i, needle := range m.needles {
		if strings.Contains(hay, needle) {
			out = append(out, m.keywords[i])
		}
	}
	return out
}
