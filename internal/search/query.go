package search

import (
	"fmt"
	"strings"
)

// Query is the parsed form of a search string: bare keywords, quoted exact
// phrases, and whether the pieces combine with OR instead of the implicit
// AND.
type Query struct {
	Terms   []string
	Phrases []string
	Or      bool
}

// IsEmpty reports whether the query carries nothing to match.
func (q *Query) IsEmpty() bool {
	return len(q.Terms) == 0 && len(q.Phrases) == 0
}

// needles returns every match target, phrases first so snippet selection
// prefers the most specific hit.
func (q *Query) needles() []string {
	out := make([]string, 0, len(q.Phrases)+len(q.Terms))
	out = append(out, q.Phrases...)
	out = append(out, q.Terms...)
	return out
}

// ParseQuery splits a raw search string into terms and quoted phrases.
//
// Double quotes delimit exact phrases. The bare token OR (uppercase) switches
// the whole query from AND to OR semantics; everything else is a keyword.
// Matching is case-insensitive, so terms are folded here once.
func ParseQuery(raw string) (*Query, error) {
	q := &Query{}

	rest := raw
	for {
		start := strings.IndexByte(rest, '"')
		if start < 0 {
			break
		}
		end := strings.IndexByte(rest[start+1:], '"')
		if end < 0 {
			return nil, fmt.Errorf("unterminated quote in query %q", raw)
		}
		phrase := strings.TrimSpace(rest[start+1 : start+1+end])
		if phrase != "" {
			q.Phrases = append(q.Phrases, strings.ToLower(phrase))
		}
		rest = rest[:start] + " " + rest[start+2+end:]
	}

	for _, tok := range strings.Fields(rest) {
		if tok == "OR" {
			q.Or = true
			continue
		}
		q.Terms = append(q.Terms, strings.ToLower(tok))
	}

	return q, nil
}

// ftsExpr renders the query as an FTS5 MATCH expression. Every piece is
// quoted so user input cannot inject FTS syntax; quoted pieces are exact
// phrases to FTS5, which is also the right semantics for single keywords.
func (q *Query) ftsExpr() string {
	pieces := make([]string, 0, len(q.Phrases)+len(q.Terms))
	for _, p := range q.Phrases {
		pieces = append(pieces, ftsQuote(p))
	}
	for _, t := range q.Terms {
		pieces = append(pieces, ftsQuote(t))
	}
	sep := " "
	if q.Or {
		sep = " OR "
	}
	return strings.Join(pieces, sep)
}

func ftsQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
