package index

import (
	"strings"

	"github.com/grepwise/grepwise/internal/model"
)

// clause is one space-separated unit of a compiled boolean query: either
// a `field:value` filter or a free-text token to AND against the
// inverted index.
type clause struct {
	field string // "" for free text
	value string
}

// compiledQuery is the engine's native boolean query, AND-combining a
// list of clauses. matchAll is set by the special form "*".
type compiledQuery struct {
	matchAll bool
	clauses  []clause
}

// compileQuery parses queryStr into a compiledQuery. Supported forms:
// "*" (match all), "field:value" filters (level, source, or any
// metadata key), and free-text words, implicitly AND-ed together.
func compileQuery(queryStr string) compiledQuery {
	trimmed := strings.TrimSpace(queryStr)
	if trimmed == "" || trimmed == "*" {
		return compiledQuery{matchAll: true}
	}

	var clauses []clause
	for _, tok := range splitRespectingQuotes(trimmed) {
		if tok == "*" {
			continue
		}
		if idx := strings.Index(tok, ":"); idx > 0 {
			clauses = append(clauses, clause{field: tok[:idx], value: unquote(tok[idx+1:])})
			continue
		}
		clauses = append(clauses, clause{value: unquote(tok)})
	}
	if len(clauses) == 0 {
		return compiledQuery{matchAll: true}
	}
	return compiledQuery{clauses: clauses}
}

// freeTextTerms returns the free-text words in the query, to drive the
// inverted-index token lookup.
func (q compiledQuery) freeTextTerms() []string {
	var out []string
	for _, c := range q.clauses {
		if c.field == "" {
			out = append(out, c.value)
		}
	}
	return out
}

// matchesFields reports whether a record satisfies every field:value
// clause in the query. Free-text clauses are handled separately via the
// inverted index and are not re-checked here.
func (q compiledQuery) matchesFields(r model.LogRecord) bool {
	for _, c := range q.clauses {
		if c.field == "" {
			continue
		}
		if !fieldMatches(r, c.field, c.value) {
			return false
		}
	}
	return true
}

func fieldMatches(r model.LogRecord, field, value string) bool {
	switch strings.ToLower(field) {
	case "level":
		return strings.EqualFold(string(r.Level), value)
	case "source":
		return r.Source == value
	default:
		return strings.EqualFold(r.Metadata[field], value)
	}
}

func splitRespectingQuotes(s string) []string {
	var tokens []string
	var current strings.Builder
	inQuotes := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			current.WriteRune(r)
		case r == ' ' && !inQuotes:
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
