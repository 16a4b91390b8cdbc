// Package pattern implements the Pattern Recognizer (C11): template
// extraction over log messages, with a bounded LRU memoization cache
// and template-frequency aggregation.
package pattern

import (
	"context"
	"regexp"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/grepwise/grepwise/internal/model"
)

// Searcher is the narrow Index Engine collaborator mostCommonPatterns
// needs, satisfied by *index.Engine without an import.
type Searcher interface {
	Search(ctx context.Context, queryStr string, isRegex bool, startTime, endTime *int64) ([]model.LogRecord, error)
}

type rule struct {
	placeholder string
	re          *regexp.Regexp
}

// rules is applied in this exact order: UUID, IPv4, email, URL,
// ISO-8601 timestamp, number, per spec §4.10.
var rules = []rule{
	{"{{UUID}}", regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}`)},
	{"{{IP_ADDRESS}}", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
	{"{{EMAIL}}", regexp.MustCompile(`\b[\w.+-]+@[\w-]+\.[\w.-]+\b`)},
	{"{{URL}}", regexp.MustCompile(`\bhttps?://[^\s"']+`)},
	{"{{TIMESTAMP}}", regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})?\b`)},
	{"{{NUMBER}}", regexp.MustCompile(`-?\b\d+(?:\.\d+)?`)},
}

// Result is one message's extracted template plus the original
// substrings the template's placeholders stand in for, in the order
// they were matched.
type Result struct {
	Template string
	Captures []string
}

// Extract produces a template for message with no memoization.
func Extract(message string) Result {
	current := message
	var captures []string
	for _, r := range rules {
		current = r.re.ReplaceAllStringFunc(current, func(match string) string {
			captures = append(captures, match)
			return r.placeholder
		})
	}
	return Result{Template: current, Captures: captures}
}

// Recognizer memoizes Extract by message via a bounded LRU cache.
type Recognizer struct {
	cache *lru.Cache[string, Result]
}

// New constructs a Recognizer with the given cache capacity.
func New(cacheSize int) *Recognizer {
	if cacheSize <= 0 {
		cacheSize = 10000
	}
	cache, _ := lru.New[string, Result](cacheSize)
	return &Recognizer{cache: cache}
}

// Extract returns message's template, computing and caching it on a
// miss.
func (r *Recognizer) Extract(message string) Result {
	if v, ok := r.cache.Get(message); ok {
		return v
	}
	result := Extract(message)
	r.cache.Add(message, result)
	return result
}

// Count is one template's aggregate frequency.
type Count struct {
	Template string
	Count    int
}

// MostCommonPatterns searches the Index Engine over [startTime,
// endTime), templates every matching message, and returns the topN
// most frequent templates in descending order.
func (r *Recognizer) MostCommonPatterns(ctx context.Context, searcher Searcher, startTime, endTime *int64, topN int) ([]Count, error) {
	records, err := searcher.Search(ctx, "", false, startTime, endTime)
	if err != nil {
		return nil, err
	}

	tally := make(map[string]int)
	for _, rec := range records {
		tmpl := r.Extract(rec.Message).Template
		tally[tmpl]++
	}

	counts := make([]Count, 0, len(tally))
	for tmpl, n := range tally {
		counts = append(counts, Count{Template: tmpl, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Template < counts[j].Template
	})
	if topN > 0 && topN < len(counts) {
		counts = counts[:topN]
	}
	return counts, nil
}
