// Package query implements the pipeline Query Language (C6): a
// Splunk-like `<stage1> | <stage2> | ...` syntax compiled and executed
// stage by stage over the Index Engine.
package query

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/grepwise/grepwise/internal/model"
	"github.com/grepwise/grepwise/internal/obserr"
)

// Searcher is the subset of the Index Engine the query language reads
// from. Defined locally so this package depends on a narrow interface,
// not the concrete engine (spec §9: collaborator interfaces, not
// concrete wiring).
type Searcher interface {
	Search(ctx context.Context, queryStr string, isRegex bool, startTime, endTime *int64) ([]model.LogRecord, error)
	FindByLevel(level model.Level) []model.LogRecord
}

// Run parses and executes a full pipeline query, returning the final
// result and any warnings produced by skipped/inapplicable stages.
func Run(ctx context.Context, searcher Searcher, pipeline string) (Result, []string, error) {
	stages := splitPipeline(pipeline)
	if len(stages) == 0 {
		return Result{}, nil, obserr.ParseFailureErr("empty query")
	}

	var warnings []string
	warn := func(msg string) { warnings = append(warnings, msg) }

	result := Result{Type: ResultLogEntries}
	for i, raw := range stages {
		name, args := splitStage(raw)
		if name == "" {
			continue
		}

		switch strings.ToLower(name) {
		case "search":
			if i != 0 {
				warn(fmt.Sprintf("stage %d: search stage only valid as the first stage, ignoring", i+1))
				continue
			}
			entries, err := runSearch(ctx, searcher, args)
			if err != nil {
				return Result{}, warnings, err
			}
			result = entriesResult(entries)
		case "where":
			if result.Type != ResultLogEntries {
				warn(fmt.Sprintf("stage %d: where requires log entries, current result is statistics, skipping", i+1))
				continue
			}
			filtered, err := applyWhere(result.Entries, args)
			if err != nil {
				return Result{}, warnings, err
			}
			result = entriesResult(filtered)
		case "eval":
			if result.Type != ResultLogEntries {
				warn(fmt.Sprintf("stage %d: eval requires log entries, current result is statistics, skipping", i+1))
				continue
			}
			evaluated, err := applyEval(result.Entries, args)
			if err != nil {
				return Result{}, warnings, err
			}
			result = entriesResult(evaluated)
		case "sort":
			if result.Type != ResultLogEntries {
				warn(fmt.Sprintf("stage %d: sort requires log entries, current result is statistics, skipping", i+1))
				continue
			}
			result = entriesResult(applySort(result.Entries, args))
		case "head":
			if result.Type != ResultLogEntries {
				warn(fmt.Sprintf("stage %d: head requires log entries, current result is statistics, skipping", i+1))
				continue
			}
			result = entriesResult(applyHead(result.Entries, args))
		case "tail":
			if result.Type != ResultLogEntries {
				warn(fmt.Sprintf("stage %d: tail requires log entries, current result is statistics, skipping", i+1))
				continue
			}
			result = entriesResult(applyTail(result.Entries, args))
		case "stats":
			if result.Type != ResultLogEntries {
				warn(fmt.Sprintf("stage %d: stats requires log entries, current result is statistics, skipping", i+1))
				continue
			}
			result = Result{Type: ResultStatistics, Statistics: applyStats(result.Entries, args)}
		default:
			warn(fmt.Sprintf("stage %d: unknown stage %q, skipping", i+1, name))
		}
	}

	return result, warnings, nil
}

func runSearch(ctx context.Context, searcher Searcher, expr string) ([]model.LogRecord, error) {
	expr = strings.TrimSpace(expr)
	if level, ok := matchLevelEquals(expr); ok {
		return searcher.FindByLevel(model.NormalizeLevel(level)), nil
	}
	native := translateEqualsToColon(expr)
	return searcher.Search(ctx, native, false, nil, nil)
}

// matchLevelEquals recognizes the special-cased "level=X" search
// expression, which spec §4.6 dispatches directly to findByLevel rather
// than the general index search.
func matchLevelEquals(expr string) (string, bool) {
	parts := strings.SplitN(expr, "=", 2)
	if len(parts) != 2 {
		return "", false
	}
	if !strings.EqualFold(strings.TrimSpace(parts[0]), "level") {
		return "", false
	}
	return unquote(strings.TrimSpace(parts[1])), true
}

// translateEqualsToColon rewrites `field=value` clauses in a search
// expression into the Index Engine's native `field:value` syntax,
// leaving free text and `*` untouched.
func translateEqualsToColon(expr string) string {
	tokens := splitRespectingQuotes(expr)
	for i, tok := range tokens {
		if idx := strings.Index(tok, "="); idx > 0 {
			tokens[i] = tok[:idx] + ":" + tok[idx+1:]
		}
	}
	return strings.Join(tokens, " ")
}

// splitPipeline splits a full query on top-level `|` separators,
// respecting quoted strings.
func splitPipeline(pipeline string) []string {
	var stages []string
	var current strings.Builder
	inQuotes := false
	for _, r := range pipeline {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			current.WriteRune(r)
		case r == '|' && !inQuotes:
			stages = append(stages, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stages = append(stages, strings.TrimSpace(current.String()))
	}
	return stages
}

// splitStage separates a stage's keyword from its argument string.
func splitStage(stage string) (name, args string) {
	stage = strings.TrimSpace(stage)
	idx := strings.IndexAny(stage, " \t")
	if idx < 0 {
		return stage, ""
	}
	return stage[:idx], strings.TrimSpace(stage[idx+1:])
}

// splitRespectingQuotes tokenizes on whitespace, keeping quoted
// substrings (which may contain spaces) intact.
func splitRespectingQuotes(s string) []string {
	var tokens []string
	var current strings.Builder
	inQuotes := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			current.WriteRune(r)
		case (r == ' ' || r == '\t') && !inQuotes:
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

func fieldValue(r model.LogRecord, field string) (string, bool) {
	switch strings.ToLower(field) {
	case "level":
		return string(r.Level), true
	case "source":
		return r.Source, true
	case "message":
		return r.Message, true
	case "id":
		return r.ID, true
	case "timestamp":
		return strconv.FormatInt(r.Timestamp, 10), true
	default:
		v, ok := r.Metadata[field]
		return v, ok
	}
}
