package query

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PaesslerAG/gval"

	"github.com/grepwise/grepwise/internal/model"
	"github.com/grepwise/grepwise/internal/obserr"
)

// applyWhere filters records in memory using a gval-compiled boolean
// predicate. Supports field=value, field!=value, field>N, field<N, and
// and/or combinations, per spec §4.6.
func applyWhere(entries []model.LogRecord, predicate string) ([]model.LogRecord, error) {
	expr := toGvalBoolean(predicate)
	if strings.TrimSpace(expr) == "" {
		return entries, nil
	}
	eval, err := gval.Full.NewEvaluable(expr)
	if err != nil {
		return nil, obserr.ParseFailureErr("invalid where predicate: " + err.Error())
	}

	var out []model.LogRecord
	for _, r := range entries {
		v, err := eval(context.Background(), recordParams(r))
		if err != nil {
			// A field missing from this particular record's metadata
			// evaluates to false rather than failing the whole query.
			continue
		}
		if b, ok := v.(bool); ok && b {
			out = append(out, r)
		}
	}
	return out, nil
}

// applyEval computes a derived field per record via a gval expression
// and stores it into the record's metadata under newField.
func applyEval(entries []model.LogRecord, assignment string) ([]model.LogRecord, error) {
	idx := strings.Index(assignment, "=")
	if idx <= 0 {
		return nil, obserr.ParseFailureErr("eval stage requires newField=<expr>")
	}
	field := strings.TrimSpace(assignment[:idx])
	expr := strings.TrimSpace(assignment[idx+1:])

	eval, err := gval.Full.NewEvaluable(expr)
	if err != nil {
		return nil, obserr.ParseFailureErr("invalid eval expression: " + err.Error())
	}

	out := make([]model.LogRecord, len(entries))
	for i, r := range entries {
		v, err := eval(context.Background(), recordParams(r))
		cp := r
		if cp.Metadata == nil {
			cp.Metadata = make(map[string]string)
		} else {
			meta := make(map[string]string, len(cp.Metadata)+1)
			for k, mv := range cp.Metadata {
				meta[k] = mv
			}
			cp.Metadata = meta
		}
		if err == nil {
			cp.Metadata[field] = formatValue(v)
		}
		out[i] = cp
	}
	return out, nil
}

// applySort orders records by a field, ascending unless prefixed with
// `-`; ties break on timestamp descending.
func applySort(entries []model.LogRecord, spec string) []model.LogRecord {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return entries
	}
	descending := false
	switch spec[0] {
	case '-':
		descending = true
		spec = spec[1:]
	case '+':
		spec = spec[1:]
	}
	field := strings.TrimSpace(spec)

	out := make([]model.LogRecord, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		vi, _ := fieldValue(out[i], field)
		vj, _ := fieldValue(out[j], field)
		if vi == vj {
			return out[i].Timestamp > out[j].Timestamp
		}
		if ni, ei := strconv.ParseFloat(vi, 64); ei == nil {
			if nj, ej := strconv.ParseFloat(vj, 64); ej == nil {
				if descending {
					return ni > nj
				}
				return ni < nj
			}
		}
		if descending {
			return vi > vj
		}
		return vi < vj
	})
	return out
}

// applyHead returns the first N records.
func applyHead(entries []model.LogRecord, arg string) []model.LogRecord {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 0 {
		n = 10
	}
	if n > len(entries) {
		n = len(entries)
	}
	return entries[:n]
}

// applyTail returns the last N records.
func applyTail(entries []model.LogRecord, arg string) []model.LogRecord {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 0 {
		n = 10
	}
	if n > len(entries) {
		n = len(entries)
	}
	return entries[len(entries)-n:]
}

// applyStats replaces the record stream with a count, optionally
// grouped by a field's distinct values.
func applyStats(entries []model.LogRecord, arg string) Statistics {
	arg = strings.TrimSpace(arg)
	if !strings.HasPrefix(strings.ToLower(arg), "count") {
		return Statistics{Count: int64(len(entries))}
	}
	rest := strings.TrimSpace(arg[len("count"):])
	if rest == "" {
		return Statistics{Count: int64(len(entries))}
	}
	rest = strings.TrimSpace(strings.TrimPrefix(rest, "by"))
	field := strings.TrimSpace(rest)
	if field == "" {
		return Statistics{Count: int64(len(entries))}
	}

	groups := make(map[string]int64)
	for _, r := range entries {
		v, ok := fieldValue(r, field)
		if !ok {
			v = ""
		}
		groups[v]++
	}
	return Statistics{Count: int64(len(entries)), ByField: field, Groups: groups}
}

// recordParams builds the gval evaluation context for a record: named
// fields plus every metadata key, with numeric-looking values converted
// so `field>N`/`field<N` comparisons work.
func recordParams(r model.LogRecord) map[string]interface{} {
	params := map[string]interface{}{
		"id":        r.ID,
		"timestamp": float64(r.Timestamp),
		"level":     string(r.Level),
		"message":   r.Message,
		"source":    r.Source,
	}
	for k, v := range r.Metadata {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			params[k] = n
		} else {
			params[k] = v
		}
	}
	return params
}

var comparisonRe = regexp.MustCompile(`^(\w[\w.]*)\s*(!=|>=|<=|==|=|>|<)\s*(.+)$`)

// toGvalBoolean rewrites a where-stage predicate into gval/Go boolean
// syntax: each `field OP value` clause gets its bare `=` normalized to
// `==` and, when value isn't numeric or already quoted, the value is
// quoted as a string literal (so e.g. `source=app-a` doesn't get parsed
// as the subtraction `app - a`). `and`/`or` become `&&`/`||`.
func toGvalBoolean(predicate string) string {
	clauses, joiners := splitBoolean(predicate)
	for i, clause := range clauses {
		clauses[i] = rewriteClause(clause)
	}
	var b strings.Builder
	for i, clause := range clauses {
		if i > 0 {
			b.WriteString(" ")
			b.WriteString(joiners[i-1])
			b.WriteString(" ")
		}
		b.WriteString(clause)
	}
	return b.String()
}

// splitBoolean splits a predicate on top-level and/or keywords
// (respecting quotes), returning the clauses and the joiner between
// each consecutive pair.
func splitBoolean(predicate string) (clauses []string, joiners []string) {
	words := splitRespectingQuotes(predicate)
	var current []string
	for _, w := range words {
		switch strings.ToLower(w) {
		case "and":
			clauses = append(clauses, strings.Join(current, " "))
			joiners = append(joiners, "&&")
			current = nil
		case "or":
			clauses = append(clauses, strings.Join(current, " "))
			joiners = append(joiners, "||")
			current = nil
		default:
			current = append(current, w)
		}
	}
	clauses = append(clauses, strings.Join(current, " "))
	return clauses, joiners
}

func rewriteClause(clause string) string {
	m := comparisonRe.FindStringSubmatch(strings.TrimSpace(clause))
	if m == nil {
		return clause
	}
	field, op, value := m[1], m[2], strings.TrimSpace(m[3])
	if op == "=" {
		op = "=="
	}
	value = quoteValueIfNeeded(value)
	return field + " " + op + " " + value
}

func quoteValueIfNeeded(value string) string {
	if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
		return value
	}
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return value
	}
	if value == "true" || value == "false" {
		return value
	}
	return strconv.Quote(value)
}

func formatValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
