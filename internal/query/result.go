package query

import "github.com/grepwise/grepwise/internal/model"

// ResultType discriminates the two shapes a pipeline can end in.
type ResultType string

const (
	ResultLogEntries ResultType = "LOG_ENTRIES"
	ResultStatistics ResultType = "STATISTICS"
)

// Statistics is the output of a `stats` stage: either a bare count or a
// count grouped by a field's distinct values.
type Statistics struct {
	Count   int64
	ByField string           // grouping field name, "" when ungrouped
	Groups  map[string]int64 // value -> count, nil when ungrouped
}

// Result is the tagged union a pipeline produces after every stage has
// run: a log-entry stream or a statistics summary, never both.
type Result struct {
	Type       ResultType
	Entries    []model.LogRecord
	Statistics Statistics
}

func entriesResult(entries []model.LogRecord) Result {
	return Result{Type: ResultLogEntries, Entries: entries}
}
