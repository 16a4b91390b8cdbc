package parser

import "github.com/grepwise/grepwise/internal/model"

// Generic is the fallback parser: every line is recognized. The event
// timestamp comes from a leading ISO-8601 (or common variant) prefix
// when present, else from the ingestion time.
type Generic struct{}

func (Generic) Name() string { return "generic" }

func (Generic) Recognizes(line string) bool { return true }

func (Generic) Parse(line, source string, ingestTimeMs int64) (model.LogRecord, bool) {
	ts := ingestTimeMs
	if parsed, ok := parseLeadingISOTimestamp(line); ok {
		ts = parsed
	}

	meta := map[string]string{"log_format": "generic"}
	level := detectGenericLevel(line)
	meta["log_level"] = string(level)

	rec := model.LogRecord{
		ID:         newID(),
		Timestamp:  ts,
		RecordTime: ingestTimeMs,
		Level:      level,
		Message:    line,
		Source:     source,
		Metadata:   meta,
		RawContent: line,
	}
	return rec, true
}
