// Package parser turns raw ingested lines into normalized model.LogRecord
// values. Every parser is a pure, stateless function: recognizes(line)
// decides whether a parser claims a line, parse(line, source) builds the
// record. Parsers never panic on malformed input; they report "not
// recognized" instead.
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/grepwise/grepwise/infrastructure/redaction"
	"github.com/grepwise/grepwise/internal/model"
)

// Parser recognizes and parses one log line format.
type Parser interface {
	// Name identifies the parser for metadata["log_format"].
	Name() string
	// Recognizes reports whether this parser claims the line.
	Recognizes(line string) bool
	// Parse builds a LogRecord from a line this parser recognizes.
	// ingestTimeMs is used as RecordTime and as the Timestamp fallback
	// when the line carries no parseable event time.
	Parse(line, source string, ingestTimeMs int64) (model.LogRecord, bool)
}

// Chain tries parsers in priority order and falls through to a generic
// parser when nothing else recognizes the line.
type Chain struct {
	parsers  []Parser
	generic  Parser
	redactor *redaction.Redactor
}

// DefaultChain returns the fixed spec priority order: Apache error,
// Apache access combined, Apache access common, Nginx error, Nginx
// combined, Nginx common, generic. Parsed messages and metadata values
// are passed through the standard secret redactor before being
// returned, so no driver needs to remember to do it itself.
func DefaultChain() *Chain {
	return &Chain{
		parsers: []Parser{
			ApacheError{},
			ApacheCombined{},
			ApacheCommon{},
			NginxError{},
			NginxCombined{},
			NginxCommon{},
		},
		generic:  Generic{},
		redactor: redaction.NewRedactor(redaction.DefaultConfig()),
	}
}

// Parse runs the chain against line, returning the first recognizing
// parser's result, or the generic parser's result if none recognize.
// RawContent is always the untouched input line; Message and metadata
// values are redacted.
func (c *Chain) Parse(line, source string, ingestTimeMs int64) model.LogRecord {
	for _, p := range c.parsers {
		if p.Recognizes(line) {
			if rec, ok := p.Parse(line, source, ingestTimeMs); ok {
				return c.redact(rec)
			}
		}
	}
	rec, _ := c.generic.Parse(line, source, ingestTimeMs)
	return c.redact(rec)
}

func (c *Chain) redact(rec model.LogRecord) model.LogRecord {
	if c.redactor == nil {
		return rec
	}
	rec.Message = c.redactor.RedactString(rec.Message)
	for k, v := range rec.Metadata {
		if k == "log_format" {
			continue
		}
		rec.Metadata[k] = c.redactor.RedactString(v)
	}
	return rec
}

func newID() string {
	return uuid.NewString()
}

// levelForStatus maps an HTTP status code to a normalized log level.
func levelForStatus(status int) model.Level {
	switch {
	case status >= 500:
		return model.LevelError
	case status >= 400:
		return model.LevelWarn
	case status >= 200:
		return model.LevelInfo
	default:
		return model.LevelInfo
	}
}

// normalizeBytes maps the access-log "-" sentinel to "0".
func normalizeBytes(raw string) string {
	if raw == "-" {
		return "0"
	}
	return raw
}

func setIfNotEmpty(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// namedGroups runs re against line and returns a name->value map for
// every named capture group that matched non-empty.
func namedGroups(re *regexp.Regexp, line string) (map[string]string, bool) {
	match := re.FindStringSubmatch(line)
	if match == nil {
		return nil, false
	}
	out := make(map[string]string, len(match))
	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		if match[i] != "" {
			out[name] = match[i]
		}
	}
	return out, true
}

// apacheTimeLayout is Apache/Nginx's common log timestamp, e.g.
// "10/Oct/2000:13:55:36 -0700".
const apacheTimeLayout = "02/Jan/2006:15:04:05 -0700"

func parseApacheTime(raw string) (int64, bool) {
	t, err := time.Parse(apacheTimeLayout, raw)
	if err != nil {
		return 0, false
	}
	return t.UnixMilli(), true
}

// nginxErrorTimeLayout is Nginx's error log timestamp, e.g.
// "2021/05/12 14:30:05".
const nginxErrorTimeLayout = "2006/01/02 15:04:05"

func parseNginxErrorTime(raw string) (int64, bool) {
	t, err := time.Parse(nginxErrorTimeLayout, raw)
	if err != nil {
		return 0, false
	}
	return t.UnixMilli(), true
}

// apacheErrorTimeLayout is Apache's error log timestamp, e.g.
// "Wed Oct 11 14:32:52 2000".
const apacheErrorTimeLayout = "Mon Jan 02 15:04:05 2006"

func parseApacheErrorTime(raw string) (int64, bool) {
	t, err := time.Parse(apacheErrorTimeLayout, raw)
	if err != nil {
		return 0, false
	}
	return t.UnixMilli(), true
}

var isoTimestampRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?)`)

func parseLeadingISOTimestamp(line string) (int64, bool) {
	match := isoTimestampRe.FindString(line)
	if match == "" {
		return 0, false
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.000",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, match); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}

var genericLevelRe = regexp.MustCompile(`(?i)\b(TRACE|DEBUG|INFO|WARN(?:ING)?|ERROR|FATAL|CRITICAL)\b`)

func detectGenericLevel(line string) model.Level {
	m := genericLevelRe.FindString(line)
	if m == "" {
		return model.LevelInfo
	}
	switch strings.ToUpper(m) {
	case "WARNING":
		return model.LevelWarn
	case "CRITICAL":
		return model.LevelFatal
	default:
		return model.NormalizeLevel(m)
	}
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
