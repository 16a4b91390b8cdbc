package parser

import (
	"regexp"

	"github.com/grepwise/grepwise/internal/model"
)

// apacheAccessRe matches both Apache common and combined access lines;
// the trailing referer/user-agent group is what tells them apart.
var apacheAccessRe = regexp.MustCompile(
	`^(?P<ip_address>\S+) \S+ (?P<user_id>\S+) \[(?P<timestamp>[^\]]+)\] "(?P<method>\S+) (?P<path>\S+) (?P<protocol>[^"]+)" (?P<status_code>\d+) (?P<bytes>\S+)(?: "(?P<referer>[^"]*)" "(?P<user_agent>[^"]*)")?$`,
)

// ApacheCombined recognizes Apache's access_combined log_format: common
// fields plus quoted referer and user-agent.
type ApacheCombined struct{}

func (ApacheCombined) Name() string { return "apache_combined" }

func (ApacheCombined) Recognizes(line string) bool {
	groups, ok := namedGroups(apacheAccessRe, line)
	if !ok {
		return false
	}
	_, hasReferer := groups["referer"]
	_, hasUA := groups["user_agent"]
	return hasReferer && hasUA
}

func (p ApacheCombined) Parse(line, source string, ingestTimeMs int64) (model.LogRecord, bool) {
	return parseApacheAccess(line, source, ingestTimeMs, p.Name())
}

// ApacheCommon recognizes Apache's access_common log_format: no quoted
// referer/user-agent trailer.
type ApacheCommon struct{}

func (ApacheCommon) Name() string { return "apache_common" }

func (ApacheCommon) Recognizes(line string) bool {
	groups, ok := namedGroups(apacheAccessRe, line)
	if !ok {
		return false
	}
	_, hasReferer := groups["referer"]
	_, hasUA := groups["user_agent"]
	return !hasReferer && !hasUA
}

func (p ApacheCommon) Parse(line, source string, ingestTimeMs int64) (model.LogRecord, bool) {
	return parseApacheAccess(line, source, ingestTimeMs, p.Name())
}

func parseApacheAccess(line, source string, ingestTimeMs int64, logFormat string) (model.LogRecord, bool) {
	groups, ok := namedGroups(apacheAccessRe, line)
	if !ok {
		return model.LogRecord{}, false
	}

	status := atoiOr(groups["status_code"], 0)
	ts := ingestTimeMs
	if parsed, ok := parseApacheTime(groups["timestamp"]); ok {
		ts = parsed
	}

	meta := map[string]string{"log_format": logFormat}
	setIfNotEmpty(meta, "ip_address", groups["ip_address"])
	if uid := groups["user_id"]; uid != "" && uid != "-" {
		meta["user_id"] = uid
	}
	setIfNotEmpty(meta, "method", groups["method"])
	setIfNotEmpty(meta, "path", groups["path"])
	setIfNotEmpty(meta, "protocol", groups["protocol"])
	setIfNotEmpty(meta, "status_code", groups["status_code"])
	meta["bytes"] = normalizeBytes(groups["bytes"])
	setIfNotEmpty(meta, "timestamp", groups["timestamp"])
	setIfNotEmpty(meta, "referer", groups["referer"])
	setIfNotEmpty(meta, "user_agent", groups["user_agent"])

	rec := model.LogRecord{
		ID:         newID(),
		Timestamp:  ts,
		RecordTime: ingestTimeMs,
		Level:      levelForStatus(status),
		Message:    groups["method"] + " " + groups["path"] + " " + groups["status_code"],
		Source:     source,
		Metadata:   meta,
		RawContent: line,
	}
	return rec, true
}

// apacheErrorRe matches Apache's error log format:
// "[Wed Oct 11 14:32:52 2000] [error] [client 127.0.0.1] message"
var apacheErrorRe = regexp.MustCompile(
	`^\[(?P<timestamp>\w+ \w+ \d+ \d+:\d+:\d+ \d+)\] \[(?P<log_level>\w+)\](?: \[pid (?P<process_id>\d+)\])?(?: \[client (?P<client_ip>[^\]]+)\])? (?P<error_message>.*)$`,
)

// ApacheError recognizes Apache's bracketed error log format.
type ApacheError struct{}

func (ApacheError) Name() string { return "apache_error" }

func (ApacheError) Recognizes(line string) bool {
	return apacheErrorRe.MatchString(line)
}

func (ApacheError) Parse(line, source string, ingestTimeMs int64) (model.LogRecord, bool) {
	groups, ok := namedGroups(apacheErrorRe, line)
	if !ok {
		return model.LogRecord{}, false
	}

	ts := ingestTimeMs
	if parsed, ok := parseApacheErrorTime(groups["timestamp"]); ok {
		ts = parsed
	}

	meta := map[string]string{"log_format": "apache_error"}
	setIfNotEmpty(meta, "timestamp", groups["timestamp"])
	setIfNotEmpty(meta, "log_level", groups["log_level"])
	setIfNotEmpty(meta, "process_id", groups["process_id"])
	setIfNotEmpty(meta, "client_ip", groups["client_ip"])
	setIfNotEmpty(meta, "error_message", groups["error_message"])

	rec := model.LogRecord{
		ID:         newID(),
		Timestamp:  ts,
		RecordTime: ingestTimeMs,
		Level:      model.NormalizeLevel(groups["log_level"]),
		Message:    groups["error_message"],
		Source:     source,
		Metadata:   meta,
		RawContent: line,
	}
	return rec, true
}
