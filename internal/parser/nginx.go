package parser

import (
	"regexp"
	"strings"

	"github.com/grepwise/grepwise/internal/model"
)

// nginxAccessRe is textually identical to Apache's access-log shape;
// Nginx's default log_format strings produce the same wire format.
// Disambiguation from the Apache parsers happens purely through chain
// priority (Apache access parsers run first), matching the documented
// "first recognizes wins" rule.
var nginxAccessRe = apacheAccessRe

// NginxCombined recognizes Nginx's default combined log_format.
type NginxCombined struct{}

func (NginxCombined) Name() string { return "nginx_combined" }

func (NginxCombined) Recognizes(line string) bool {
	groups, ok := namedGroups(nginxAccessRe, line)
	if !ok {
		return false
	}
	_, hasReferer := groups["referer"]
	_, hasUA := groups["user_agent"]
	return hasReferer && hasUA
}

func (p NginxCombined) Parse(line, source string, ingestTimeMs int64) (model.LogRecord, bool) {
	return parseApacheAccess(line, source, ingestTimeMs, p.Name())
}

// NginxCommon recognizes Nginx's access log without referer/user-agent.
type NginxCommon struct{}

func (NginxCommon) Name() string { return "nginx_common" }

func (NginxCommon) Recognizes(line string) bool {
	groups, ok := namedGroups(nginxAccessRe, line)
	if !ok {
		return false
	}
	_, hasReferer := groups["referer"]
	_, hasUA := groups["user_agent"]
	return !hasReferer && !hasUA
}

func (p NginxCommon) Parse(line, source string, ingestTimeMs int64) (model.LogRecord, bool) {
	return parseApacheAccess(line, source, ingestTimeMs, p.Name())
}

// nginxErrorRe matches Nginx's error log format:
// "2021/05/12 14:30:05 [error] 1234#0: *567 message, client: 1.2.3.4, server: example.com"
var nginxErrorRe = regexp.MustCompile(
	`^(?P<timestamp>\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2}) \[(?P<log_level>\w+)\] (?P<process_id>\d+)#\d+: (?:\*\d+ )?(?P<error_message>[^,]*)(?:, client: (?P<client_ip>[^,]+))?(?:, server: (?P<server>[^,]+))?.*$`,
)

// NginxError recognizes Nginx's error log format.
type NginxError struct{}

func (NginxError) Name() string { return "nginx_error" }

func (NginxError) Recognizes(line string) bool {
	return nginxErrorRe.MatchString(line)
}

func (NginxError) Parse(line, source string, ingestTimeMs int64) (model.LogRecord, bool) {
	groups, ok := namedGroups(nginxErrorRe, line)
	if !ok {
		return model.LogRecord{}, false
	}

	ts := ingestTimeMs
	if parsed, ok := parseNginxErrorTime(groups["timestamp"]); ok {
		ts = parsed
	}

	meta := map[string]string{"log_format": "nginx_error"}
	setIfNotEmpty(meta, "timestamp", groups["timestamp"])
	setIfNotEmpty(meta, "log_level", groups["log_level"])
	setIfNotEmpty(meta, "process_id", groups["process_id"])
	setIfNotEmpty(meta, "client_ip", groups["client_ip"])
	setIfNotEmpty(meta, "server", groups["server"])
	errMsg := strings.TrimSpace(groups["error_message"])
	setIfNotEmpty(meta, "error_message", errMsg)

	rec := model.LogRecord{
		ID:         newID(),
		Timestamp:  ts,
		RecordTime: ingestTimeMs,
		Level:      model.NormalizeLevel(groups["log_level"]),
		Message:    errMsg,
		Source:     source,
		Metadata:   meta,
		RawContent: line,
	}
	return rec, true
}
