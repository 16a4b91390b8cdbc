// Package syslogd implements the SYSLOG ingestion driver (C8): a UDP or
// TCP listener parsing RFC3164/RFC5424 frames, one record per
// datagram/line.
package syslogd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/grepwise/grepwise/internal/ingest"
	"github.com/grepwise/grepwise/internal/model"
	"github.com/grepwise/grepwise/internal/obslog"
)

// rfc3164Re matches "<PRI>MMM DD HH:MM:SS HOSTNAME TAG: MSG".
var rfc3164Re = regexp.MustCompile(`^<(?P<pri>\d{1,3})>(?P<timestamp>[A-Z][a-z]{2}\s+\d{1,2}\s\d{2}:\d{2}:\d{2})\s(?P<hostname>\S+)\s(?P<tag>[^:\s]+):?\s*(?P<message>.*)$`)

// rfc5424Re matches "<PRI>VERSION TIMESTAMP HOSTNAME APP-NAME PROCID MSGID SD MSG".
var rfc5424Re = regexp.MustCompile(`^<(?P<pri>\d{1,3})>(?P<version>\d)\s(?P<timestamp>\S+)\s(?P<hostname>\S+)\s(?P<appname>\S+)\s(?P<procid>\S+)\s(?P<msgid>\S+)\s(?P<sd>(?:-|\[.*?\]))\s?(?P<message>.*)$`)

// Driver listens on port (UDP or TCP) and parses every received frame.
type Driver struct {
	cfg    model.SourceConfig
	sink   ingest.Sink
	log    *obslog.Component
	conn   net.PacketConn // UDP
	lnr    net.Listener   // TCP
	doneCh chan struct{}
}

// Start opens the listener for cfg and begins parsing incoming frames.
// cfg.Type must be SourceTypeSyslog.
func Start(ctx context.Context, cfg model.SourceConfig, sink ingest.Sink, log *obslog.Component) (*Driver, error) {
	d := &Driver{cfg: cfg, sink: sink, log: log, doneCh: make(chan struct{})}
	addr := fmt.Sprintf(":%d", cfg.Port)

	switch cfg.Protocol {
	case model.SyslogUDP:
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return nil, err
		}
		d.conn = conn
		go d.serveUDP(ctx)
	case model.SyslogTCP:
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		d.lnr = ln
		go d.serveTCP(ctx)
	default:
		return nil, fmt.Errorf("syslogd: unsupported protocol %q", cfg.Protocol)
	}
	return d, nil
}

// Stop closes the listener, which unblocks the serve loop.
func (d *Driver) Stop() {
	if d.conn != nil {
		d.conn.Close()
	}
	if d.lnr != nil {
		d.lnr.Close()
	}
	<-d.doneCh
}

func (d *Driver) serveUDP(ctx context.Context) {
	defer close(d.doneCh)
	buf := make([]byte, 64*1024)
	for {
		n, _, err := d.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		d.handle(ctx, string(buf[:n]))
	}
}

func (d *Driver) serveTCP(ctx context.Context) {
	defer close(d.doneCh)
	for {
		conn, err := d.lnr.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		go d.handleConn(ctx, conn)
	}
}

func (d *Driver) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		d.handle(ctx, scanner.Text())
	}
}

func (d *Driver) handle(ctx context.Context, frame string) {
	rec, ok := parseFrame(frame, d.cfg.Format, d.cfg.ID)
	if !ok {
		rec = model.LogRecord{
			ID:         uuid.NewString(),
			Timestamp:  time.Now().UnixMilli(),
			RecordTime: time.Now().UnixMilli(),
			Level:      model.LevelUnknown,
			Message:    frame,
			Source:     "syslog:" + d.cfg.ID,
			RawContent: frame,
			Metadata:   map[string]string{"source_type": "syslog", "source_id": d.cfg.ID},
		}
	}
	d.sink.Add(ctx, rec)
}

func parseFrame(frame string, format model.SyslogFormat, sourceID string) (model.LogRecord, bool) {
	var re *regexp.Regexp
	var layout string
	switch format {
	case model.SyslogRFC5424:
		re = rfc5424Re
		layout = time.RFC3339Nano
	default:
		re = rfc3164Re
		layout = "Jan _2 15:04:05"
	}

	m := re.FindStringSubmatch(frame)
	if m == nil {
		return model.LogRecord{}, false
	}
	groups := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if name != "" && i < len(m) {
			groups[name] = m[i]
		}
	}

	now := time.Now()
	ts := now
	if format == model.SyslogRFC5424 {
		if parsed, err := time.Parse(layout, groups["timestamp"]); err == nil {
			ts = parsed
		}
	} else {
		if parsed, err := time.Parse(layout, groups["timestamp"]); err == nil {
			ts = time.Date(now.Year(), parsed.Month(), parsed.Day(), parsed.Hour(), parsed.Minute(), parsed.Second(), 0, time.UTC)
		}
	}

	pri, _ := strconv.Atoi(groups["pri"])
	level := levelForSeverity(pri % 8)

	meta := map[string]string{
		"source_type": "syslog",
		"source_id":   sourceID,
		"hostname":    groups["hostname"],
		"facility":    strconv.Itoa(pri / 8),
		"severity":    strconv.Itoa(pri % 8),
	}
	if format == model.SyslogRFC5424 {
		meta["app_name"] = groups["appname"]
		meta["proc_id"] = groups["procid"]
		meta["msg_id"] = groups["msgid"]
	} else {
		meta["tag"] = groups["tag"]
	}

	return model.LogRecord{
		ID:         uuid.NewString(),
		Timestamp:  ts.UnixMilli(),
		RecordTime: now.UnixMilli(),
		Level:      level,
		Message:    groups["message"],
		Source:     "syslog:" + sourceID,
		RawContent: frame,
		Metadata:   meta,
	}, true
}

// levelForSeverity maps an RFC5424 severity (0=Emergency..7=Debug) onto
// the Level enum.
func levelForSeverity(severity int) model.Level {
	switch severity {
	case 0, 1:
		return model.LevelFatal
	case 2, 3:
		return model.LevelError
	case 4:
		return model.LevelWarn
	case 5, 6:
		return model.LevelInfo
	case 7:
		return model.LevelDebug
	default:
		return model.LevelUnknown
	}
}
