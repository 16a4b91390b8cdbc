package obslog

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/grepwise/grepwise/infrastructure/logging"
)

func TestComponentTagsEveryLine(t *testing.T) {
	l := logging.New("grepwise", "debug", "json")
	buf := &bytes.Buffer{}
	l.SetOutput(buf)

	c := For(l, "ingest.file")
	c.Info(context.Background(), "scanned directory", map[string]interface{}{"count": 3})

	assert.Contains(t, buf.String(), `"component":"ingest.file"`)
}

func TestWithSourcePartitionAlarmNode(t *testing.T) {
	l := logging.New("grepwise", "debug", "json")
	buf := &bytes.Buffer{}
	l.SetOutput(buf)

	c := For(l, "index")
	c.WithSource(context.Background(), "src-1").Info("wrote batch")
	c.WithPartition(context.Background(), "2026-07-30").Info("rolled partition")

	out := buf.String()
	assert.Contains(t, out, `"source_id":"src-1"`)
	assert.Contains(t, out, `"partition":"2026-07-30"`)
}
