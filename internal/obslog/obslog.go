// Package obslog layers GrepWise's per-component logging fields on top
// of infrastructure/logging's logrus-based Logger. Every log line
// carries "component" (e.g. "ingest.file", "index", "alarm") and,
// where applicable, source_id/partition/alarm_id/node_id, following
// the teacher's trace/user/role context-field layering.
package obslog

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/grepwise/grepwise/infrastructure/logging"
)

// Component is a named, independently loggable part of the system.
type Component struct {
	logger *logging.Logger
	name   string
}

// New constructs the root logger for the process, reading LOG_LEVEL
// and LOG_FORMAT from the environment exactly as logging.NewFromEnv does.
func New(service string) *logging.Logger {
	return logging.NewFromEnv(service)
}

// For scopes a Component under the given logger, tagging every entry
// with a "component" field.
func For(l *logging.Logger, name string) *Component {
	return &Component{logger: l, name: name}
}

func (c *Component) entry(ctx context.Context) *logrus.Entry {
	return c.logger.WithContext(ctx).WithField("component", c.name)
}

// Info logs an informational line scoped to this component.
func (c *Component) Info(ctx context.Context, msg string, fields map[string]interface{}) {
	c.entry(ctx).WithFields(fields).Info(msg)
}

// Warn logs a warning line scoped to this component.
func (c *Component) Warn(ctx context.Context, msg string, fields map[string]interface{}) {
	c.entry(ctx).WithFields(fields).Warn(msg)
}

// Debug logs a debug line scoped to this component.
func (c *Component) Debug(ctx context.Context, msg string, fields map[string]interface{}) {
	c.entry(ctx).WithFields(fields).Debug(msg)
}

// Error logs an error line scoped to this component.
func (c *Component) Error(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	e := c.entry(ctx)
	if err != nil {
		e = e.WithError(err)
	}
	e.WithFields(fields).Error(msg)
}

// WithSource returns a logger entry tagged with the ingestion source id.
func (c *Component) WithSource(ctx context.Context, sourceID string) *logrus.Entry {
	return c.entry(ctx).WithField("source_id", sourceID)
}

// WithPartition returns a logger entry tagged with the index partition key.
func (c *Component) WithPartition(ctx context.Context, partition string) *logrus.Entry {
	return c.entry(ctx).WithField("partition", partition)
}

// WithAlarm returns a logger entry tagged with the alarm id.
func (c *Component) WithAlarm(ctx context.Context, alarmID string) *logrus.Entry {
	return c.entry(ctx).WithField("alarm_id", alarmID)
}

// WithNode returns a logger entry tagged with the cluster node id.
func (c *Component) WithNode(ctx context.Context, nodeID string) *logrus.Entry {
	return c.entry(ctx).WithField("node_id", nodeID)
}
