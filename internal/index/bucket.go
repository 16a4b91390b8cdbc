package index

import (
	"time"

	"github.com/grepwise/grepwise/internal/model"
)

// bucketFor computes the partition key and inclusive-exclusive time
// range [start, end) a record with the given event timestamp belongs
// to, for the configured bucket granularity.
func bucketFor(bucket model.PartitionBucket, timestampMs int64) (key string, start, end int64) {
	t := time.UnixMilli(timestampMs).UTC()
	switch bucket {
	case model.PartitionWeekly:
		weekStart := startOfWeek(t)
		key = weekStart.Format("2006-01-02")
		start = weekStart.UnixMilli()
		end = weekStart.AddDate(0, 0, 7).UnixMilli()
	case model.PartitionMonthly:
		monthStart := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		key = monthStart.Format("2006-01")
		start = monthStart.UnixMilli()
		end = monthStart.AddDate(0, 1, 0).UnixMilli()
	default: // DAILY
		dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		key = dayStart.Format("2006-01-02")
		start = dayStart.UnixMilli()
		end = dayStart.AddDate(0, 0, 1).UnixMilli()
	}
	return key, start, end
}

func startOfWeek(t time.Time) time.Time {
	weekday := int(t.Weekday())
	// Monday-start week; time.Sunday == 0 needs to wrap to 6 days back.
	daysSinceMonday := (weekday + 6) % 7
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -daysSinceMonday)
}

// rangeIntersects reports whether [aStart, aEnd) overlaps [bStart, bEnd).
func rangeIntersects(aStart, aEnd, bStart, bEnd int64) bool {
	return aStart < bEnd && bStart < aEnd
}
