// Package analytics implements the Analytics component (C12): volume
// prediction, trend direction, level distribution, and frequency/
// pattern anomaly detection over Index Engine search results.
package analytics

import (
	"context"
	"math"

	"github.com/grepwise/grepwise/internal/model"
	"github.com/grepwise/grepwise/internal/pattern"
)

// Searcher is the narrow Index Engine collaborator every analysis
// needs, satisfied by *index.Engine without an import.
type Searcher interface {
	Search(ctx context.Context, queryStr string, isRegex bool, startTime, endTime *int64) ([]model.LogRecord, error)
}

// TrendDirection classifies a Trend result's slope.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "INCREASING"
	TrendDecreasing TrendDirection = "DECREASING"
	TrendStable     TrendDirection = "STABLE"
)

// trendEpsilon is the slope magnitude below which a trend is reported
// as STABLE rather than increasing/decreasing.
const trendEpsilon = 0.01

// PredictiveResult is the common payload for volume prediction and
// trend analyses, per spec §4.11.
type PredictiveResult struct {
	PredictionType      string
	PredictionTimestamp int64
	PredictedValue      float64
	ConfidenceLevel     float64
	Description         string
	Metadata            map[string]interface{}
}

// LevelPercentage is one level's share of a result set.
type LevelPercentage struct {
	Level      model.Level
	Count      int
	Percentage float64
}

// AnomalyResult flags one bucket (or pattern) whose frequency exceeded
// its expected range.
type AnomalyResult struct {
	BucketStart int64
	BucketEnd   int64
	Label       string // empty for frequency anomalies, the template for pattern anomalies
	Count       int
	Mean        float64
	StdDev      float64
	Description string
}

// Engine runs every analysis gated by a shared minimum sample size.
type Engine struct {
	minSampleSize int
}

// New constructs an Engine; analyses on fewer than minSampleSize
// records return an empty result rather than an error.
func New(minSampleSize int) *Engine {
	if minSampleSize <= 0 {
		minSampleSize = 1
	}
	return &Engine{minSampleSize: minSampleSize}
}

func bucketIndex(ts, start int64, bucketMs int64) int {
	return int((ts - start) / bucketMs)
}

// bucketCounts tallies records into fixed-width tumbling windows
// across [start, end]; a record at exactly end falls in the last bucket.
func bucketCounts(records []model.LogRecord, start, end int64, bucketMinutes int) []int {
	bucketMs := int64(bucketMinutes) * 60 * 1000
	if bucketMs <= 0 {
		bucketMs = 60 * 1000
	}
	n := int((end-start)/bucketMs) + 1
	if n <= 0 {
		n = 1
	}
	counts := make([]int, n)
	for _, r := range records {
		idx := bucketIndex(r.Timestamp, start, bucketMs)
		if idx >= 0 && idx < n {
			counts[idx]++
		}
	}
	return counts
}

// leastSquares fits y = intercept + slope*x and returns the fit plus
// its R². math/stdlib only: no statistics library exists anywhere in
// the teacher or the rest of the pack (confirmed by grep), and the
// formula is a few lines of arithmetic, not worth a dependency.
func leastSquares(xs, ys []float64) (slope, intercept, rSquared float64) {
	n := float64(len(xs))
	if n == 0 {
		return 0, 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n, 0
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssTot, ssRes float64
	for i := range xs {
		predicted := intercept + slope*xs[i]
		ssRes += (ys[i] - predicted) * (ys[i] - predicted)
		ssTot += (ys[i] - meanY) * (ys[i] - meanY)
	}
	if ssTot == 0 {
		rSquared = 1
	} else {
		rSquared = 1 - ssRes/ssTot
	}
	return slope, intercept, rSquared
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// VolumePrediction buckets [start, end], fits a linear regression of
// count over bucket index, and projects horizonBuckets future points.
func (e *Engine) VolumePrediction(ctx context.Context, searcher Searcher, query string, start, end int64, bucketMinutes, horizonBuckets int) ([]PredictiveResult, error) {
	records, err := searcher.Search(ctx, query, false, &start, &end)
	if err != nil {
		return nil, err
	}
	if len(records) < e.minSampleSize {
		return nil, nil
	}

	counts := bucketCounts(records, start, end, bucketMinutes)
	xs := make([]float64, len(counts))
	ys := make([]float64, len(counts))
	for i, c := range counts {
		xs[i] = float64(i)
		ys[i] = float64(c)
	}
	slope, intercept, rSquared := leastSquares(xs, ys)
	confidence := clamp01(rSquared)
	bucketMs := int64(bucketMinutes) * 60 * 1000

	out := make([]PredictiveResult, 0, horizonBuckets)
	for h := 1; h <= horizonBuckets; h++ {
		x := float64(len(counts) - 1 + h)
		predicted := intercept + slope*x
		if predicted < 0 {
			predicted = 0
		}
		ts := end + int64(h)*bucketMs
		out = append(out, PredictiveResult{
			PredictionType:      "VOLUME",
			PredictionTimestamp: ts,
			PredictedValue:      predicted,
			ConfidenceLevel:     confidence,
			Description:         "predicted log volume",
			Metadata:            map[string]interface{}{"bucketMinutes": bucketMinutes},
		})
	}
	return out, nil
}

// Trend fits the same regression as VolumePrediction but returns a
// single classified result instead of projecting future buckets.
func (e *Engine) Trend(ctx context.Context, searcher Searcher, query string, start, end int64, bucketMinutes int) (*PredictiveResult, error) {
	records, err := searcher.Search(ctx, query, false, &start, &end)
	if err != nil {
		return nil, err
	}
	if len(records) < e.minSampleSize {
		return nil, nil
	}

	counts := bucketCounts(records, start, end, bucketMinutes)
	xs := make([]float64, len(counts))
	ys := make([]float64, len(counts))
	for i, c := range counts {
		xs[i] = float64(i)
		ys[i] = float64(c)
	}
	slope, _, rSquared := leastSquares(xs, ys)

	direction := TrendStable
	if slope > trendEpsilon {
		direction = TrendIncreasing
	} else if slope < -trendEpsilon {
		direction = TrendDecreasing
	}

	return &PredictiveResult{
		PredictionType:      "TREND",
		PredictionTimestamp: end,
		PredictedValue:      slope,
		ConfidenceLevel:     clamp01(rSquared),
		Description:         "volume trend direction",
		Metadata: map[string]interface{}{
			"trendDirection": direction,
			"slope":          slope,
			"rSquared":       rSquared,
		},
	}, nil
}

// LevelDistribution returns each level's share of the result set,
// percentages summing to 100 within floating-point tolerance.
func (e *Engine) LevelDistribution(ctx context.Context, searcher Searcher, query string, start, end int64) ([]LevelPercentage, error) {
	records, err := searcher.Search(ctx, query, false, &start, &end)
	if err != nil {
		return nil, err
	}
	if len(records) < e.minSampleSize {
		return nil, nil
	}

	counts := make(map[model.Level]int)
	for _, r := range records {
		counts[r.Level]++
	}
	total := float64(len(records))
	out := make([]LevelPercentage, 0, len(counts))
	for level, count := range counts {
		out = append(out, LevelPercentage{
			Level:      level,
			Count:      count,
			Percentage: float64(count) / total * 100,
		})
	}
	return out, nil
}

// FrequencyAnomaly buckets [start, end], computes the mean/stddev
// across buckets, and flags any bucket exceeding mean + threshold*stddev.
func (e *Engine) FrequencyAnomaly(ctx context.Context, searcher Searcher, query string, start, end int64, bucketMinutes int, threshold float64) ([]AnomalyResult, error) {
	if threshold <= 0 {
		threshold = 2.0
	}
	records, err := searcher.Search(ctx, query, false, &start, &end)
	if err != nil {
		return nil, err
	}
	if len(records) < e.minSampleSize {
		return nil, nil
	}

	counts := bucketCounts(records, start, end, bucketMinutes)
	mean, stddev := meanStddev(counts)
	bucketMs := int64(bucketMinutes) * 60 * 1000

	var out []AnomalyResult
	for i, c := range counts {
		if float64(c) > mean+threshold*stddev {
			bucketStart := start + int64(i)*bucketMs
			out = append(out, AnomalyResult{
				BucketStart: bucketStart,
				BucketEnd:   bucketStart + bucketMs,
				Count:       c,
				Mean:        mean,
				StdDev:      stddev,
				Description: "log volume exceeded expected range",
			})
		}
	}
	return out, nil
}

// PatternAnomaly runs FrequencyAnomaly logic per template emitted by
// the Pattern Recognizer, instead of over the raw record count.
func (e *Engine) PatternAnomaly(ctx context.Context, searcher Searcher, recognizer *pattern.Recognizer, query string, start, end int64, bucketMinutes int, threshold float64) ([]AnomalyResult, error) {
	if threshold <= 0 {
		threshold = 2.0
	}
	records, err := searcher.Search(ctx, query, false, &start, &end)
	if err != nil {
		return nil, err
	}
	if len(records) < e.minSampleSize {
		return nil, nil
	}

	byTemplate := make(map[string][]model.LogRecord)
	for _, r := range records {
		tmpl := recognizer.Extract(r.Message).Template
		byTemplate[tmpl] = append(byTemplate[tmpl], r)
	}

	bucketMs := int64(bucketMinutes) * 60 * 1000
	var out []AnomalyResult
	for tmpl, recs := range byTemplate {
		counts := bucketCounts(recs, start, end, bucketMinutes)
		mean, stddev := meanStddev(counts)
		for i, c := range counts {
			if float64(c) > mean+threshold*stddev {
				bucketStart := start + int64(i)*bucketMs
				out = append(out, AnomalyResult{
					BucketStart: bucketStart,
					BucketEnd:   bucketStart + bucketMs,
					Label:       tmpl,
					Count:       c,
					Mean:        mean,
					StdDev:      stddev,
					Description: "pattern frequency exceeded expected range",
				})
			}
		}
	}
	return out, nil
}

func meanStddev(counts []int) (mean, stddev float64) {
	if len(counts) == 0 {
		return 0, 0
	}
	var sum float64
	for _, c := range counts {
		sum += float64(c)
	}
	mean = sum / float64(len(counts))

	var sqDiff float64
	for _, c := range counts {
		d := float64(c) - mean
		sqDiff += d * d
	}
	stddev = math.Sqrt(sqDiff / float64(len(counts)))
	return mean, stddev
}
