package api

import (
	"net/http"

	"github.com/grepwise/grepwise/infrastructure/httputil"
	"github.com/grepwise/grepwise/infrastructure/logging"
	"github.com/grepwise/grepwise/internal/analytics"
	"github.com/grepwise/grepwise/internal/pattern"
)

// AnalyticsHandlers exposes the Analytics Engine (C12)'s predictive
// and anomaly-detection operations.
type AnalyticsHandlers struct {
	Engine     *analytics.Engine
	Searcher   analytics.Searcher
	Recognizer *pattern.Recognizer
	Logger     *logging.Logger
}

// windowRequest is the common shape of every analytics request: a
// query filter plus a [start, end) time range.
type windowRequest struct {
	Query         string `json:"query"`
	Start         int64  `json:"start"`
	End           int64  `json:"end"`
	BucketMinutes int    `json:"bucketMinutes"`
}

type horizonRequest struct {
	windowRequest
	HorizonBuckets int `json:"horizonBuckets"`
}

type anomalyRequest struct {
	windowRequest
	Threshold float64 `json:"threshold"`
}

func (h *AnalyticsHandlers) VolumePrediction(w http.ResponseWriter, r *http.Request) {
	var req horizonRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	out, err := h.Engine.VolumePrediction(r.Context(), h.Searcher, req.Query, req.Start, req.End, req.BucketMinutes, req.HorizonBuckets)
	if err != nil {
		writeErr(w, r, h.Logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *AnalyticsHandlers) Trend(w http.ResponseWriter, r *http.Request) {
	var req windowRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	out, err := h.Engine.Trend(r.Context(), h.Searcher, req.Query, req.Start, req.End, req.BucketMinutes)
	if err != nil {
		writeErr(w, r, h.Logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *AnalyticsHandlers) LevelDistribution(w http.ResponseWriter, r *http.Request) {
	var req windowRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	out, err := h.Engine.LevelDistribution(r.Context(), h.Searcher, req.Query, req.Start, req.End)
	if err != nil {
		writeErr(w, r, h.Logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *AnalyticsHandlers) FrequencyAnomaly(w http.ResponseWriter, r *http.Request) {
	var req anomalyRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	out, err := h.Engine.FrequencyAnomaly(r.Context(), h.Searcher, req.Query, req.Start, req.End, req.BucketMinutes, req.Threshold)
	if err != nil {
		writeErr(w, r, h.Logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *AnalyticsHandlers) PatternAnomaly(w http.ResponseWriter, r *http.Request) {
	var req anomalyRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	out, err := h.Engine.PatternAnomaly(r.Context(), h.Searcher, h.Recognizer, req.Query, req.Start, req.End, req.BucketMinutes, req.Threshold)
	if err != nil {
		writeErr(w, r, h.Logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
