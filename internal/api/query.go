package api

import (
	"net/http"

	"github.com/grepwise/grepwise/infrastructure/httputil"
	"github.com/grepwise/grepwise/infrastructure/logging"
	"github.com/grepwise/grepwise/internal/pattern"
	"github.com/grepwise/grepwise/internal/query"
)

// Searcher is the Index Engine surface the query/pattern endpoints
// need; satisfied by *index.Engine by structural typing.
type Searcher interface {
	query.Searcher
	pattern.Searcher
}

// QueryHandlers exposes the pipeline Query Language (C6) and the
// Pattern Recognizer's (C11) frequency endpoint.
type QueryHandlers struct {
	Searcher   Searcher
	Recognizer *pattern.Recognizer
	Logger     *logging.Logger
}

type searchRequest struct {
	Pipeline string `json:"pipeline"`
}

type searchResponse struct {
	Result   query.Result `json:"result"`
	Warnings []string     `json:"warnings,omitempty"`
}

// Search compiles and executes a full `<stage> | <stage> | ...`
// pipeline query against the Index Engine.
func (h *QueryHandlers) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	result, warnings, err := query.Run(r.Context(), h.Searcher, req.Pipeline)
	if err != nil {
		writeErr(w, r, h.Logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, searchResponse{Result: result, Warnings: warnings})
}

// CommonPatterns returns the topN most frequent message templates over
// an optional [start, end) time range.
func (h *QueryHandlers) CommonPatterns(w http.ResponseWriter, r *http.Request) {
	start, end := optionalTimeRange(r)
	topN := httputil.QueryInt(r, "topN", 10)

	counts, err := h.Recognizer.MostCommonPatterns(r.Context(), h.Searcher, start, end, topN)
	if err != nil {
		writeErr(w, r, h.Logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, counts)
}

// optionalTimeRange reads "start"/"end" epoch-ms query params, returning
// nil pointers (meaning unbounded) when absent.
func optionalTimeRange(r *http.Request) (*int64, *int64) {
	var start, end *int64
	if v := httputil.QueryInt64(r, "start", 0); v != 0 {
		start = &v
	}
	if v := httputil.QueryInt64(r, "end", 0); v != 0 {
		end = &v
	}
	return start, end
}
