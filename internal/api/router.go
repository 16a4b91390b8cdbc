// Package api wires the core components (C1-C12) onto HTTP: the
// Source Registry and Alarm Engine's CRUD surfaces, the pipeline Query
// Language, and the Analytics Engine's predictive/anomaly endpoints.
// Routing follows the teacher's marble handler packages: a *mux.Router
// with one HandleFunc per path+method, request/response bodies decoded
// and written through infrastructure/httputil.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/grepwise/grepwise/infrastructure/logging"
)

// Deps bundles every collaborator the admin API dispatches into. Each
// field is the narrow type the corresponding component already
// exposes; api never reimplements their logic, only decodes/encodes
// around them.
type Deps struct {
	Sources    *SourceHandlers
	Alarms     *AlarmHandlers
	Query      *QueryHandlers
	Analytics  *AnalyticsHandlers
	Realtime   http.Handler // internal/realtime.Broadcaster, mounted at /ws
	Logger     *logging.Logger
}

// NewRouter builds the admin/query HTTP surface. Metrics and health
// endpoints are mounted separately by the composition root, which also
// owns TLS/timeouts/shutdown.
func NewRouter(deps Deps) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/sources", deps.Sources.List).Methods(http.MethodGet)
	r.HandleFunc("/api/sources", deps.Sources.Create).Methods(http.MethodPost)
	r.HandleFunc("/api/sources/{id}", deps.Sources.Get).Methods(http.MethodGet)
	r.HandleFunc("/api/sources/{id}", deps.Sources.Update).Methods(http.MethodPut)
	r.HandleFunc("/api/sources/{id}", deps.Sources.Delete).Methods(http.MethodDelete)

	r.HandleFunc("/api/alarms", deps.Alarms.List).Methods(http.MethodGet)
	r.HandleFunc("/api/alarms", deps.Alarms.Create).Methods(http.MethodPost)
	r.HandleFunc("/api/alarms/stats", deps.Alarms.Stats).Methods(http.MethodGet)
	r.HandleFunc("/api/alarms/{id}", deps.Alarms.Get).Methods(http.MethodGet)
	r.HandleFunc("/api/alarms/{id}", deps.Alarms.Update).Methods(http.MethodPut)
	r.HandleFunc("/api/alarms/{id}", deps.Alarms.Delete).Methods(http.MethodDelete)
	r.HandleFunc("/api/alarms/{id}/evaluate", deps.Alarms.EvaluateNow).Methods(http.MethodPost)

	r.HandleFunc("/api/search", deps.Query.Search).Methods(http.MethodPost)
	r.HandleFunc("/api/patterns/common", deps.Query.CommonPatterns).Methods(http.MethodGet)

	r.HandleFunc("/api/analytics/volume-prediction", deps.Analytics.VolumePrediction).Methods(http.MethodPost)
	r.HandleFunc("/api/analytics/trend", deps.Analytics.Trend).Methods(http.MethodPost)
	r.HandleFunc("/api/analytics/level-distribution", deps.Analytics.LevelDistribution).Methods(http.MethodPost)
	r.HandleFunc("/api/analytics/frequency-anomaly", deps.Analytics.FrequencyAnomaly).Methods(http.MethodPost)
	r.HandleFunc("/api/analytics/pattern-anomaly", deps.Analytics.PatternAnomaly).Methods(http.MethodPost)

	if deps.Realtime != nil {
		r.Handle("/ws", deps.Realtime).Methods(http.MethodGet)
	}

	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)

	return r
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
