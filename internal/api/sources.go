package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/grepwise/grepwise/infrastructure/httputil"
	"github.com/grepwise/grepwise/infrastructure/logging"
	"github.com/grepwise/grepwise/internal/model"
	"github.com/grepwise/grepwise/internal/obserr"
	"github.com/grepwise/grepwise/internal/source"
)

// SourceHandlers exposes the Source Registry (C7) as CRUD over
// /api/sources.
type SourceHandlers struct {
	Registry *source.Registry
	Logger   *logging.Logger
}

func (h *SourceHandlers) List(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.Registry.List())
}

func (h *SourceHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	cfg, err := h.Registry.Get(id)
	if err != nil {
		writeErr(w, r, h.Logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cfg)
}

func (h *SourceHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var cfg model.SourceConfig
	if !httputil.DecodeJSON(w, r, &cfg) {
		return
	}
	created, err := h.Registry.Create(r.Context(), cfg)
	if err != nil {
		writeErr(w, r, h.Logger, err)
		return
	}
	httputil.RespondCreated(w, created)
}

func (h *SourceHandlers) Update(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var cfg model.SourceConfig
	if !httputil.DecodeJSON(w, r, &cfg) {
		return
	}
	cfg.ID = id
	updated, err := h.Registry.Update(r.Context(), cfg)
	if err != nil {
		writeErr(w, r, h.Logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *SourceHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.Registry.Delete(r.Context(), id); err != nil {
		writeErr(w, r, h.Logger, err)
		return
	}
	httputil.RespondNoContent(w)
}

// writeErr translates a core error (typically an *obserr.Error) into
// the matching HTTP status and logs it, mirroring httputil.handleError
// for handlers that need mux path parameters and so can't go through
// the generic HandleJSON wrappers.
func writeErr(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	if logger != nil {
		logger.WithContext(r.Context()).WithError(err).Error("handler failed")
	}
	status := obserr.GetHTTPStatus(err)
	httputil.WriteError(w, status, err.Error())
}
