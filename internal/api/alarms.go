package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/grepwise/grepwise/infrastructure/httputil"
	"github.com/grepwise/grepwise/infrastructure/logging"
	"github.com/grepwise/grepwise/internal/alarm"
	"github.com/grepwise/grepwise/internal/model"
)

// AlarmHandlers exposes the Alarm Engine (C9) as CRUD plus an
// on-demand evaluation trigger over /api/alarms.
type AlarmHandlers struct {
	Engine *alarm.Engine
	Logger *logging.Logger
}

func (h *AlarmHandlers) List(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.Engine.List())
}

func (h *AlarmHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	a, err := h.Engine.Get(id)
	if err != nil {
		writeErr(w, r, h.Logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

func (h *AlarmHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var a model.Alarm
	if !httputil.DecodeJSON(w, r, &a) {
		return
	}
	created, err := h.Engine.Create(a)
	if err != nil {
		writeErr(w, r, h.Logger, err)
		return
	}
	httputil.RespondCreated(w, created)
}

func (h *AlarmHandlers) Update(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var a model.Alarm
	if !httputil.DecodeJSON(w, r, &a) {
		return
	}
	a.ID = id
	updated, err := h.Engine.Update(a)
	if err != nil {
		writeErr(w, r, h.Logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *AlarmHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.Engine.Delete(id); err != nil {
		writeErr(w, r, h.Logger, err)
		return
	}
	httputil.RespondNoContent(w)
}

func (h *AlarmHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.Engine.Stats())
}

// EvaluateNow runs one alarm's condition immediately, outside its
// scheduled cadence — useful for testing a newly-created alarm.
func (h *AlarmHandlers) EvaluateNow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	a, err := h.Engine.Get(id)
	if err != nil {
		writeErr(w, r, h.Logger, err)
		return
	}
	if err := h.Engine.Evaluate(r.Context(), a); err != nil {
		writeErr(w, r, h.Logger, err)
		return
	}
	httputil.RespondNoContent(w)
}
