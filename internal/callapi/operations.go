package callapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/floodvoice/internal/checkin"
)

type triggerRequest struct {
	ResidentID string `json:"residentId"`
}

func (a *API) handleTriggerCheckIns(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid payload"})
		return
	}

	report, err := a.deps.Trigger.TriggerCheckIns(r.Context(), req.ResidentID)
	if err != nil {
		a.writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleAnalyzeCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("floodvoice.call_log.id", id))

	res, err := a.deps.Processor.Analyze(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, id)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleSimulateCall(w http.ResponseWriter, r *http.Request) {
	var req checkin.SimulateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid payload"})
		return
	}

	res, err := a.deps.Processor.Simulate(r.Context(), &req)
	if err != nil {
		callLogID := ""
		if res != nil {
			callLogID = res.CallLogID
		}
		a.writeError(w, r, err, callLogID)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cl, ok, err := a.deps.Records.GetCallLog(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get call log", "id", id)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
		return
	}
	writeJSON(w, http.StatusOK, cl)
}

func (a *API) handleGetResident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, ok, err := a.deps.Records.GetResident(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get resident", "id", id)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleDeleteResident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := a.deps.Records.DeleteResident(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to delete resident", "id", id)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	if !deleted {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
		return
	}
	a.logger.Info(r.Context(), "resident deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

type statusRequest struct {
	Status string `json:"status"`
}

type statusResponse struct {
	ID     string                 `json:"id"`
	Status checkin.ResidentStatus `json:"status"`
}

func (a *API) handleSetResidentStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req statusRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid payload"})
		return
	}
	status, ok := checkin.ParseResidentStatus(req.Status)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown status " + req.Status})
		return
	}

	stored, err := a.deps.Processor.SetResidentStatus(r.Context(), id, status)
	if err != nil {
		a.writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{ID: id, Status: stored})
}

func (a *API) handleFloodMonitor(w http.ResponseWriter, r *http.Request) {
	res, err := a.deps.Flood.Check(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "flood monitor failed")
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}
