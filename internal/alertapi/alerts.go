package alertapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/herald/internal/alert"
)

type alertsResponse struct {
	Alerts []alert.Alert `json:"alerts"`
	Count  int           `json:"count"`
}

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := a.svc.Alerts(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err, "failed to list alerts")
		return
	}
	writeJSON(w, http.StatusOK, alertsResponse{Alerts: alerts, Count: len(alerts)})
}

func (a *API) handleRelevantAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := a.svc.Relevant(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err, "failed to list relevant alerts")
		return
	}
	writeJSON(w, http.StatusOK, alertsResponse{Alerts: alerts, Count: len(alerts)})
}

func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("herald.alert.id", id))

	al, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to get alert")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	span.SetAttributes(attribute.String("herald.alert.score_status", string(al.Score.Status)))
	writeJSON(w, http.StatusOK, al)
}

func (a *API) handleRequestDraft(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("herald.alert.id", id))

	al, err := a.svc.RequestDraft(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to request draft")
		return
	}
	writeJSON(w, http.StatusAccepted, al)
}
