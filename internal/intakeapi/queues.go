package intakeapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/intake/internal/intake"
)

type statusRequest struct {
	Status string `json:"status"`
}

func (a *API) handleQueue(w http.ResponseWriter, r *http.Request) {
	dept := chi.URLParam(r, "department")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("intake.department", dept))

	items, err := a.svc.Queue(r.Context(), dept)
	if err != nil {
		a.fail(w, r, err, "failed to load queue", "department", dept)
		return
	}
	if items == nil {
		items = []intake.QueueItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": items})
}

func (a *API) handleUpdateQueue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req statusRequest
	if !decode(w, r, &req) {
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("intake.queue.entry_id", id),
		attribute.String("intake.queue.status", req.Status),
	)

	e, ok, err := a.svc.UpdateQueueStatus(r.Context(), id, req.Status)
	if err != nil {
		a.fail(w, r, err, "failed to update queue entry", "entry_id", id)
		return
	}
	if !ok {
		notFound(w, "queue entry", id)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.Stats(r.Context())
	if err != nil {
		a.fail(w, r, err, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
