package intakeapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/intake/internal/intake"
	"github.com/linnemanlabs/intake/internal/triage"
)

type visitRequest struct {
	PatientID      string           `json:"patient_id"`
	ChiefComplaint string           `json:"chief_complaint"`
	Vitals         *triage.Vitals   `json:"vitals"`
	Symptoms       []triage.Symptom `json:"symptoms"`
}

type visitResponse struct {
	Visit      *intake.Visit      `json:"visit"`
	Assessment *intake.Assessment `json:"assessment"`
}

func (a *API) handleSubmitVisit(w http.ResponseWriter, r *http.Request) {
	var req visitRequest
	if !decode(w, r, &req) {
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("intake.patient.id", req.PatientID))

	v, as, err := a.svc.SubmitVisit(r.Context(), &intake.Visit{
		PatientID:      req.PatientID,
		ChiefComplaint: req.ChiefComplaint,
		Vitals:         req.Vitals,
		Symptoms:       req.Symptoms,
	})
	if err != nil {
		a.fail(w, r, err, "failed to submit visit", "patient_id", req.PatientID)
		return
	}

	span.SetAttributes(
		attribute.String("intake.visit.id", v.ID),
		attribute.String("intake.risk.level", string(as.Prediction.RiskLevel)),
	)
	writeJSON(w, http.StatusCreated, visitResponse{Visit: v, Assessment: as})
}

func (a *API) handleAssess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("intake.visit.id", id))

	as, ok, err := a.svc.Assess(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, "failed to assess visit", "visit_id", id)
		return
	}
	if !ok {
		notFound(w, "visit", id)
		return
	}
	writeJSON(w, http.StatusOK, as)
}

func (a *API) handleGetAssessment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("intake.visit.id", id))

	as, ok, err := a.svc.Assessment(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, "failed to get assessment", "visit_id", id)
		return
	}
	if !ok {
		notFound(w, "assessment for visit", id)
		return
	}
	writeJSON(w, http.StatusOK, as)
}

func (a *API) handleExplain(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("intake.visit.id", id))

	ex, ok, err := a.svc.Explain(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, "failed to explain assessment", "visit_id", id)
		return
	}
	if !ok {
		notFound(w, "assessment for visit", id)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

// handlePredict scores inline features without storing anything.
func (a *API) handlePredict(w http.ResponseWriter, r *http.Request) {
	var features triage.VisitFeatures
	if !decode(w, r, &features) {
		return
	}
	writeJSON(w, http.StatusOK, a.svc.Predict(r.Context(), features))
}
