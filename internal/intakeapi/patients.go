package intakeapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/intake/internal/intake"
	"github.com/linnemanlabs/intake/internal/triage"
)

type patientRequest struct {
	Name           string                `json:"name"`
	Age            triage.Reading        `json:"age"`
	Gender         string                `json:"gender"`
	Phone          string                `json:"phone"`
	ContactInfo    string                `json:"contact_info"`
	MedicalHistory []triage.HistoryEntry `json:"medical_history"`
}

func (a *API) handleRegisterPatient(w http.ResponseWriter, r *http.Request) {
	var req patientRequest
	if !decode(w, r, &req) {
		return
	}

	p, err := a.svc.RegisterPatient(r.Context(), &intake.Patient{
		Name:           req.Name,
		Age:            req.Age,
		Gender:         req.Gender,
		Phone:          req.Phone,
		ContactInfo:    req.ContactInfo,
		MedicalHistory: req.MedicalHistory,
	})
	if err != nil {
		a.fail(w, r, err, "failed to register patient")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("intake.patient.id", p.ID))
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok := a.loadPatient(w, r, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleLookupPatients finds returning patients by id, partial name or
// exact contact. "email" is accepted as an alias for contact.
func (a *API) handleLookupPatients(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	contact := q.Get("contact")
	if contact == "" {
		contact = q.Get("email")
	}

	found, err := a.svc.LookupPatients(r.Context(), q.Get("id"), q.Get("name"), contact)
	if err != nil {
		a.fail(w, r, err, "failed to look up patients")
		return
	}
	if found == nil {
		found = []*intake.Patient{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"patients": found})
}

func (a *API) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok := a.loadPatient(w, r, id)
	if !ok {
		return
	}
	history := p.MedicalHistory
	if history == nil {
		history = []triage.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

// handleAddHistory accepts a bare array of history entries.
func (a *API) handleAddHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var entries []triage.HistoryEntry
	if !decode(w, r, &entries) {
		return
	}

	ok, err := a.svc.AddHistory(r.Context(), id, entries)
	if err != nil {
		a.fail(w, r, err, "failed to add history", "patient_id", id)
		return
	}
	if !ok {
		notFound(w, "patient", id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"patient_id": id, "message": "history added"})
}

func (a *API) loadPatient(w http.ResponseWriter, r *http.Request, id string) (*intake.Patient, bool) {
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("intake.patient.id", id))

	p, ok, err := a.svc.Patient(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, "failed to get patient", "patient_id", id)
		return nil, false
	}
	if !ok {
		notFound(w, "patient", id)
		return nil, false
	}
	return p, true
}
