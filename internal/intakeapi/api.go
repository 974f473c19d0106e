package intakeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/intake/internal/intake"
	"github.com/linnemanlabs/intake/internal/triage"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// IntakeService defines the business operations the HTTP API needs.
type IntakeService interface {
	RegisterPatient(ctx context.Context, p *intake.Patient) (*intake.Patient, error)
	Patient(ctx context.Context, id string) (*intake.Patient, bool, error)
	LookupPatients(ctx context.Context, id, name, contact string) ([]*intake.Patient, error)
	AddHistory(ctx context.Context, patientID string, entries []triage.HistoryEntry) (bool, error)

	SubmitVisit(ctx context.Context, v *intake.Visit) (*intake.Visit, *intake.Assessment, error)
	Assess(ctx context.Context, visitID string) (*intake.Assessment, bool, error)
	Assessment(ctx context.Context, visitID string) (*intake.Assessment, bool, error)
	Explain(ctx context.Context, visitID string) (*intake.Explanation, bool, error)
	Predict(ctx context.Context, features triage.VisitFeatures) *triage.Prediction

	Queue(ctx context.Context, department string) ([]intake.QueueItem, error)
	UpdateQueueStatus(ctx context.Context, entryID, status string) (*intake.QueueEntry, bool, error)
	Stats(ctx context.Context) (*intake.Stats, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    IntakeService
}

// New creates a new API handler.
func New(logger log.Logger, svc IntakeService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("intake service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router. Middleware applies to
// every /api/v1 route.
func (a *API) RegisterRoutes(r chi.Router, middleware ...func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware...)

		r.Post("/patients", a.handleRegisterPatient)
		r.Get("/patients/lookup", a.handleLookupPatients)
		r.Get("/patients/{id}", a.handleGetPatient)
		r.Get("/patients/{id}/history", a.handleGetHistory)
		r.Post("/patients/{id}/history", a.handleAddHistory)

		r.Post("/visits", a.handleSubmitVisit)
		r.Post("/visits/{id}/triage", a.handleAssess)
		r.Get("/visits/{id}/assessment", a.handleGetAssessment)
		r.Post("/visits/{id}/explain", a.handleExplain)

		r.Post("/triage/predict", a.handlePredict)

		r.Get("/queues/{department}", a.handleQueue)
		r.Patch("/queue/{id}", a.handleUpdateQueue)

		r.Get("/dashboard/stats", a.handleStats)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

// fail maps service errors to responses. Client errors carry their message;
// anything else is logged and reported as an internal error.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error, msg string, kv ...any) {
	switch {
	case errors.Is(err, intake.ErrInvalidRequest),
		errors.Is(err, intake.ErrInvalidStatus),
		errors.Is(err, triage.ErrUnknownDepartment):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, intake.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, intake.ErrNarratorUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		a.logger.Error(r.Context(), err, msg, kv...)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func notFound(w http.ResponseWriter, what, id string) {
	writeError(w, http.StatusNotFound, fmt.Sprintf("%s %s not found", what, id))
}
