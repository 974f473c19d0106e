package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/intake/internal/triage"
)

const tracerName = "github.com/linnemanlabs/intake/internal/intake"

var (
	// ErrPatientNotFound is returned when a visit references an unknown patient.
	ErrPatientNotFound = errors.New("patient not found")
	// ErrInvalidStatus is returned for an unknown queue status.
	ErrInvalidStatus = errors.New("invalid queue status")
	// ErrNarratorUnavailable is returned by Explain when no LLM provider is configured.
	ErrNarratorUnavailable = errors.New("explanation provider not configured")
	// ErrInvalidRequest is returned when required fields are missing.
	ErrInvalidRequest = errors.New("invalid request")
)

// Service is the business boundary for intake operations.
type Service struct {
	store     Store
	engine    *triage.Engine
	logger    log.Logger
	hooks     Hooks
	provider  Provider
	notifiers []Notifier
	now       func() time.Time
}

// NewService creates a new intake service. provider may be nil, in which case
// Explain returns ErrNarratorUnavailable.
func NewService(store Store, engine *triage.Engine, logger log.Logger, hooks Hooks, provider Provider, notifiers ...Notifier) *Service {
	if store == nil {
		panic(xerrors.New("intake store is required"))
	}
	if engine == nil {
		panic(xerrors.New("triage engine is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:     store,
		engine:    engine,
		logger:    logger,
		hooks:     hooks,
		provider:  provider,
		notifiers: notifiers,
		now:       time.Now,
	}
}

// RegisterPatient assigns an ID and stores the patient with any history.
func (s *Service) RegisterPatient(ctx context.Context, p *Patient) (*Patient, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, fmt.Errorf("%w: patient name is required", ErrInvalidRequest)
	}
	p.ID = ulid.Make().String()
	p.CreatedAt = s.now()
	p.MedicalHistory = cleanHistory(p.MedicalHistory)

	if err := s.store.PutPatient(ctx, p); err != nil {
		return nil, fmt.Errorf("store patient: %w", err)
	}
	s.logger.Info(ctx, "patient registered", "patient_id", p.ID, "history_entries", len(p.MedicalHistory))
	return p, nil
}

// Patient retrieves a patient by ID.
func (s *Service) Patient(ctx context.Context, id string) (*Patient, bool, error) {
	return s.store.Patient(ctx, id)
}

// LookupPatients finds returning patients. An ID takes precedence and yields
// at most one match; otherwise name (partial, any case) and contact (exact)
// are searched together, up to LookupLimit results.
func (s *Service) LookupPatients(ctx context.Context, id, name, contact string) ([]*Patient, error) {
	id, name, contact = strings.TrimSpace(id), strings.TrimSpace(name), strings.TrimSpace(contact)

	if id != "" {
		p, ok, err := s.store.Patient(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load patient: %w", err)
		}
		if !ok {
			return []*Patient{}, nil
		}
		return []*Patient{p}, nil
	}
	if name == "" && contact == "" {
		return nil, fmt.Errorf("%w: one of id, name or contact is required", ErrInvalidRequest)
	}

	found, err := s.store.FindPatients(ctx, name, contact, LookupLimit)
	if err != nil {
		return nil, fmt.Errorf("find patients: %w", err)
	}
	return found, nil
}

// AddHistory appends medical history to a patient. It returns false when the
// patient does not exist.
func (s *Service) AddHistory(ctx context.Context, patientID string, entries []triage.HistoryEntry) (bool, error) {
	entries = cleanHistory(entries)
	if len(entries) == 0 {
		return false, fmt.Errorf("%w: at least one condition is required", ErrInvalidRequest)
	}
	return s.store.AppendHistory(ctx, patientID, entries)
}

// SubmitVisit stores a new active visit for an existing patient and assesses it.
func (s *Service) SubmitVisit(ctx context.Context, v *Visit) (*Visit, *Assessment, error) {
	if strings.TrimSpace(v.PatientID) == "" {
		return nil, nil, fmt.Errorf("%w: patient_id is required", ErrInvalidRequest)
	}
	if _, ok, err := s.store.Patient(ctx, v.PatientID); err != nil {
		return nil, nil, fmt.Errorf("load patient: %w", err)
	} else if !ok {
		return nil, nil, ErrPatientNotFound
	}

	v.ID = ulid.Make().String()
	v.Status = VisitActive
	v.CreatedAt = s.now()
	if err := s.store.PutVisit(ctx, v); err != nil {
		return nil, nil, fmt.Errorf("store visit: %w", err)
	}

	a, ok, err := s.Assess(ctx, v.ID)
	if err != nil {
		return v, nil, err
	}
	if !ok {
		return v, nil, fmt.Errorf("visit %s disappeared before assessment", v.ID)
	}
	return v, a, nil
}

// Visit retrieves a visit by ID.
func (s *Service) Visit(ctx context.Context, id string) (*Visit, bool, error) {
	return s.store.Visit(ctx, id)
}

// Assess runs the engine for a stored visit, fans the prediction out to
// department queues and persists both atomically. It returns false when the
// visit does not exist; the engine is not invoked in that case.
func (s *Service) Assess(ctx context.Context, visitID string) (*Assessment, bool, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "intake.Assess", trace.WithAttributes(
		attribute.String("intake.visit.id", visitID),
	))
	defer span.End()

	L := s.logger.With("visit_id", visitID)

	features, ok, err := s.store.VisitFeatures(ctx, visitID)
	if err != nil {
		s.assessResult("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("load visit features: %w", err)
	}
	if !ok {
		s.assessResult("not_found")
		return nil, false, nil
	}

	start := time.Now()
	pred := s.engine.Predict(features)
	dur := time.Since(start).Seconds()

	now := s.now()
	a := &Assessment{
		ID:         ulid.Make().String(),
		VisitID:    visitID,
		Prediction: pred,
		CreatedAt:  now,
		Duration:   dur,
	}
	a.Entries = fanOut(a, s.engine.Config().QueueThreshold, now, func() string { return ulid.Make().String() })

	if err := s.store.PutAssessment(ctx, a); err != nil {
		s.assessResult("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("store assessment: %w", err)
	}

	span.SetAttributes(
		attribute.String("intake.assessment.id", a.ID),
		attribute.String("intake.risk.level", string(pred.RiskLevel)),
		attribute.Float64("intake.risk.score", pred.RiskScore),
		attribute.String("intake.department.primary", string(pred.PrimaryDepartment)),
		attribute.Int("intake.department.count", len(pred.RecommendedDepartments)),
		attribute.Bool("intake.review_recommended", pred.Confidence.ReviewRecommended),
	)

	if s.hooks.OnPrediction != nil {
		s.hooks.OnPrediction(pred, dur, true)
	}
	if s.hooks.OnQueueEntry != nil {
		for _, e := range a.Entries {
			s.hooks.OnQueueEntry(e)
		}
	}
	s.assessResult("ok")

	L.Info(ctx, "visit assessed",
		"assessment_id", a.ID,
		"risk_level", pred.RiskLevel,
		"risk_score", pred.RiskScore,
		"primary_department", pred.PrimaryDepartment,
		"departments", len(pred.RecommendedDepartments),
		"safety_overrides", len(pred.Explainability.SafetyOverrides),
		"review_recommended", pred.Confidence.ReviewRecommended,
	)

	s.dispatch(ctx, &Event{
		Kind:           EventAssessed,
		At:             now,
		VisitID:        visitID,
		ChiefComplaint: features.ChiefComplaint,
		Assessment:     a,
		Entries:        a.Entries,
	})

	return a, true, nil
}

// Assessment returns the latest stored assessment for a visit.
func (s *Service) Assessment(ctx context.Context, visitID string) (*Assessment, bool, error) {
	return s.store.LatestAssessment(ctx, visitID)
}

// Predict runs the engine on inline features without persisting anything.
func (s *Service) Predict(ctx context.Context, features triage.VisitFeatures) *triage.Prediction {
	_, span := otel.Tracer(tracerName).Start(ctx, "intake.Predict")
	defer span.End()

	start := time.Now()
	pred := s.engine.Predict(features)
	if s.hooks.OnPrediction != nil {
		s.hooks.OnPrediction(pred, time.Since(start).Seconds(), false)
	}

	span.SetAttributes(
		attribute.String("intake.risk.level", string(pred.RiskLevel)),
		attribute.String("intake.department.primary", string(pred.PrimaryDepartment)),
	)
	return pred
}

// Queue returns the active entries of one department queue.
func (s *Service) Queue(ctx context.Context, department string) ([]QueueItem, error) {
	dept, err := triage.ParseDepartment(department)
	if err != nil {
		return nil, err
	}
	items, err := s.store.Queue(ctx, dept, QueueLimit)
	if err != nil {
		return nil, fmt.Errorf("load queue %s: %w", dept, err)
	}
	return items, nil
}

// UpdateQueueStatus moves a queue entry to a new status. Completed and
// discharged entries leave the queue and complete the visit. It returns false
// when the entry does not exist.
func (s *Service) UpdateQueueStatus(ctx context.Context, entryID, status string) (*QueueEntry, bool, error) {
	st, err := ParseQueueStatus(status)
	if err != nil {
		return nil, false, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "intake.UpdateQueueStatus", trace.WithAttributes(
		attribute.String("intake.queue.entry_id", entryID),
		attribute.String("intake.queue.status", string(st)),
	))
	defer span.End()

	now := s.now()
	e, ok, err := s.store.UpdateQueueStatus(ctx, entryID, st, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("update queue entry: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	if s.hooks.OnQueueTransition != nil {
		s.hooks.OnQueueTransition(e.Department, st)
	}
	s.logger.Info(ctx, "queue status updated",
		"entry_id", e.ID,
		"visit_id", e.VisitID,
		"department", e.Department,
		"status", st,
	)

	s.dispatch(ctx, &Event{
		Kind:    EventQueueUpdated,
		At:      now,
		VisitID: e.VisitID,
		Entries: []*QueueEntry{e},
	})
	return e, true, nil
}

// Stats returns the dashboard summary.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.store.Stats(ctx, s.now())
}

// Explain asks the LLM provider for a short narrative of the latest
// assessment of a visit. It returns false when the visit or its assessment
// does not exist.
func (s *Service) Explain(ctx context.Context, visitID string) (*Explanation, bool, error) {
	if s.provider == nil {
		return nil, false, ErrNarratorUnavailable
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "intake.Explain", trace.WithAttributes(
		attribute.String("intake.visit.id", visitID),
		attribute.String("gen_ai.operation.name", "chat"),
	))
	defer span.End()

	v, ok, err := s.store.Visit(ctx, visitID)
	if err != nil {
		return nil, false, fmt.Errorf("load visit: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	a, ok, err := s.store.LatestAssessment(ctx, visitID)
	if err != nil {
		return nil, false, fmt.Errorf("load assessment: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	start := time.Now()
	resp, err := s.provider.Send(ctx, &LLMRequest{
		MaxTokens: ExplainTokens,
		System:    buildSystemPrompt(),
		Messages: []Message{
			{Role: "user", Content: []ContentBlock{{Type: "text", Text: buildExplainPrompt(v, a)}}},
		},
	})
	dur := time.Since(start).Seconds()

	if err != nil {
		if s.hooks.OnLLMCall != nil {
			s.hooks.OnLLMCall(0, 0, dur, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error(ctx, err, "llm call failed", "visit_id", visitID)
		return nil, false, fmt.Errorf("explain: %w", err)
	}
	if s.hooks.OnLLMCall != nil {
		s.hooks.OnLLMCall(resp.Usage.InputTokens, resp.Usage.OutputTokens, dur, nil)
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
		attribute.String("gen_ai.response.finish_reason", string(resp.StopReason)),
	)

	return &Explanation{
		VisitID:      visitID,
		AssessmentID: a.ID,
		Text:         trimLines(resp.Text(), ExplainMaxLines),
		Model:        resp.Model,
		GeneratedAt:  s.now(),
	}, true, nil
}

// dispatch hands an event to every notifier in the background. The request
// context may be cancelled as soon as the handler returns, so delivery runs
// on a context that keeps its values but not its deadline.
func (s *Service) dispatch(ctx context.Context, ev *Event) {
	if len(s.notifiers) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, n := range s.notifiers {
		go func() {
			err := n.Send(ctx, ev)
			if s.hooks.OnNotify != nil {
				s.hooks.OnNotify(n.Name(), err)
			}
			if err != nil {
				s.logger.Error(ctx, err, "notification failed",
					"notifier", n.Name(),
					"kind", ev.Kind,
					"visit_id", ev.VisitID,
				)
			}
		}()
	}
}

func (s *Service) assessResult(result string) {
	if s.hooks.OnAssess != nil {
		s.hooks.OnAssess(result)
	}
}

func cleanHistory(entries []triage.HistoryEntry) []triage.HistoryEntry {
	out := make([]triage.HistoryEntry, 0, len(entries))
	for _, h := range entries {
		h.ConditionName = strings.TrimSpace(h.ConditionName)
		if h.ConditionName == "" {
			continue
		}
		out = append(out, h)
	}
	return out
}
