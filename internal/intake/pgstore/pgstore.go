// Package pgstore provides a PostgreSQL implementation of intake.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/intake/internal/intake"
	"github.com/linnemanlabs/intake/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/intake/internal/intake/pgstore")

//go:embed schema.sql
var schema string

// Store persists patients, visits, assessments and queues in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ intake.Store = (*Store)(nil)

// New applies the schema on the given pool and returns a ready Store. The
// caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// PutPatient inserts a patient together with its medical history.
func (s *Store) PutPatient(ctx context.Context, p *intake.Patient) error {
	ctx, span := startSpan(ctx, "pgstore.PutPatient", "INSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	_, err = tx.Exec(ctx,
		`INSERT INTO patients (id, name, age, gender, phone, contact_info, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
			name         = EXCLUDED.name,
			age          = EXCLUDED.age,
			gender       = EXCLUDED.gender,
			phone        = EXCLUDED.phone,
			contact_info = EXCLUDED.contact_info`,
		p.ID, p.Name, nullable(p.Age), p.Gender, p.Phone, p.ContactInfo, p.CreatedAt,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert patient: %w", err))
	}
	if err := insertHistory(ctx, tx, p.ID, p.MedicalHistory); err != nil {
		return fail(span, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Patient retrieves a patient and its history.
func (s *Store) Patient(ctx context.Context, id string) (*intake.Patient, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Patient", "SELECT")
	defer span.End()

	p, err := scanPatient(s.pool.QueryRow(ctx,
		`SELECT `+patientColumns+` FROM patients WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fail(span, fmt.Errorf("scan patient: %w", err))
	}

	rows, err := s.pool.Query(ctx,
		`SELECT condition_name, is_chronic, diagnosis_date, notes
		 FROM patient_history WHERE patient_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("query history: %w", err))
	}
	p.MedicalHistory, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (triage.HistoryEntry, error) {
		var h triage.HistoryEntry
		err := row.Scan(&h.ConditionName, &h.IsChronic, &h.DiagnosisDate, &h.Notes)
		return h, err
	})
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("scan history: %w", err))
	}
	return p, true, nil
}

const patientColumns = `id, name, age, gender, phone, contact_info, created_at`

func scanPatient(row pgx.Row) (*intake.Patient, error) {
	var (
		p   intake.Patient
		age *float64
	)
	if err := row.Scan(&p.ID, &p.Name, &age, &p.Gender, &p.Phone, &p.ContactInfo, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Age = reading(age)
	return &p, nil
}

// likeEscaper escapes LIKE wildcards so a name fragment matches literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// FindPatients searches by partial name (ILIKE) and exact contact info.
func (s *Store) FindPatients(ctx context.Context, name, contact string, limit int) ([]*intake.Patient, error) {
	ctx, span := startSpan(ctx, "pgstore.FindPatients", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+patientColumns+` FROM patients
		 WHERE ($1 = '' OR name ILIKE '%' || $1 || '%')
		   AND ($2 = '' OR contact_info = $2)
		 ORDER BY name, id
		 LIMIT $3`,
		likeEscaper.Replace(name), contact, limit,
	)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query patients: %w", err))
	}
	patients, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*intake.Patient, error) {
		return scanPatient(row)
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("scan patients: %w", err))
	}
	if patients == nil {
		patients = []*intake.Patient{}
	}
	return patients, nil
}

// AppendHistory adds history entries to an existing patient.
func (s *Store) AppendHistory(ctx context.Context, patientID string, entries []triage.HistoryEntry) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.AppendHistory", "INSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	var one int
	err = tx.QueryRow(ctx, `SELECT 1 FROM patients WHERE id = $1 FOR UPDATE`, patientID).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fail(span, fmt.Errorf("lock patient: %w", err))
	}
	if err := insertHistory(ctx, tx, patientID, entries); err != nil {
		return false, fail(span, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fail(span, fmt.Errorf("commit: %w", err))
	}
	return true, nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, patientID string, entries []triage.HistoryEntry) error {
	for i, h := range entries {
		_, err := tx.Exec(ctx,
			`INSERT INTO patient_history (patient_id, condition_name, is_chronic, diagnosis_date, notes)
			 VALUES ($1, $2, $3, $4, $5)`,
			patientID, h.ConditionName, h.IsChronic, h.DiagnosisDate, h.Notes,
		)
		if err != nil {
			return fmt.Errorf("insert history %d: %w", i, err)
		}
	}
	return nil
}

// PutVisit inserts or updates a visit and replaces its symptoms.
func (s *Store) PutVisit(ctx context.Context, v *intake.Visit) error {
	ctx, span := startSpan(ctx, "pgstore.PutVisit", "UPSERT")
	defer span.End()

	var vitals []byte
	if v.Vitals != nil {
		b, err := json.Marshal(v.Vitals)
		if err != nil {
			return fail(span, fmt.Errorf("marshal vitals: %w", err))
		}
		vitals = b
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	_, err = tx.Exec(ctx,
		`INSERT INTO visits (id, patient_id, chief_complaint, vitals, status, created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
			chief_complaint = EXCLUDED.chief_complaint,
			vitals          = EXCLUDED.vitals,
			status          = EXCLUDED.status,
			completed_at    = EXCLUDED.completed_at`,
		v.ID, v.PatientID, v.ChiefComplaint, vitals, string(v.Status), v.CreatedAt, nullTime(v.CompletedAt),
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert visit: %w", err))
	}

	if _, err := tx.Exec(ctx, `DELETE FROM visit_symptoms WHERE visit_id = $1`, v.ID); err != nil {
		return fail(span, fmt.Errorf("clear symptoms: %w", err))
	}
	for i, sym := range v.Symptoms {
		_, err := tx.Exec(ctx,
			`INSERT INTO visit_symptoms (visit_id, seq, name, severity, duration) VALUES ($1, $2, $3, $4, $5)`,
			v.ID, i, sym.Name, nullable(sym.Severity), sym.Duration,
		)
		if err != nil {
			return fail(span, fmt.Errorf("insert symptom %d: %w", i, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Visit retrieves a visit and its symptoms.
func (s *Store) Visit(ctx context.Context, id string) (*intake.Visit, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Visit", "SELECT")
	defer span.End()

	var (
		v           intake.Visit
		status      string
		vitals      []byte
		completedAt *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, patient_id, chief_complaint, vitals, status, created_at, completed_at
		 FROM visits WHERE id = $1`, id,
	).Scan(&v.ID, &v.PatientID, &v.ChiefComplaint, &vitals, &status, &v.CreatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fail(span, fmt.Errorf("scan visit: %w", err))
	}
	v.Status = intake.VisitStatus(status)
	if completedAt != nil {
		v.CompletedAt = *completedAt
	}
	if vitals != nil {
		v.Vitals = &triage.Vitals{}
		if err := json.Unmarshal(vitals, v.Vitals); err != nil {
			return nil, false, fail(span, fmt.Errorf("unmarshal vitals: %w", err))
		}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT name, severity, duration FROM visit_symptoms WHERE visit_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("query symptoms: %w", err))
	}
	v.Symptoms, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (triage.Symptom, error) {
		var (
			sym      triage.Symptom
			severity *float64
		)
		err := row.Scan(&sym.Name, &severity, &sym.Duration)
		sym.Severity = reading(severity)
		return sym, err
	})
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("scan symptoms: %w", err))
	}
	return &v, true, nil
}

// VisitFeatures loads a visit and its patient as engine input.
func (s *Store) VisitFeatures(ctx context.Context, visitID string) (triage.VisitFeatures, bool, error) {
	v, ok, err := s.Visit(ctx, visitID)
	if err != nil || !ok {
		return triage.VisitFeatures{}, false, err
	}
	p, _, err := s.Patient(ctx, v.PatientID)
	if err != nil {
		return triage.VisitFeatures{}, false, err
	}
	return intake.BuildFeatures(p, v), true, nil
}

// PutAssessment stores an assessment and replaces the visit's queue entries
// in one transaction.
func (s *Store) PutAssessment(ctx context.Context, a *intake.Assessment) error {
	ctx, span := startSpan(ctx, "pgstore.PutAssessment", "INSERT")
	defer span.End()

	pred, err := json.Marshal(a.Prediction)
	if err != nil {
		return fail(span, fmt.Errorf("marshal prediction: %w", err))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	_, err = tx.Exec(ctx,
		`INSERT INTO assessments (id, visit_id, risk_level, risk_score, primary_department, prediction, created_at, duration_s)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.VisitID, string(a.Prediction.RiskLevel), a.Prediction.RiskScore,
		string(a.Prediction.PrimaryDepartment), pred, a.CreatedAt, a.Duration,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert assessment: %w", err))
	}

	if _, err := tx.Exec(ctx, `DELETE FROM department_queue WHERE visit_id = $1`, a.VisitID); err != nil {
		return fail(span, fmt.Errorf("clear queue entries: %w", err))
	}
	for i, e := range a.Entries {
		_, err := tx.Exec(ctx,
			`INSERT INTO department_queue (id, assessment_id, visit_id, department, seq, priority_score, fallback, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			e.ID, e.AssessmentID, e.VisitID, string(e.Department), i, e.Priority, e.Fallback,
			string(e.Status), e.CreatedAt, e.UpdatedAt,
		)
		if err != nil {
			return fail(span, fmt.Errorf("insert queue entry %s: %w", e.Department, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

const entryColumns = `id, assessment_id, visit_id, department, priority_score, fallback, status, created_at, updated_at`

// LatestAssessment returns the newest assessment of a visit with its open
// queue entries.
func (s *Store) LatestAssessment(ctx context.Context, visitID string) (*intake.Assessment, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.LatestAssessment", "SELECT")
	defer span.End()

	var (
		a    intake.Assessment
		pred []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, visit_id, prediction, created_at, duration_s
		 FROM assessments WHERE visit_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, visitID,
	).Scan(&a.ID, &a.VisitID, &pred, &a.CreatedAt, &a.Duration)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fail(span, fmt.Errorf("scan assessment: %w", err))
	}
	if err := json.Unmarshal(pred, &a.Prediction); err != nil {
		return nil, false, fail(span, fmt.Errorf("unmarshal prediction: %w", err))
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM department_queue WHERE assessment_id = $1 ORDER BY seq`, a.ID)
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("query queue entries: %w", err))
	}
	a.Entries, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*intake.QueueEntry, error) {
		return scanEntry(row)
	})
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("scan queue entries: %w", err))
	}
	return &a, true, nil
}

// Queue returns open entries of one department joined with patient, visit
// and risk summary.
func (s *Store) Queue(ctx context.Context, dept triage.Department, limit int) ([]intake.QueueItem, error) {
	ctx, span := startSpan(ctx, "pgstore.Queue", "SELECT")
	defer span.End()
	span.SetAttributes(attribute.String("intake.department", string(dept)))

	rows, err := s.pool.Query(ctx,
		`SELECT q.id, q.assessment_id, q.visit_id, q.department, q.priority_score, q.fallback,
		        q.status, q.created_at, q.updated_at,
		        p.id, p.name, p.age, v.chief_complaint, v.created_at, a.risk_level, a.risk_score
		 FROM department_queue q
		 JOIN visits v      ON v.id = q.visit_id
		 JOIN patients p    ON p.id = v.patient_id
		 JOIN assessments a ON a.id = q.assessment_id
		 WHERE q.department = $1
		 ORDER BY q.priority_score DESC, v.created_at ASC, q.id
		 LIMIT $2`,
		string(dept), limit,
	)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query queue: %w", err))
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (intake.QueueItem, error) {
		var (
			it     intake.QueueItem
			d      string
			status string
			age    *float64
			level  string
		)
		err := row.Scan(
			&it.ID, &it.AssessmentID, &it.VisitID, &d, &it.Priority, &it.Fallback,
			&status, &it.CreatedAt, &it.UpdatedAt,
			&it.PatientID, &it.PatientName, &age, &it.ChiefComplaint, &it.ArrivedAt, &level, &it.RiskScore,
		)
		it.Department = triage.Department(d)
		it.Status = intake.QueueStatus(status)
		it.Age = reading(age)
		it.RiskLevel = triage.RiskLevel(level)
		return it, err
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("scan queue: %w", err))
	}
	if items == nil {
		items = []intake.QueueItem{}
	}
	return items, nil
}

// UpdateQueueStatus applies a status change. Terminal statuses remove the
// entry and complete the visit in the same transaction.
func (s *Store) UpdateQueueStatus(ctx context.Context, entryID string, status intake.QueueStatus, at time.Time) (*intake.QueueEntry, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.UpdateQueueStatus", "UPDATE")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	e, err := scanEntry(tx.QueryRow(ctx,
		`UPDATE department_queue SET status = $2, updated_at = $3 WHERE id = $1 RETURNING `+entryColumns,
		entryID, string(status), at,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fail(span, fmt.Errorf("update queue entry: %w", err))
	}

	if status.Terminal() {
		if _, err := tx.Exec(ctx, `DELETE FROM department_queue WHERE id = $1`, entryID); err != nil {
			return nil, false, fail(span, fmt.Errorf("delete queue entry: %w", err))
		}
		if _, err := tx.Exec(ctx,
			`UPDATE visits SET status = $2, completed_at = $3 WHERE id = $1`,
			e.VisitID, string(intake.VisitCompleted), at,
		); err != nil {
			return nil, false, fail(span, fmt.Errorf("complete visit: %w", err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fail(span, fmt.Errorf("commit: %w", err))
	}
	return e, true, nil
}

// Stats summarizes patients and visits with pending or treating entries as
// of now.
func (s *Store) Stats(ctx context.Context, now time.Time) (*intake.Stats, error) {
	ctx, span := startSpan(ctx, "pgstore.Stats", "SELECT")
	defer span.End()

	active := []string{string(intake.QueuePending), string(intake.QueueTreating)}
	st := &intake.Stats{}

	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM patients`).Scan(&st.TotalPatients); err != nil {
		return nil, fail(span, fmt.Errorf("count patients: %w", err))
	}

	rows, err := s.pool.Query(ctx,
		`SELECT a.risk_level, count(*)
		 FROM assessments a
		 WHERE a.id IN (SELECT assessment_id FROM department_queue WHERE status = ANY($1))
		 GROUP BY a.risk_level`, active)
	if err != nil {
		return nil, fail(span, fmt.Errorf("count active visits: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var (
			level string
			n     int
		)
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fail(span, fmt.Errorf("scan risk count: %w", err))
		}
		st.ActiveVisits += n
		switch triage.RiskLevel(level) {
		case triage.RiskHigh:
			st.HighRisk = n
		case triage.RiskMedium:
			st.MediumRisk = n
		case triage.RiskLow:
			st.LowRisk = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate risk counts: %w", err))
	}

	var avg float64
	err = s.pool.QueryRow(ctx,
		`SELECT COALESCE(AVG(GREATEST(EXTRACT(EPOCH FROM ($1::timestamptz - v.created_at)), 0) / 60), 0)::float8
		 FROM visits v
		 WHERE v.id IN (SELECT visit_id FROM department_queue WHERE status = ANY($2))`, now, active,
	).Scan(&avg)
	if err != nil {
		return nil, fail(span, fmt.Errorf("average wait: %w", err))
	}
	st.AvgWaitMinutes = math.Round(avg*10) / 10
	return st, nil
}

func scanEntry(row pgx.Row) (*intake.QueueEntry, error) {
	var (
		e      intake.QueueEntry
		dept   string
		status string
	)
	err := row.Scan(&e.ID, &e.AssessmentID, &e.VisitID, &dept, &e.Priority, &e.Fallback, &status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Department = triage.Department(dept)
	e.Status = intake.QueueStatus(status)
	return &e, nil
}

func nullable(r triage.Reading) *float64 {
	if !r.Valid {
		return nil
	}
	v := r.Or(0)
	return &v
}

func reading(v *float64) triage.Reading {
	if v == nil {
		return triage.Reading{}
	}
	return triage.Some(*v)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
