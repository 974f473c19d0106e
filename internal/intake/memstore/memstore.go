// Package memstore provides an in-memory implementation of intake.Store.
package memstore

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/intake/internal/intake"
	"github.com/linnemanlabs/intake/internal/triage"
)

type assessment struct {
	a        intake.Assessment
	entryIDs []string // in fan-out order
}

// Store holds intake state in memory. Suitable for dev/testing.
type Store struct {
	mu          sync.RWMutex
	patients    map[string]*intake.Patient
	visits      map[string]*intake.Visit
	assessments map[string]*assessment        // assessment ID -> assessment
	latest      map[string]string             // visit ID -> latest assessment ID
	entries     map[string]*intake.QueueEntry // entry ID -> entry
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		patients:    make(map[string]*intake.Patient),
		visits:      make(map[string]*intake.Visit),
		assessments: make(map[string]*assessment),
		latest:      make(map[string]string),
		entries:     make(map[string]*intake.QueueEntry),
	}
}

var _ intake.Store = (*Store)(nil)

// PutPatient stores a copy of the patient.
func (s *Store) PutPatient(_ context.Context, p *intake.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = copyPatient(p)
	return nil
}

// Patient retrieves a patient by ID. Returns a copy.
func (s *Store) Patient(_ context.Context, id string) (*intake.Patient, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, false, nil
	}
	return copyPatient(p), true, nil
}

// AppendHistory adds history entries to an existing patient.
func (s *Store) AppendHistory(_ context.Context, patientID string, entries []triage.HistoryEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[patientID]
	if !ok {
		return false, nil
	}
	p.MedicalHistory = append(p.MedicalHistory, entries...)
	return true, nil
}

// FindPatients returns up to limit patients matching the name fragment and
// contact info. History is not included.
func (s *Store) FindPatients(_ context.Context, name, contact string, limit int) ([]*intake.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name = strings.ToLower(name)
	out := make([]*intake.Patient, 0)
	for _, p := range s.patients {
		if name != "" && !strings.Contains(strings.ToLower(p.Name), name) {
			continue
		}
		if contact != "" && p.ContactInfo != contact {
			continue
		}
		cp := *p
		cp.MedicalHistory = nil
		out = append(out, &cp)
	}

	slices.SortFunc(out, func(a, b *intake.Patient) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PutVisit stores a copy of the visit.
func (s *Store) PutVisit(_ context.Context, v *intake.Visit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits[v.ID] = copyVisit(v)
	return nil
}

// Visit retrieves a visit by ID. Returns a copy.
func (s *Store) Visit(_ context.Context, id string) (*intake.Visit, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.visits[id]
	if !ok {
		return nil, false, nil
	}
	return copyVisit(v), true, nil
}

// VisitFeatures assembles the engine input for a visit from its patient.
func (s *Store) VisitFeatures(_ context.Context, visitID string) (triage.VisitFeatures, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.visits[visitID]
	if !ok {
		return triage.VisitFeatures{}, false, nil
	}
	var p *intake.Patient
	if pp, ok := s.patients[v.PatientID]; ok {
		p = copyPatient(pp)
	}
	return intake.BuildFeatures(p, copyVisit(v)), true, nil
}

// PutAssessment stores the assessment and replaces the visit's active queue
// entries with the new ones.
func (s *Store) PutAssessment(_ context.Context, a *intake.Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.entries {
		if e.VisitID == a.VisitID {
			delete(s.entries, id)
		}
	}

	stored := &assessment{a: *a}
	stored.a.Entries = nil
	for _, e := range a.Entries {
		cp := *e
		s.entries[e.ID] = &cp
		stored.entryIDs = append(stored.entryIDs, e.ID)
	}
	s.assessments[a.ID] = stored
	s.latest[a.VisitID] = a.ID
	return nil
}

// LatestAssessment returns the most recent assessment of a visit with the
// queue entries still open for it.
func (s *Store) LatestAssessment(_ context.Context, visitID string) (*intake.Assessment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.latest[visitID]
	if !ok {
		return nil, false, nil
	}
	stored := s.assessments[id]
	cp := stored.a
	for _, eid := range stored.entryIDs {
		if e, ok := s.entries[eid]; ok {
			ec := *e
			cp.Entries = append(cp.Entries, &ec)
		}
	}
	return &cp, true, nil
}

// Queue returns open entries for one department, highest priority first,
// then earliest visit arrival first.
func (s *Store) Queue(_ context.Context, dept triage.Department, limit int) ([]intake.QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]intake.QueueItem, 0)
	for _, e := range s.entries {
		if e.Department != dept {
			continue
		}
		item := intake.QueueItem{QueueEntry: *e}
		if v, ok := s.visits[e.VisitID]; ok {
			item.ChiefComplaint = v.ChiefComplaint
			item.ArrivedAt = v.CreatedAt
			if p, ok := s.patients[v.PatientID]; ok {
				item.PatientID = p.ID
				item.PatientName = p.Name
				item.Age = p.Age
			}
		}
		if a, ok := s.assessments[e.AssessmentID]; ok && a.a.Prediction != nil {
			item.RiskLevel = a.a.Prediction.RiskLevel
			item.RiskScore = a.a.Prediction.RiskScore
		}
		items = append(items, item)
	}

	slices.SortFunc(items, func(a, b intake.QueueItem) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		if c := a.ArrivedAt.Compare(b.ArrivedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// UpdateQueueStatus applies a status change. Terminal statuses remove the
// entry and complete the visit.
func (s *Store) UpdateQueueStatus(_ context.Context, entryID string, status intake.QueueStatus, at time.Time) (*intake.QueueEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return nil, false, nil
	}
	e.Status = status
	e.UpdatedAt = at
	cp := *e

	if status.Terminal() {
		delete(s.entries, entryID)
		if v, ok := s.visits[e.VisitID]; ok {
			v.Status = intake.VisitCompleted
			v.CompletedAt = at
		}
	}
	return &cp, true, nil
}

// Stats summarizes patients and visits with open queue entries as of now.
func (s *Store) Stats(_ context.Context, now time.Time) (*intake.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &intake.Stats{TotalPatients: len(s.patients)}

	// visit ID -> assessment holding its active entries
	active := make(map[string]string)
	for _, e := range s.entries {
		if e.Status.Active() {
			active[e.VisitID] = e.AssessmentID
		}
	}

	var waited float64
	var n int
	for visitID, assessmentID := range active {
		st.ActiveVisits++
		if v, ok := s.visits[visitID]; ok {
			waited += max(0, now.Sub(v.CreatedAt).Minutes())
			n++
		}
		a, ok := s.assessments[assessmentID]
		if !ok || a.a.Prediction == nil {
			continue
		}
		switch a.a.Prediction.RiskLevel {
		case triage.RiskHigh:
			st.HighRisk++
		case triage.RiskMedium:
			st.MediumRisk++
		case triage.RiskLow:
			st.LowRisk++
		}
	}
	if n > 0 {
		st.AvgWaitMinutes = math.Round(waited/float64(n)*10) / 10
	}
	return st, nil
}

func copyPatient(p *intake.Patient) *intake.Patient {
	cp := *p
	cp.MedicalHistory = slices.Clone(p.MedicalHistory)
	return &cp
}

func copyVisit(v *intake.Visit) *intake.Visit {
	cp := *v
	if v.Vitals != nil {
		vitals := *v.Vitals
		cp.Vitals = &vitals
	}
	cp.Symptoms = slices.Clone(v.Symptoms)
	return &cp
}
