package intake

import (
	"context"
	"time"

	"github.com/linnemanlabs/intake/internal/triage"
)

const (
	// QueueLimit caps the number of entries returned for one department queue.
	QueueLimit = 50
	// LookupLimit caps the number of patients returned by a search.
	LookupLimit = 5
)

// Store is the persistence interface for patients, visits, assessments and
// department queues.
type Store interface {
	PutPatient(ctx context.Context, p *Patient) error
	Patient(ctx context.Context, id string) (*Patient, bool, error)
	// AppendHistory adds history entries to a patient. It returns false when
	// the patient does not exist.
	AppendHistory(ctx context.Context, patientID string, entries []triage.HistoryEntry) (bool, error)
	// FindPatients searches by case-insensitive partial name and exact
	// contact info. Empty criteria are ignored; set ones must all match.
	// Results are ordered by name then ID and carry no medical history.
	FindPatients(ctx context.Context, name, contact string, limit int) ([]*Patient, error)

	PutVisit(ctx context.Context, v *Visit) error
	Visit(ctx context.Context, id string) (*Visit, bool, error)
	// VisitFeatures returns the engine input for a visit, or false when the
	// visit does not exist.
	VisitFeatures(ctx context.Context, visitID string) (triage.VisitFeatures, bool, error)

	// PutAssessment stores the assessment and its queue entries in one
	// transaction. Active entries from earlier assessments of the same visit
	// are replaced.
	PutAssessment(ctx context.Context, a *Assessment) error
	LatestAssessment(ctx context.Context, visitID string) (*Assessment, bool, error)

	// Queue returns active entries for one department, highest priority
	// first, then earliest visit arrival first. Re-assessing a visit does not
	// move it behind patients who arrived later.
	Queue(ctx context.Context, dept triage.Department, limit int) ([]QueueItem, error)
	// UpdateQueueStatus applies a status change. Terminal statuses delete the
	// entry and mark the visit completed. It returns false when the entry
	// does not exist.
	UpdateQueueStatus(ctx context.Context, entryID string, status QueueStatus, at time.Time) (*QueueEntry, bool, error)

	// Stats counts each visit with pending or treating entries once. Wait
	// is measured from the visit's arrival.
	Stats(ctx context.Context, now time.Time) (*Stats, error)
}
