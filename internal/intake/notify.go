package intake

import (
	"context"
	"time"

	"github.com/linnemanlabs/intake/internal/triage"
)

// EventKind identifies what changed.
type EventKind string

const (
	EventAssessed     EventKind = "assessed"
	EventQueueUpdated EventKind = "queue_updated"
)

// Event is dispatched to notifiers after a state change has been persisted.
type Event struct {
	Kind           EventKind     `json:"kind"`
	At             time.Time     `json:"at"`
	VisitID        string        `json:"visit_id"`
	ChiefComplaint string        `json:"chief_complaint,omitempty"`
	Assessment     *Assessment   `json:"assessment,omitempty"`
	Entries        []*QueueEntry `json:"entries,omitempty"`
}

// RiskLevel returns the assessed risk level, or "" for queue events.
func (e *Event) RiskLevel() triage.RiskLevel {
	if e.Assessment == nil || e.Assessment.Prediction == nil {
		return ""
	}
	return e.Assessment.Prediction.RiskLevel
}

// Notifier receives events. Send is called from a background goroutine and
// must be safe for concurrent use.
type Notifier interface {
	Name() string
	Send(ctx context.Context, ev *Event) error
}
