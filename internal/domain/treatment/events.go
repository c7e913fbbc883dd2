// Package treatment implements the treatment workflow aggregate and its
// domain events.
package treatment

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a workflow domain event.
type EventType string

const (
	EventTreatmentCreated      EventType = "TreatmentCreated"
	EventTreatmentPresented    EventType = "TreatmentPresented"
	EventDecisionApplied       EventType = "DecisionApplied"
	EventTreatmentPrepped      EventType = "TreatmentPrepped"
	EventAnesthesiaRecorded    EventType = "AnesthesiaRecorded"
	EventTreatmentStarted      EventType = "TreatmentStarted"
	EventProceduralNoteAdded   EventType = "ProceduralNoteAdded"
	EventTreatmentCompleted    EventType = "TreatmentCompleted"
	EventPostTreatmentRecorded EventType = "PostTreatmentRecorded"
	EventTreatmentArchived     EventType = "TreatmentArchived"
	EventTreatmentCancelled    EventType = "TreatmentCancelled"
	EventTreatmentReferred     EventType = "TreatmentReferred"
)

// Event is a single workflow domain event.
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Version       int             `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	ActorRole     string          `json:"actor_role,omitempty"`
	ActorID       string          `json:"actor_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a workflow event with a marshaled payload.
func NewEvent(aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: "Treatment",
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// WithActor sets audit fields on the event.
func (e *Event) WithActor(role, id string) *Event {
	e.ActorRole = role
	e.ActorID = id
	return e
}

// TreatmentCreatedData opens a treatment episode for a finalized exam.
type TreatmentCreatedData struct {
	TreatmentID string `json:"treatment_id"`
	ExamID      string `json:"exam_id"`
	PatientID   string `json:"patient_id"`
}

// TreatmentPresentedData records the plan being presented to the patient.
type TreatmentPresentedData struct {
	PresentedBy string    `json:"presented_by"`
	PresentedAt time.Time `json:"presented_at"`
}

// DecisionAppliedData records the routing (or override) decision.
type DecisionAppliedData struct {
	Decision      Decision             `json:"decision"`
	Hold          bool                 `json:"hold,omitempty"`
	NextStatus    Status               `json:"next_status"`
	Authorization *AuthorizationRecord `json:"authorization,omitempty"`
	Source        string               `json:"source"` // "router" or "manual"
}

// TreatmentPreppedData records chair-side preparation.
type TreatmentPreppedData struct {
	PreppedBy string    `json:"prepped_by"`
	PreppedAt time.Time `json:"prepped_at"`
}

// AnesthesiaRecordedData carries the anesthesia record.
type AnesthesiaRecordedData struct {
	Record AnesthesiaRecord `json:"record"`
}

// TreatmentStartedData records the start of the procedure.
type TreatmentStartedData struct {
	StartedBy string    `json:"started_by"`
	StartedAt time.Time `json:"started_at"`
}

// ProceduralNoteAddedData carries one procedural note.
type ProceduralNoteAddedData struct {
	Note ProceduralNote `json:"note"`
}

// TreatmentCompletedData records clinical completion.
type TreatmentCompletedData struct {
	CompletedBy string    `json:"completed_by"`
	CompletedAt time.Time `json:"completed_at"`
}

// PostTreatmentRecordedData carries the post-treatment documentation.
type PostTreatmentRecordedData struct {
	Record PostTreatmentRecord `json:"record"`
}

// TreatmentArchivedData carries the completion summary written at archive time.
type TreatmentArchivedData struct {
	Summary CompletionSummary `json:"summary"`
}

// TreatmentCancelledData records a cancellation.
type TreatmentCancelledData struct {
	Reason      string `json:"reason"`
	CancelledBy string `json:"cancelled_by"`
}

// TreatmentReferredData records a referral out of the clinic.
type TreatmentReferredData struct {
	ReferredTo string `json:"referred_to"`
	Reason     string `json:"reason"`
	ReferredBy string `json:"referred_by"`
}
