package treatment

import (
	"encoding/json"
	"time"
)

// Status is the canonical lifecycle state of a treatment episode.
type Status string

const (
	StatusCreated           Status = "created"
	StatusPresented         Status = "presented_to_patient"
	StatusApprovedImmediate Status = "approved_immediate"
	StatusApprovedScheduled Status = "approved_scheduled"
	StatusPrepped           Status = "prepped"
	StatusAnesthesiaApplied Status = "anesthesia_applied"
	StatusInProgress        Status = "in_progress"
	StatusCompleted         Status = "completed"
	StatusArchived          Status = "archived"
	StatusDeferred          Status = "deferred"
	StatusOnHold            Status = "on_hold"
	StatusCancelled         Status = "cancelled"
	StatusReferred          Status = "referred"
)

// IsTerminal reports whether a status has no outgoing transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusArchived, StatusCancelled, StatusReferred:
		return true
	}
	return false
}

// Decision is the patient's (or router's) call on the proposed plan.
type Decision string

const (
	DecisionImmediate Decision = "immediate"
	DecisionSchedule  Decision = "schedule"
	DecisionDefer     Decision = "defer"
)

// AuthorizationRecord documents the patient's treatment authorization.
// Acquired only on entry to an approved status.
type AuthorizationRecord struct {
	AuthorizedBy string    `json:"authorized_by"`
	Method       string    `json:"method"` // verbal, written
	Notes        string    `json:"notes,omitempty"`
	AuthorizedAt time.Time `json:"authorized_at"`
}

// AnesthesiaRecord documents local anesthesia administration.
type AnesthesiaRecord struct {
	Agent          string    `json:"agent"`
	Dose           string    `json:"dose"`
	Site           string    `json:"site,omitempty"`
	AdministeredBy string    `json:"administered_by"`
	AdministeredAt time.Time `json:"administered_at"`
}

// ProceduralNote is one chart entry written during or right after the
// procedure.
type ProceduralNote struct {
	ToothNumber string    `json:"tooth_number,omitempty"`
	Note        string    `json:"note"`
	RecordedBy  string    `json:"recorded_by"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// PostTreatmentRecord documents aftercare instructions and follow-up.
type PostTreatmentRecord struct {
	Instructions string    `json:"instructions"`
	FollowUpDays int       `json:"follow_up_days,omitempty"`
	RecordedBy   string    `json:"recorded_by"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// CompletionSummary closes out the episode immediately before archive.
type CompletionSummary struct {
	Outcome        string    `json:"outcome"`
	ProceduresDone []string  `json:"procedures_done,omitempty"`
	SummarizedBy   string    `json:"summarized_by"`
	SummarizedAt   time.Time `json:"summarized_at"`
}

// Workflow is the treatment workflow aggregate root. One instance per
// treatment episode; callers serialize access per episode.
type Workflow struct {
	id        string
	examID    string
	patientID string
	version   int
	status    Status

	decision      *Decision
	authorization *AuthorizationRecord
	anesthesia    *AnesthesiaRecord
	notes         []ProceduralNote
	postTreatment *PostTreatmentRecord
	completion    *CompletionSummary

	createdAt time.Time
	updatedAt time.Time
	changes   []*Event
}

// New opens a treatment episode for a finalized exam.
func New(id, examID, patientID string) (*Workflow, error) {
	w := &Workflow{
		id:      id,
		status:  StatusCreated,
		changes: make([]*Event, 0),
	}

	event, err := NewEvent(id, EventTreatmentCreated, &TreatmentCreatedData{
		TreatmentID: id,
		ExamID:      examID,
		PatientID:   patientID,
	})
	if err != nil {
		return nil, err
	}

	w.record(event)
	return w, nil
}

// Rehydrate returns an empty aggregate ready for LoadFromHistory.
func Rehydrate(id string) *Workflow {
	return &Workflow{id: id, status: StatusCreated, changes: make([]*Event, 0)}
}

// ID returns the treatment episode ID.
func (w *Workflow) ID() string { return w.id }

// ExamID returns the originating exam ID.
func (w *Workflow) ExamID() string { return w.examID }

// PatientID returns the patient ID.
func (w *Workflow) PatientID() string { return w.patientID }

// Status returns the current lifecycle status.
func (w *Workflow) Status() Status { return w.status }

// Version returns the number of applied events.
func (w *Workflow) Version() int { return w.version }

// Decision returns the applied decision, or empty when none was applied.
func (w *Workflow) Decision() (Decision, bool) {
	if w.decision == nil {
		return "", false
	}
	return *w.decision, true
}

// Authorization returns the authorization record when present.
func (w *Workflow) Authorization() *AuthorizationRecord { return w.authorization }

// Anesthesia returns the anesthesia record when present.
func (w *Workflow) Anesthesia() *AnesthesiaRecord { return w.anesthesia }

// Notes returns the procedural notes recorded so far.
func (w *Workflow) Notes() []ProceduralNote { return w.notes }

// PostTreatment returns the post-treatment record when present.
func (w *Workflow) PostTreatment() *PostTreatmentRecord { return w.postTreatment }

// Completion returns the completion summary when present.
func (w *Workflow) Completion() *CompletionSummary { return w.completion }

// CreatedAt returns the episode creation time. Immutable.
func (w *Workflow) CreatedAt() time.Time { return w.createdAt }

// UpdatedAt returns the time of the last applied event.
func (w *Workflow) UpdatedAt() time.Time { return w.updatedAt }

// Changes returns uncommitted events.
func (w *Workflow) Changes() []*Event { return w.changes }

// ClearChanges clears uncommitted events.
func (w *Workflow) ClearChanges() { w.changes = make([]*Event, 0) }

// Present records the plan being presented to the patient.
func (w *Workflow) Present(presentedBy string) error {
	if err := w.guard(StatusPresented, StatusCreated); err != nil {
		return err
	}
	return w.emit(EventTreatmentPresented, &TreatmentPresentedData{
		PresentedBy: presentedBy,
		PresentedAt: time.Now().UTC(),
	})
}

// ApplyDecision applies the routing decision (or a human override).
// The decision is set exactly once for the life of the episode.
// immediate and schedule require an authorization record and enter the
// matching approved status; defer enters deferred, or on_hold when hold
// is set, and must not carry an authorization.
func (w *Workflow) ApplyDecision(d Decision, auth *AuthorizationRecord, hold bool, source string) error {
	next, ok := decisionTarget(d, hold)
	if !ok {
		return invalidTransition(w.status, w.status, "unknown decision "+string(d))
	}
	if w.status.IsTerminal() {
		return invalidTransition(w.status, next, "no transitions out of a terminal status")
	}
	if w.decision != nil {
		return invalidTransition(w.status, next, "decision is set exactly once")
	}
	if w.status != StatusCreated && w.status != StatusPresented {
		return invalidTransition(w.status, next, "decision applies only before approval")
	}

	switch d {
	case DecisionImmediate, DecisionSchedule:
		if auth == nil {
			return invalidTransition(w.status, next, "approval requires an authorization record")
		}
	case DecisionDefer:
		if auth != nil {
			return invalidTransition(w.status, next, "authorization is acquired only on approval")
		}
	}

	return w.emit(EventDecisionApplied, &DecisionAppliedData{
		Decision:      d,
		Hold:          hold,
		NextStatus:    next,
		Authorization: auth,
		Source:        source,
	})
}

func decisionTarget(d Decision, hold bool) (Status, bool) {
	switch d {
	case DecisionImmediate:
		return StatusApprovedImmediate, true
	case DecisionSchedule:
		return StatusApprovedScheduled, true
	case DecisionDefer:
		if hold {
			return StatusOnHold, true
		}
		return StatusDeferred, true
	default:
		return "", false
	}
}

// Prep records chair-side preparation for an approved treatment.
func (w *Workflow) Prep(preppedBy string) error {
	if err := w.guard(StatusPrepped, StatusApprovedImmediate, StatusApprovedScheduled); err != nil {
		return err
	}
	return w.emit(EventTreatmentPrepped, &TreatmentPreppedData{
		PreppedBy: preppedBy,
		PreppedAt: time.Now().UTC(),
	})
}

// RecordAnesthesia attaches the anesthesia record. Permitted only once
// the episode has reached prepped, before the procedure starts.
func (w *Workflow) RecordAnesthesia(rec AnesthesiaRecord) error {
	if w.anesthesia != nil {
		return invalidTransition(w.status, StatusAnesthesiaApplied, "anesthesia already recorded")
	}
	if err := w.guard(StatusAnesthesiaApplied, StatusPrepped); err != nil {
		return err
	}
	return w.emit(EventAnesthesiaRecorded, &AnesthesiaRecordedData{Record: rec})
}

// Begin starts the procedure. Anesthesia is optional; not every
// procedure needs it.
func (w *Workflow) Begin(startedBy string) error {
	if err := w.guard(StatusInProgress, StatusPrepped, StatusAnesthesiaApplied); err != nil {
		return err
	}
	return w.emit(EventTreatmentStarted, &TreatmentStartedData{
		StartedBy: startedBy,
		StartedAt: time.Now().UTC(),
	})
}

// AddProceduralNote appends a chart note. Permitted while the procedure
// is in progress or right after completion, before archive.
func (w *Workflow) AddProceduralNote(note ProceduralNote) error {
	if w.status != StatusInProgress && w.status != StatusCompleted {
		return invalidTransition(w.status, w.status, "procedural notes require an in-progress or completed treatment")
	}
	return w.emit(EventProceduralNoteAdded, &ProceduralNoteAddedData{Note: note})
}

// Complete marks the procedure clinically done.
func (w *Workflow) Complete(completedBy string) error {
	if err := w.guard(StatusCompleted, StatusInProgress); err != nil {
		return err
	}
	return w.emit(EventTreatmentCompleted, &TreatmentCompletedData{
		CompletedBy: completedBy,
		CompletedAt: time.Now().UTC(),
	})
}

// RecordPostTreatment attaches aftercare documentation. Permitted only
// after completion and before archive.
func (w *Workflow) RecordPostTreatment(rec PostTreatmentRecord) error {
	if w.status != StatusCompleted {
		return invalidTransition(w.status, w.status, "post-treatment documentation requires a completed treatment")
	}
	return w.emit(EventPostTreatmentRecorded, &PostTreatmentRecordedData{Record: rec})
}

// Archive closes the episode. The completion summary is written here
// and nowhere else.
func (w *Workflow) Archive(summary CompletionSummary) error {
	if err := w.guard(StatusArchived, StatusCompleted); err != nil {
		return err
	}
	return w.emit(EventTreatmentArchived, &TreatmentArchivedData{Summary: summary})
}

// Cancel terminates the episode from any non-terminal status.
func (w *Workflow) Cancel(reason, cancelledBy string) error {
	if w.status.IsTerminal() {
		return invalidTransition(w.status, StatusCancelled, "no transitions out of a terminal status")
	}
	return w.emit(EventTreatmentCancelled, &TreatmentCancelledData{
		Reason:      reason,
		CancelledBy: cancelledBy,
	})
}

// Refer hands the episode to an external provider from any non-terminal
// status.
func (w *Workflow) Refer(referredTo, reason, referredBy string) error {
	if w.status.IsTerminal() {
		return invalidTransition(w.status, StatusReferred, "no transitions out of a terminal status")
	}
	return w.emit(EventTreatmentReferred, &TreatmentReferredData{
		ReferredTo: referredTo,
		Reason:     reason,
		ReferredBy: referredBy,
	})
}

// guard validates a transition into next from one of the allowed
// statuses, with the terminal check applied first.
func (w *Workflow) guard(next Status, allowed ...Status) error {
	if w.status.IsTerminal() {
		return invalidTransition(w.status, next, "no transitions out of a terminal status")
	}
	for _, s := range allowed {
		if w.status == s {
			return nil
		}
	}
	return invalidTransition(w.status, next, "status "+string(w.status)+" does not permit this transition")
}

// emit creates, applies and stages an event.
func (w *Workflow) emit(eventType EventType, data interface{}) error {
	event, err := NewEvent(w.id, eventType, data)
	if err != nil {
		return err
	}
	w.record(event)
	return nil
}

func (w *Workflow) record(event *Event) {
	w.apply(event)
	w.changes = append(w.changes, event)
}

// apply advances aggregate state for one event.
func (w *Workflow) apply(event *Event) {
	w.version++
	w.updatedAt = event.Timestamp

	switch event.EventType {
	case EventTreatmentCreated:
		var data TreatmentCreatedData
		if json.Unmarshal(event.EventData, &data) != nil {
			return
		}
		w.status = StatusCreated
		w.examID = data.ExamID
		w.patientID = data.PatientID
		w.createdAt = event.Timestamp

	case EventTreatmentPresented:
		w.status = StatusPresented

	case EventDecisionApplied:
		var data DecisionAppliedData
		if json.Unmarshal(event.EventData, &data) != nil {
			return
		}
		d := data.Decision
		w.decision = &d
		w.status = data.NextStatus
		w.authorization = data.Authorization

	case EventTreatmentPrepped:
		w.status = StatusPrepped

	case EventAnesthesiaRecorded:
		var data AnesthesiaRecordedData
		if json.Unmarshal(event.EventData, &data) != nil {
			return
		}
		w.status = StatusAnesthesiaApplied
		w.anesthesia = &data.Record

	case EventTreatmentStarted:
		w.status = StatusInProgress

	case EventProceduralNoteAdded:
		var data ProceduralNoteAddedData
		if json.Unmarshal(event.EventData, &data) != nil {
			return
		}
		w.notes = append(w.notes, data.Note)

	case EventTreatmentCompleted:
		w.status = StatusCompleted

	case EventPostTreatmentRecorded:
		var data PostTreatmentRecordedData
		if json.Unmarshal(event.EventData, &data) != nil {
			return
		}
		w.postTreatment = &data.Record

	case EventTreatmentArchived:
		var data TreatmentArchivedData
		if json.Unmarshal(event.EventData, &data) != nil {
			return
		}
		w.status = StatusArchived
		w.completion = &data.Summary

	case EventTreatmentCancelled:
		w.status = StatusCancelled

	case EventTreatmentReferred:
		w.status = StatusReferred
	}
}

// LoadFromHistory rebuilds aggregate state from stored events.
func (w *Workflow) LoadFromHistory(events []*Event) {
	for _, event := range events {
		w.apply(event)
	}
}
