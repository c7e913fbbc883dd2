package treatment

import (
	"errors"
	"testing"
	"time"
)

func newTestWorkflow(t *testing.T) *Workflow {
	t.Helper()
	w, err := New("tx-1", "exam-1", "patient-1")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return w
}

func approve(t *testing.T, w *Workflow, d Decision) {
	t.Helper()
	auth := &AuthorizationRecord{AuthorizedBy: "patient-1", Method: "verbal", AuthorizedAt: time.Now().UTC()}
	if err := w.ApplyDecision(d, auth, false, "manual"); err != nil {
		t.Fatalf("ApplyDecision(%s) failed: %v", d, err)
	}
}

func TestNewWorkflow(t *testing.T) {
	w := newTestWorkflow(t)

	if w.Status() != StatusCreated {
		t.Errorf("status = %s, want created", w.Status())
	}
	if w.ExamID() != "exam-1" || w.PatientID() != "patient-1" {
		t.Errorf("identity not applied: %s/%s", w.ExamID(), w.PatientID())
	}
	if len(w.Changes()) != 1 {
		t.Errorf("expected 1 uncommitted event, got %d", len(w.Changes()))
	}
	if w.CreatedAt().IsZero() || w.UpdatedAt().IsZero() {
		t.Error("timestamps not set")
	}
}

func TestDecisionImmediate(t *testing.T) {
	w := newTestWorkflow(t)
	approve(t, w, DecisionImmediate)

	if w.Status() != StatusApprovedImmediate {
		t.Errorf("status = %s, want approved_immediate", w.Status())
	}
	if d, ok := w.Decision(); !ok || d != DecisionImmediate {
		t.Errorf("decision = %q/%v, want immediate", d, ok)
	}
	if w.Authorization() == nil {
		t.Error("authorization record should be attached on approval")
	}
}

func TestDecisionScheduleAfterPresentation(t *testing.T) {
	w := newTestWorkflow(t)
	if err := w.Present("dr-lee"); err != nil {
		t.Fatalf("Present failed: %v", err)
	}
	approve(t, w, DecisionSchedule)

	if w.Status() != StatusApprovedScheduled {
		t.Errorf("status = %s, want approved_scheduled", w.Status())
	}
}

func TestDecisionDeferBranches(t *testing.T) {
	w := newTestWorkflow(t)
	if err := w.ApplyDecision(DecisionDefer, nil, false, "manual"); err != nil {
		t.Fatalf("defer failed: %v", err)
	}
	if w.Status() != StatusDeferred {
		t.Errorf("status = %s, want deferred", w.Status())
	}

	h := newTestWorkflow(t)
	if err := h.ApplyDecision(DecisionDefer, nil, true, "manual"); err != nil {
		t.Fatalf("defer-hold failed: %v", err)
	}
	if h.Status() != StatusOnHold {
		t.Errorf("status = %s, want on_hold", h.Status())
	}
}

func TestDecisionSetExactlyOnce(t *testing.T) {
	w := newTestWorkflow(t)
	approve(t, w, DecisionImmediate)

	err := w.ApplyDecision(DecisionDefer, nil, false, "manual")
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if ite.Invariant != "decision is set exactly once" {
		t.Errorf("unexpected invariant: %q", ite.Invariant)
	}
}

func TestApprovalRequiresAuthorization(t *testing.T) {
	w := newTestWorkflow(t)
	if err := w.ApplyDecision(DecisionImmediate, nil, false, "router"); err == nil {
		t.Fatal("approval without authorization should fail")
	}
	if w.Status() != StatusCreated {
		t.Errorf("rejected transition must not change state, got %s", w.Status())
	}
}

func TestDeferRejectsAuthorization(t *testing.T) {
	w := newTestWorkflow(t)
	auth := &AuthorizationRecord{AuthorizedBy: "p", Method: "verbal"}
	if err := w.ApplyDecision(DecisionDefer, auth, false, "manual"); err == nil {
		t.Fatal("defer with authorization record should fail")
	}
}

func TestAnesthesiaBeforePrepRejected(t *testing.T) {
	w := newTestWorkflow(t)

	err := w.RecordAnesthesia(AnesthesiaRecord{Agent: "lidocaine", Dose: "2%"})
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if ite.Current != StatusCreated {
		t.Errorf("error should name current status, got %s", ite.Current)
	}
	if w.Anesthesia() != nil {
		t.Error("anesthesia record must not be set on rejection")
	}
}

func TestAnesthesiaAfterPrep(t *testing.T) {
	w := newTestWorkflow(t)
	approve(t, w, DecisionImmediate)
	if err := w.Prep("asst-kim"); err != nil {
		t.Fatalf("Prep failed: %v", err)
	}

	if err := w.RecordAnesthesia(AnesthesiaRecord{Agent: "lidocaine", Dose: "2%", AdministeredBy: "dr-lee"}); err != nil {
		t.Fatalf("RecordAnesthesia failed: %v", err)
	}
	if w.Status() != StatusAnesthesiaApplied {
		t.Errorf("status = %s, want anesthesia_applied", w.Status())
	}
	if w.Anesthesia() == nil || w.Anesthesia().Agent != "lidocaine" {
		t.Errorf("anesthesia record not applied: %+v", w.Anesthesia())
	}

	// A second record is rejected; the stage is documented once.
	if err := w.RecordAnesthesia(AnesthesiaRecord{Agent: "articaine", Dose: "4%"}); err == nil {
		t.Error("second anesthesia record should fail")
	}
}

func TestBeginWithoutAnesthesia(t *testing.T) {
	w := newTestWorkflow(t)
	approve(t, w, DecisionImmediate)
	if err := w.Prep("asst-kim"); err != nil {
		t.Fatalf("Prep failed: %v", err)
	}
	if err := w.Begin("dr-lee"); err != nil {
		t.Fatalf("Begin from prepped failed: %v", err)
	}
	if w.Status() != StatusInProgress {
		t.Errorf("status = %s, want in_progress", w.Status())
	}
}

func TestProceduralNotesWindow(t *testing.T) {
	w := newTestWorkflow(t)
	note := ProceduralNote{Note: "distal caries removed", RecordedBy: "dr-lee"}

	if err := w.AddProceduralNote(note); err == nil {
		t.Error("notes before in_progress should fail")
	}

	approve(t, w, DecisionImmediate)
	w.Prep("asst-kim")
	w.Begin("dr-lee")
	if err := w.AddProceduralNote(note); err != nil {
		t.Errorf("note while in progress failed: %v", err)
	}

	w.Complete("dr-lee")
	if err := w.AddProceduralNote(note); err != nil {
		t.Errorf("note after completion failed: %v", err)
	}
	if len(w.Notes()) != 2 {
		t.Errorf("expected 2 notes, got %d", len(w.Notes()))
	}
}

func TestPostTreatmentWindow(t *testing.T) {
	w := newTestWorkflow(t)
	rec := PostTreatmentRecord{Instructions: "soft food 24h", RecordedBy: "asst-kim"}

	if err := w.RecordPostTreatment(rec); err == nil {
		t.Error("post-treatment before completion should fail")
	}

	approve(t, w, DecisionImmediate)
	w.Prep("asst-kim")
	w.Begin("dr-lee")
	w.Complete("dr-lee")

	if err := w.RecordPostTreatment(rec); err != nil {
		t.Fatalf("post-treatment after completion failed: %v", err)
	}
	if w.Status() != StatusCompleted {
		t.Errorf("post-treatment must not change status, got %s", w.Status())
	}
}

func TestArchiveSetsCompletionSummary(t *testing.T) {
	w := newTestWorkflow(t)
	approve(t, w, DecisionImmediate)
	w.Prep("asst-kim")
	w.Begin("dr-lee")
	w.Complete("dr-lee")

	summary := CompletionSummary{Outcome: "restoration placed", SummarizedBy: "dr-lee"}
	if err := w.Archive(summary); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if w.Status() != StatusArchived {
		t.Errorf("status = %s, want archived", w.Status())
	}
	if w.Completion() == nil || w.Completion().Outcome != "restoration placed" {
		t.Errorf("completion summary not applied: %+v", w.Completion())
	}
}

func TestArchiveBeforeCompletionRejected(t *testing.T) {
	w := newTestWorkflow(t)
	approve(t, w, DecisionImmediate)
	if err := w.Archive(CompletionSummary{Outcome: "x"}); err == nil {
		t.Error("archive before completion should fail")
	}
}

func TestTerminalStatesRejectEverything(t *testing.T) {
	terminals := map[string]func(t *testing.T) *Workflow{
		"cancelled": func(t *testing.T) *Workflow {
			w := newTestWorkflow(t)
			if err := w.Cancel("patient declined", "fd-ana"); err != nil {
				t.Fatalf("Cancel failed: %v", err)
			}
			return w
		},
		"referred": func(t *testing.T) *Workflow {
			w := newTestWorkflow(t)
			if err := w.Refer("oral surgery center", "impacted molar", "dr-lee"); err != nil {
				t.Fatalf("Refer failed: %v", err)
			}
			return w
		},
		"archived": func(t *testing.T) *Workflow {
			w := newTestWorkflow(t)
			approve(t, w, DecisionImmediate)
			w.Prep("a")
			w.Begin("d")
			w.Complete("d")
			if err := w.Archive(CompletionSummary{Outcome: "done"}); err != nil {
				t.Fatalf("Archive failed: %v", err)
			}
			return w
		},
	}

	for name, build := range terminals {
		t.Run(name, func(t *testing.T) {
			w := build(t)

			attempts := []error{
				w.Present("x"),
				w.Prep("x"),
				w.RecordAnesthesia(AnesthesiaRecord{Agent: "a", Dose: "1"}),
				w.Begin("x"),
				w.Complete("x"),
				w.Archive(CompletionSummary{Outcome: "x"}),
				w.Cancel("x", "x"),
				w.Refer("x", "x", "x"),
			}
			for i, err := range attempts {
				if err == nil {
					t.Errorf("attempt %d out of terminal status %s succeeded", i, name)
				}
			}
		})
	}
}

func TestCancelFromMidLifecycle(t *testing.T) {
	w := newTestWorkflow(t)
	approve(t, w, DecisionImmediate)
	w.Prep("asst-kim")

	if err := w.Cancel("patient left", "fd-ana"); err != nil {
		t.Fatalf("Cancel from prepped failed: %v", err)
	}
	if w.Status() != StatusCancelled {
		t.Errorf("status = %s, want cancelled", w.Status())
	}
}

func TestUpdatedAtAdvances(t *testing.T) {
	w := newTestWorkflow(t)
	created := w.CreatedAt()

	time.Sleep(2 * time.Millisecond)
	approve(t, w, DecisionImmediate)

	if !w.UpdatedAt().After(created) {
		t.Error("updatedAt should advance on transition")
	}
	if !w.CreatedAt().Equal(created) {
		t.Error("createdAt must be immutable")
	}
}

func TestLoadFromHistory(t *testing.T) {
	w := newTestWorkflow(t)
	approve(t, w, DecisionSchedule)
	w.Prep("asst-kim")
	w.RecordAnesthesia(AnesthesiaRecord{Agent: "lidocaine", Dose: "2%"})
	w.Begin("dr-lee")

	replayed := Rehydrate(w.ID())
	replayed.LoadFromHistory(w.Changes())

	if replayed.Status() != w.Status() {
		t.Errorf("replayed status = %s, want %s", replayed.Status(), w.Status())
	}
	if replayed.Version() != w.Version() {
		t.Errorf("replayed version = %d, want %d", replayed.Version(), w.Version())
	}
	if d, ok := replayed.Decision(); !ok || d != DecisionSchedule {
		t.Errorf("replayed decision = %q/%v", d, ok)
	}
	if replayed.Anesthesia() == nil {
		t.Error("replayed anesthesia record missing")
	}
	if replayed.ExamID() != "exam-1" || replayed.PatientID() != "patient-1" {
		t.Error("replayed identity missing")
	}
}
