package routing_test

import (
	"testing"

	"github.com/brightsmile/careflow/internal/domain/plan"
	"github.com/brightsmile/careflow/internal/domain/treatment"
	"github.com/brightsmile/careflow/internal/notify"
	"github.com/brightsmile/careflow/internal/routing"
)

// TestUrgentExamFlow walks one urgent exam from analysis through routing,
// decision and the cross-role notification.
func TestUrgentExamFlow(t *testing.T) {
	p := &plan.TreatmentPlan{
		Procedures: []plan.Procedure{
			{Code: "D0140", Name: "Limited oral evaluation", EstimatedCost: 0, Priority: plan.PriorityUrgent},
		},
	}

	analysis := plan.Analyze(p)
	if !analysis.HasUrgentFindings {
		t.Fatal("urgent-priority procedure must flag urgent findings")
	}
	if analysis.TotalValue != 0 {
		t.Errorf("total value = %d, want 0 for a zero-cost evaluation", analysis.TotalValue)
	}

	decision := routing.Route(routing.ExamContext{ExamID: "exam-77"}, p, "patient-9")
	if decision.NextStep != routing.StepUrgentScheduling {
		t.Fatalf("next step = %s, want %s", decision.NextStep, routing.StepUrgentScheduling)
	}
	if decision.AssignedTo != routing.AssigneeFrontDesk {
		t.Errorf("assigned to = %s, want %s", decision.AssignedTo, routing.AssigneeFrontDesk)
	}
	if decision.Urgency != routing.UrgencyUrgent {
		t.Errorf("urgency = %s, want %s", decision.Urgency, routing.UrgencyUrgent)
	}
	if decision.NavigationPath != "/checkout/patient-9" {
		t.Errorf("navigation path = %q", decision.NavigationPath)
	}

	wf, err := treatment.New("treat-77", "exam-77", "patient-9")
	if err != nil {
		t.Fatalf("open treatment: %v", err)
	}

	auth := &treatment.AuthorizationRecord{AuthorizedBy: "patient-9", Method: "verbal"}
	if err := wf.ApplyDecision(treatment.DecisionImmediate, auth, false, "router"); err != nil {
		t.Fatalf("apply decision: %v", err)
	}
	if wf.Status() != treatment.StatusApprovedImmediate {
		t.Fatalf("status = %s, want %s", wf.Status(), treatment.StatusApprovedImmediate)
	}

	bus := notify.NewBus(nil)
	var delivered []notify.PatientStatusUpdate
	bus.Subscribe(notify.RoleFrontDesk, notify.ListenerFunc(func(u notify.PatientStatusUpdate) error {
		delivered = append(delivered, u)
		return nil
	}))

	bus.Publish(notify.PatientStatusUpdate{
		AppointmentID:  "appt-77",
		PatientID:      "patient-9",
		PreviousStatus: notify.AppointmentInProgress,
		NewStatus:      notify.AppointmentCompleted,
		UpdatedBy:      notify.Actor{Role: notify.RoleDoctor, ID: "dr-kim"},
	})

	if len(delivered) != 1 {
		t.Fatalf("front-desk deliveries = %d, want 1", len(delivered))
	}
	if delivered[0].NewStatus != notify.AppointmentCompleted {
		t.Errorf("delivered status = %s", delivered[0].NewStatus)
	}
}

// TestRoutineExamFlow checks the cheap two-procedure visit lands on the
// standard checkout lane with a routine notification.
func TestRoutineExamFlow(t *testing.T) {
	p := &plan.TreatmentPlan{
		Procedures: []plan.Procedure{
			{Code: "D1110", Name: "Prophylaxis", EstimatedCost: 500_000},
			{Code: "D0120", Name: "Periodic evaluation", EstimatedCost: 500_000},
		},
	}

	decision := routing.Route(routing.ExamContext{ExamID: "exam-78"}, p, "patient-3")
	if decision.NextStep != routing.StepCheckout {
		t.Fatalf("next step = %s, want %s", decision.NextStep, routing.StepCheckout)
	}

	text := routing.NotificationText(decision, "Sam Field")
	want := "[ROUTINE] Front Desk: Sam Field - routine visit, standard checkout"
	if text != want {
		t.Errorf("notification = %q, want %q", text, want)
	}

	if m := routing.HandlingMinutes(decision.NextStep); m != 5 {
		t.Errorf("handling minutes = %d, want 5", m)
	}
}
