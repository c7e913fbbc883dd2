package routing

import (
	"reflect"
	"strings"
	"testing"

	"github.com/brightsmile/careflow/internal/domain/plan"
)

func TestRouteAbsentPlan(t *testing.T) {
	d := Route(ExamContext{ExamID: "exam-1"}, nil, "patient-1")

	if d.NextStep != StepCheckout {
		t.Errorf("next step = %s, want %s", d.NextStep, StepCheckout)
	}
	if d.AssignedTo != AssigneeFrontDesk {
		t.Errorf("assigned to = %s, want %s", d.AssignedTo, AssigneeFrontDesk)
	}
	if d.Urgency != UrgencyRoutine {
		t.Errorf("urgency = %s, want %s", d.Urgency, UrgencyRoutine)
	}
	if len(d.SuggestedActions) != 5 {
		t.Errorf("expected 5 routine actions, got %d", len(d.SuggestedActions))
	}
}

func TestRouteUrgentWinsRegardlessOfValue(t *testing.T) {
	p := &plan.TreatmentPlan{Procedures: []plan.Procedure{
		{Code: "D7140", Name: "Extraction", EstimatedCost: 200_000},
	}}

	d := Route(ExamContext{}, p, "patient-2")
	if d.Urgency != UrgencyUrgent {
		t.Errorf("urgency = %s, want urgent", d.Urgency)
	}
	if d.NextStep != StepUrgentScheduling || d.AssignedTo != AssigneeFrontDesk {
		t.Errorf("unexpected destination %s/%s", d.NextStep, d.AssignedTo)
	}
	if d.Reason != "urgent clinical needs" {
		t.Errorf("unexpected reason %q", d.Reason)
	}
	if len(d.SuggestedActions) != 4 {
		t.Errorf("expected 4 urgent actions, got %d", len(d.SuggestedActions))
	}
}

func TestRouteUrgentPriorityTag(t *testing.T) {
	p := &plan.TreatmentPlan{Procedures: []plan.Procedure{
		{Code: "D1110", Name: "Cleaning", Priority: plan.PriorityUrgent},
	}}
	if d := Route(ExamContext{}, p, "p"); d.Urgency != UrgencyUrgent {
		t.Errorf("urgency = %s, want urgent", d.Urgency)
	}
}

func TestRouteHighValue(t *testing.T) {
	p := &plan.TreatmentPlan{Procedures: []plan.Procedure{
		{Code: "D2740", Name: "Crown", EstimatedCost: 6_000_000},
	}}

	d := Route(ExamContext{}, p, "patient-3")
	if d.Urgency != UrgencyHigh {
		t.Errorf("urgency = %s, want high", d.Urgency)
	}
	if d.NextStep != StepTreatmentCoordinator || d.AssignedTo != AssigneeCoordinator {
		t.Errorf("unexpected destination %s/%s", d.NextStep, d.AssignedTo)
	}
	if len(d.SuggestedActions) != 5 {
		t.Errorf("expected 5 coordinator actions, got %d", len(d.SuggestedActions))
	}
}

func TestRouteHighCount(t *testing.T) {
	p := &plan.TreatmentPlan{Procedures: []plan.Procedure{
		{Code: "D1110", Name: "a", EstimatedCost: 100},
		{Code: "D2330", Name: "b", EstimatedCost: 100},
		{Code: "D2330", Name: "c", EstimatedCost: 100},
		{Code: "D2330", Name: "d", EstimatedCost: 100},
	}}
	if d := Route(ExamContext{}, p, "p"); d.NextStep != StepTreatmentCoordinator {
		t.Errorf("four procedures should route to coordinator, got %s", d.NextStep)
	}
}

func TestRouteRoutine(t *testing.T) {
	p := &plan.TreatmentPlan{Procedures: []plan.Procedure{
		{Code: "D1110", Name: "Cleaning", EstimatedCost: 500_000},
		{Code: "D2330", Name: "Filling", EstimatedCost: 500_000},
	}}

	d := Route(ExamContext{}, p, "patient-4")
	if d.Urgency != UrgencyRoutine || d.NextStep != StepCheckout {
		t.Errorf("got %s/%s, want routine/checkout", d.Urgency, d.NextStep)
	}
}

func TestRouteNavigationPathConverges(t *testing.T) {
	urgent := &plan.TreatmentPlan{Procedures: []plan.Procedure{{Code: "D7140", Name: "x"}}}
	high := &plan.TreatmentPlan{Procedures: []plan.Procedure{{Code: "D2740", Name: "y", EstimatedCost: 9_000_000}}}

	for _, p := range []*plan.TreatmentPlan{nil, urgent, high} {
		d := Route(ExamContext{}, p, "patient-77")
		if d.NavigationPath != "/checkout/patient-77" {
			t.Errorf("navigation path = %q, want /checkout/patient-77", d.NavigationPath)
		}
	}
}

func TestRouteDeterministic(t *testing.T) {
	p := &plan.TreatmentPlan{Procedures: []plan.Procedure{
		{Code: "D3330", Name: "Root canal", EstimatedCost: 7_000_000},
	}}
	first := Route(ExamContext{ExamID: "e"}, p, "p")
	second := Route(ExamContext{ExamID: "e"}, p, "p")
	if !reflect.DeepEqual(first, second) {
		t.Errorf("routing not deterministic: %+v vs %+v", first, second)
	}
}

func TestNotificationText(t *testing.T) {
	d := Decision{AssignedTo: AssigneeFrontDesk, Urgency: UrgencyUrgent, Reason: "urgent clinical needs"}

	got := NotificationText(d, "Jane Roe")
	want := "[URGENT] Front Desk: Jane Roe - urgent clinical needs"
	if got != want {
		t.Errorf("notification = %q, want %q", got, want)
	}

	if !strings.HasPrefix(NotificationText(Decision{Urgency: Urgency("bogus")}, "x"), "[ROUTINE]") {
		t.Error("unknown urgency should fall back to routine marker")
	}
}

func TestHandlingMinutes(t *testing.T) {
	tests := []struct {
		step NextStep
		want int
	}{
		{StepUrgentScheduling, 3},
		{StepTreatmentCoordinator, 15},
		{StepCheckout, 5},
		{StepFrontDesk, 5},
		{NextStep("unknown"), 5},
	}
	for _, tt := range tests {
		if got := HandlingMinutes(tt.step); got != tt.want {
			t.Errorf("HandlingMinutes(%s) = %d, want %d", tt.step, got, tt.want)
		}
	}
}
