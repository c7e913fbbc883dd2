// Package routing implements the post-exam router. Given the scored
// treatment plan it decides which team handles the patient next and on
// which urgency lane. Decisions are pure and deterministic.
package routing

import (
	"fmt"

	"github.com/brightsmile/careflow/internal/domain/plan"
)

// NextStep is the workflow station the patient is sent to.
type NextStep string

const (
	StepCheckout             NextStep = "checkout"
	StepTreatmentCoordinator NextStep = "treatment-coordinator"
	StepUrgentScheduling     NextStep = "urgent-scheduling"
	StepFrontDesk            NextStep = "front-desk"
)

// Assignee is the team a routed patient is handed to.
type Assignee string

const (
	AssigneeFrontDesk   Assignee = "Front Desk"
	AssigneeCoordinator Assignee = "Treatment Coordinator"
	AssigneeDoctor      Assignee = "Doctor"
)

// Urgency is the response-time lane for the routed patient.
type Urgency string

const (
	UrgencyRoutine Urgency = "routine"
	UrgencyHigh    Urgency = "high"
	UrgencyUrgent  Urgency = "urgent"
)

// Routing thresholds. Hard-coded per the clinic's current policy; there
// is deliberately no configuration surface for them.
const (
	highValueTotal     int64 = 5_000_000
	highProcedureCount       = 3
)

// ExamContext carries exam fields alongside the plan. None of them
// participate in the decision today, but the router accepts them so the
// call sites do not change when they start to.
type ExamContext struct {
	ExamID     string `json:"exam_id"`
	DoctorID   string `json:"doctor_id,omitempty"`
	ChairID    string `json:"chair_id,omitempty"`
	VisitType  string `json:"visit_type,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// Decision is the routing outcome for one completed exam. Consumed
// immediately by the caller; the UI may cache it for display only.
type Decision struct {
	NextStep         NextStep `json:"next_step"`
	AssignedTo       Assignee `json:"assigned_to"`
	Urgency          Urgency  `json:"urgency"`
	Reason           string   `json:"reason"`
	SuggestedActions []string `json:"suggested_actions"`
	NavigationPath   string   `json:"navigation_path"`
}

// Route decides the destination team and urgency lane for a completed
// exam. The branches are evaluated in order and the first match wins;
// that ordering is the tie-break contract, not an optimization. An
// absent plan degrades to the routine branch via the zero analysis.
func Route(exam ExamContext, p *plan.TreatmentPlan, patientID string) Decision {
	analysis := plan.Analyze(p)
	navPath := fmt.Sprintf("/checkout/%s", patientID)

	if analysis.HasUrgentFindings {
		return Decision{
			NextStep:   StepUrgentScheduling,
			AssignedTo: AssigneeFrontDesk,
			Urgency:    UrgencyUrgent,
			Reason:     "urgent clinical needs",
			SuggestedActions: []string{
				"Schedule treatment within 24-48 hours",
				"Call patient today to book the slot",
				"Prioritize in the scheduling queue",
				"Consider same-day treatment if a chair opens",
			},
			NavigationPath: navPath,
		}
	}

	if analysis.TotalValue > highValueTotal || analysis.ProcedureCount > highProcedureCount {
		return Decision{
			NextStep:   StepTreatmentCoordinator,
			AssignedTo: AssigneeCoordinator,
			Urgency:    UrgencyHigh,
			Reason:     "high-value treatment plan requires coordination",
			SuggestedActions: []string{
				"Review the full treatment plan with the patient",
				"Discuss payment options and insurance coverage",
				"Present treatment alternatives where available",
				"Schedule first visit once the plan is accepted",
				"Verify insurance benefits before scheduling",
			},
			NavigationPath: navPath,
		}
	}

	return Decision{
		NextStep:   StepCheckout,
		AssignedTo: AssigneeFrontDesk,
		Urgency:    UrgencyRoutine,
		Reason:     "routine visit, standard checkout",
		SuggestedActions: []string{
			"Process payment for today's visit",
			"Schedule the next recall appointment",
			"Print the visit summary",
			"Collect deposit for planned treatment",
			"Hand over post-exam instructions",
		},
		NavigationPath: navPath,
	}
}

// urgencyMarkers prefix staff notifications so the lane is readable at
// a glance on the front-desk console.
var urgencyMarkers = map[Urgency]string{
	UrgencyUrgent:  "[URGENT]",
	UrgencyHigh:    "[HIGH]",
	UrgencyRoutine: "[ROUTINE]",
}

// NotificationText renders the human-readable staff notification for a
// routing decision.
func NotificationText(d Decision, patientName string) string {
	marker, ok := urgencyMarkers[d.Urgency]
	if !ok {
		marker = urgencyMarkers[UrgencyRoutine]
	}
	return fmt.Sprintf("%s %s: %s - %s", marker, d.AssignedTo, patientName, d.Reason)
}

// HandlingMinutes estimates how long the destination team spends on the
// handed-over patient. Used for staff capacity planning only; it never
// feeds a state transition.
func HandlingMinutes(step NextStep) int {
	switch step {
	case StepUrgentScheduling:
		return 3
	case StepTreatmentCoordinator:
		return 15
	case StepCheckout, StepFrontDesk:
		return 5
	default:
		return 5
	}
}
