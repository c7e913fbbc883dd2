// Package plan defines treatment plan value types and the plan analyzer.
package plan

// Priority tags a procedure as routine or urgent on the chart.
type Priority string

const (
	PriorityRoutine Priority = "routine"
	PriorityUrgent  Priority = "urgent"
)

// Procedure is a single billable clinical action on a treatment plan.
// EstimatedCost is in minor currency units; a missing cost unmarshals
// to zero and is treated as zero everywhere.
type Procedure struct {
	Code            string   `json:"code"`
	Name            string   `json:"name"`
	EstimatedCost   int64    `json:"estimated_cost"`
	Priority        Priority `json:"priority,omitempty"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
}

// TreatmentPlan is the ordered list of procedures proposed at an exam.
// Immutable once the exam is finalized; the analyzer never mutates it.
type TreatmentPlan struct {
	Procedures []Procedure `json:"procedures"`
}
