package plan

import "github.com/brightsmile/careflow/internal/cdt"

// HighValueThreshold is the minor-unit cost at or above which a single
// procedure counts as high value. Tuned per deployment at build time.
const HighValueThreshold int64 = 5_000_000

// complexTotalThreshold is the plan total above which complexity rises.
const complexTotalThreshold int64 = 10_000_000

// complexCountThreshold is the procedure count above which complexity rises.
const complexCountThreshold = 3

// Analysis is the derived score of a treatment plan. It has no identity
// and is recomputed on demand; callers must not persist it as state.
type Analysis struct {
	TotalValue          int64    `json:"total_value"`
	ProcedureCount      int      `json:"procedure_count"`
	HasUrgentFindings   bool     `json:"has_urgent_findings"`
	ComplexityScore     int      `json:"complexity_score"`
	UrgentProcedures    []string `json:"urgent_procedures"`
	HighValueProcedures []string `json:"high_value_procedures"`
}

// Analyze scores a treatment plan. A nil or empty plan yields the zero
// analysis; Analyze never fails. It is pure and safe for concurrent use.
func Analyze(p *TreatmentPlan) Analysis {
	var a Analysis
	if p == nil {
		return a
	}

	for _, proc := range p.Procedures {
		name := proc.Name
		if name == "" {
			name = cdt.DisplayName(proc.Code)
		}

		a.ProcedureCount++
		if proc.EstimatedCost > 0 {
			a.TotalValue += proc.EstimatedCost
		}
		if cdt.IsUrgent(proc.Code) || proc.Priority == PriorityUrgent {
			a.HasUrgentFindings = true
			a.UrgentProcedures = append(a.UrgentProcedures, name)
		}
		if proc.EstimatedCost >= HighValueThreshold {
			a.HighValueProcedures = append(a.HighValueProcedures, name)
		}
	}

	if a.ProcedureCount > complexCountThreshold {
		a.ComplexityScore += 2
	}
	if a.TotalValue > complexTotalThreshold {
		a.ComplexityScore += 3
	}
	if a.HasUrgentFindings {
		a.ComplexityScore += 2
	}
	if len(a.HighValueProcedures) > 0 {
		a.ComplexityScore += 2
	}

	return a
}
