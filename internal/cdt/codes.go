// Package cdt provides a fixed catalog of CDT dental procedure codes
// used by the treatment plan analyzer and the workflow API.
package cdt

// Category groups CDT codes by service class.
type Category string

const (
	CategoryDiagnostic  Category = "diagnostic"
	CategoryPreventive  Category = "preventive"
	CategoryRestorative Category = "restorative"
	CategoryEndodontics Category = "endodontics"
	CategoryProsthetics Category = "prosthetics"
	CategorySurgery     Category = "oral-surgery"
	CategoryUnknown     Category = "unknown"
)

// Commonly charted codes. The set is intentionally fixed; it mirrors the
// clinic's fee schedule, not the full ADA catalog.
const (
	CodePeriodicExam    = "D0120"
	CodeProblemExam     = "D0140" // limited, problem focused (emergency)
	CodeComprehensive   = "D0150"
	CodePanoramicXray   = "D0330"
	CodeProphylaxis     = "D1110"
	CodeAmalgamOneSurf  = "D2140"
	CodeResinOneSurf    = "D2330"
	CodeCrownPorcelain  = "D2740"
	CodeRootCanalAnt    = "D3310"
	CodeRootCanalPre    = "D3320"
	CodeRootCanalMolar  = "D3330"
	CodeDentureComplete = "D5110"
	CodeExtraction      = "D7140" // erupted tooth, simple
	CodeExtractionSurg  = "D7210" // surgical, requires elevation
)

// urgentCodes are the procedures that mandate the urgent routing lane
// regardless of cost. Matching is exact and case-sensitive.
var urgentCodes = map[string]struct{}{
	CodeRootCanalAnt:   {},
	CodeRootCanalPre:   {},
	CodeRootCanalMolar: {},
	CodeExtraction:     {},
	CodeExtractionSurg: {},
	CodeProblemExam:    {},
}

// IsUrgent reports whether the code belongs to the fixed urgent set.
func IsUrgent(code string) bool {
	_, ok := urgentCodes[code]
	return ok
}

var displayNames = map[string]string{
	CodePeriodicExam:    "Periodic oral evaluation",
	CodeProblemExam:     "Limited oral evaluation, problem focused",
	CodeComprehensive:   "Comprehensive oral evaluation",
	CodePanoramicXray:   "Panoramic radiographic image",
	CodeProphylaxis:     "Prophylaxis, adult",
	CodeAmalgamOneSurf:  "Amalgam, one surface",
	CodeResinOneSurf:    "Resin-based composite, one surface, anterior",
	CodeCrownPorcelain:  "Crown, porcelain/ceramic",
	CodeRootCanalAnt:    "Endodontic therapy, anterior tooth",
	CodeRootCanalPre:    "Endodontic therapy, premolar tooth",
	CodeRootCanalMolar:  "Endodontic therapy, molar tooth",
	CodeDentureComplete: "Complete denture, maxillary",
	CodeExtraction:      "Extraction, erupted tooth or exposed root",
	CodeExtractionSurg:  "Extraction, erupted tooth requiring removal of bone",
}

// DisplayName returns the catalog description for a code, or the code
// itself when it is not in the catalog.
func DisplayName(code string) string {
	if name, ok := displayNames[code]; ok {
		return name
	}
	return code
}

// CategoryOf classifies a CDT code by its series prefix.
func CategoryOf(code string) Category {
	if len(code) < 2 || code[0] != 'D' {
		return CategoryUnknown
	}
	switch code[1] {
	case '0':
		return CategoryDiagnostic
	case '1':
		return CategoryPreventive
	case '2':
		return CategoryRestorative
	case '3':
		return CategoryEndodontics
	case '5':
		return CategoryProsthetics
	case '7':
		return CategorySurgery
	default:
		return CategoryUnknown
	}
}
