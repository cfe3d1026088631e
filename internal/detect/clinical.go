// Package detect — clinical.go
//
// The clinical finder locates measurement spans that must survive
// de-identification untouched: vital signs, lab values, and medication
// doses. Its output feeds the resolver's preservation filter, which drops
// any identifier candidate intersecting these spans.
package detect

import (
	"regexp"

	"phi-deidentify/internal/entity"
)

// clinicalPatterns match measurements, not identifiers. A blood pressure
// like "BP: 142/88" is date-shaped enough to fool a slash-date pattern;
// preserving it beats mis-shifting it.
var clinicalPatterns = []*regexp.Regexp{
	// Vitals
	regexp.MustCompile(`(?i)\bBP:?\s*\d{2,3}/\d{2,3}(?:\s*mmHg)?`),
	regexp.MustCompile(`(?i)\b(?:HR|pulse):?\s*\d{2,3}\b`),
	regexp.MustCompile(`(?i)\bRR:?\s*\d{1,2}\b`),
	regexp.MustCompile(`(?i)\bT(?:emp)?:?\s*\d{2,3}(?:\.\d)?\s*°?[FC]?\b`),
	regexp.MustCompile(`(?i)\b(?:O2|SpO2|SaO2)(?:\s*sat)?:?\s*\d{2,3}\s*%`),

	// Common labs with values
	regexp.MustCompile(`(?i)\b(?:A1c|HbA1c|LDL|HDL|TSH|INR|Cr|BUN|Hgb|Hct|WBC|Plt|K|Na|glucose)\s*[:=]?\s*\d+(?:\.\d+)?\s*%?`),

	// Medication doses and frequencies
	regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s*(?:mg|mcg|g|mL|units?|mEq)(?:\s+(?:PO|IV|SC|IM|daily|BID|TID|QID|QHS|PRN))?\b`),
}

// FindPreserveSpans scans original text for clinical measurements and
// returns preserve spans in original byte coordinates.
func FindPreserveSpans(original string) []entity.Candidate {
	var out []entity.Candidate
	for _, re := range clinicalPatterns {
		for _, m := range re.FindAllStringIndex(original, -1) {
			out = append(out, entity.Candidate{
				Start:      m[0],
				End:        m[1],
				Category:   entity.CategoryClinicalVital,
				Confidence: 1.0,
				Source:     entity.SourcePreserve,
			})
		}
	}
	return out
}
