// Package detect provides the built-in rule detector: a fast regex pass
// over canonical text for structured identifiers (SSN, MRN, phone, email,
// URL, dates, labeled record numbers).
//
// It is one candidate source among several; callers may merge its output
// with candidates from external statistical or learned detectors before
// conflict resolution. Spans are emitted in canonical coordinates and carry
// no text; the pipeline fills snippets in after projection.
package detect

import (
	"regexp"
	"strconv"

	"phi-deidentify/internal/entity"
	"phi-deidentify/internal/logger"
)

// pattern pairs a compiled regex with its category and base confidence.
// When group > 0, only that capture group becomes the candidate span; the
// surrounding label text stays untouched.
type pattern struct {
	re         *regexp.Regexp
	category   entity.Category
	confidence float64
	group      int
}

// Detector is the built-in rule-based candidate source.
// Safe for concurrent use after construction.
type Detector struct {
	patterns []pattern
	log      *logger.Logger
}

// New compiles the built-in pattern set. Patterns that fail to compile are
// skipped with a warning; the detector never fails to construct.
func New(log *logger.Logger) *Detector {
	if log == nil {
		log = logger.New("DETECT", "info")
	}
	d := &Detector{log: log}
	d.compilePatterns()
	return d
}

func (d *Detector) compilePatterns() {
	specs := []struct {
		expr       string
		category   entity.Category
		confidence float64
		group      int
	}{
		// Atomic structured identifiers first; order does not affect
		// resolution but keeps related patterns together.
		{`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`, entity.CategoryEmail, 0.99, 0},
		{`(?i)\bhttps?://[^\s<>"]+`, entity.CategoryURL, 0.95, 0},
		{`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`, entity.CategoryIPAddress, 0.90, 0},
		{`\b\d{3}-\d{2}-\d{4}\b`, entity.CategorySSN, 0.99, 0},
		{`(?i)\bSSN[:#\s]*(\d{3}-?\d{2}-?\d{4})\b`, entity.CategorySSN, 0.99, 1},

		// Labeled record identifiers: the capture group is the value, the
		// label stays in the text.
		{`(?i)\bMRN[:#\s]*([A-Z]?\d{6,10})\b`, entity.CategoryMRN, 0.95, 1},
		{`(?i)\b(?:medical\s+record)\s*(?:no|number|#)?[:#\s]*([A-Z]?\d{6,10})\b`, entity.CategoryMRN, 0.95, 1},
		{`(?i)\bencounter\s*(?:id|no|#)?[:#\s]*([A-Z0-9][A-Z0-9\-]{3,11})\b`, entity.CategoryEncounter, 0.90, 1},
		{`(?i)\bacc(?:oun)?t\.?\s*(?:no|number|#)?[:#\s]*(\d{6,14})\b`, entity.CategoryAccount, 0.90, 1},
		{`(?i)\b(?:member|policy|plan|hicn)\s*(?:id|no|number|#)?[:#\s]*([A-Z0-9]{6,14})\b`, entity.CategoryHealthPlan, 0.85, 1},
		{`(?i)\b(?:lic(?:ense)?|dl)\s*(?:no|number|#)?[:#\s]*([A-Z0-9]{5,12})\b`, entity.CategoryLicense, 0.85, 1},
		{`(?i)\b(?:device|serial)\s*(?:id|no|#)?[:#\s]*([A-Z0-9][A-Z0-9\-]{4,17})\b`, entity.CategoryDeviceID, 0.80, 1},
		{`\b[A-HJ-NPR-Z0-9]{17}\b`, entity.CategoryVehicleID, 0.70, 0},

		// Phone before fax: the fax pattern requires the label and wins
		// overlaps on priority.
		{`(?i)\bfax[:#\s]*((?:\+?1[\-.\s]?)?\(?\d{3}\)?[\-.\s]?\d{3}[\-.\s]?\d{4})\b`, entity.CategoryFax, 0.95, 1},
		{`(?:\+?1[\-.\s]?)?\(?\d{3}\)?[\-.\s]\d{3}[\-.\s]\d{4}\b`, entity.CategoryPhone, 0.85, 0},

		// Dates, numeric and month-name forms.
		{`\b\d{1,2}/\d{1,2}/\d{2,4}\b`, entity.CategoryDate, 0.90, 0},
		{`\b\d{4}-\d{2}-\d{2}\b`, entity.CategoryDate, 0.90, 0},
		{`\b\d{1,2}-\d{1,2}-\d{4}\b`, entity.CategoryDate, 0.85, 0},
		{`(?i)\b(?:Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:tember)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)\.?\s+\d{1,2},?\s+\d{4}\b`, entity.CategoryDate, 0.90, 0},

		// Labeled patient names: First Last or Last, First after a label.
		// Case-insensitivity covers the label only; the captured name
		// keeps its strict Title Case shape so trailing prose like
		// "presents" stays out of the span.
		{`\b(?i:patient|pt)\.?\s*(?i:name)?[:\s]+([A-Z][a-z]+(?:,?\s+[A-Z][a-z]+){1,2})`, entity.CategoryName, 0.90, 1},
		{`\b(?i:name)[:\s]+([A-Z][a-z]+(?:,?\s+[A-Z][a-z]+){1,2})`, entity.CategoryName, 0.85, 1},

		// ZIP: low base confidence, easily confused with other 5-digit runs.
		{`\b\d{5}(?:-\d{4})?\b`, entity.CategoryZIP, 0.60, 0},

		// Long bare digit runs are identifiers of some kind.
		{`\b\d{10,16}\b`, entity.CategoryOtherID, 0.50, 0},
	}
	for _, s := range specs {
		re, err := regexp.Compile(s.expr)
		if err != nil {
			d.log.Warnf("compile_pattern", "could not compile pattern %q: %v", s.expr, err)
			continue
		}
		d.patterns = append(d.patterns, pattern{
			re: re, category: s.category, confidence: s.confidence, group: s.group,
		})
	}
}

// reAge matches a stated age, either with its unit ("94-year-old", "94 yo")
// or after an Age: field label. Only ages of 90 and above are identifying
// under Safe Harbor; younger ages are ignored.
var (
	reAge      = regexp.MustCompile(`(?i)\b(\d{2,3})[\s-]*(?:years?[\s-]old|y/?o\b|yo\b)`)
	reAgeLabel = regexp.MustCompile(`(?i)\bage[:\s]+(\d{2,3})\b`)
)

// Detect scans canonical text and returns rule candidates in canonical
// byte coordinates.
func (d *Detector) Detect(canonical string) []entity.Candidate {
	var out []entity.Candidate
	for _, p := range d.patterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(canonical, -1) {
			start, end := m[0], m[1]
			if p.group > 0 && m[2*p.group] >= 0 {
				start, end = m[2*p.group], m[2*p.group+1]
			}
			out = append(out, entity.Candidate{
				Start:      start,
				End:        end,
				Category:   p.category,
				Confidence: p.confidence,
				Source:     entity.SourceRule,
			})
		}
	}
	out = append(out, d.detectAges(canonical)...)
	d.log.Debugf("rule_scan", "%d rule candidates over %d bytes", len(out), len(canonical))
	return out
}

// detectAges emits AGE_OVER_89 candidates for stated ages of 90 or more.
// For the labeled form only the numeric value becomes the span.
func (d *Detector) detectAges(canonical string) []entity.Candidate {
	var out []entity.Candidate
	for _, m := range reAge.FindAllStringSubmatchIndex(canonical, -1) {
		out = appendAge(out, canonical, m[0], m[1], m[2], m[3])
	}
	for _, m := range reAgeLabel.FindAllStringSubmatchIndex(canonical, -1) {
		out = appendAge(out, canonical, m[2], m[3], m[2], m[3])
	}
	return out
}

func appendAge(out []entity.Candidate, canonical string, start, end, vStart, vEnd int) []entity.Candidate {
	age, err := strconv.Atoi(canonical[vStart:vEnd])
	if err != nil || age < 90 {
		return out
	}
	return append(out, entity.Candidate{
		Start:      start,
		End:        end,
		Category:   entity.CategoryAgeOver89,
		Confidence: 1.0,
		Source:     entity.SourceRule,
	})
}
