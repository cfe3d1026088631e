package transform

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
	"time"

	"phi-deidentify/internal/entity"
	"phi-deidentify/internal/logger"
)

func testRuleBook() RuleBook {
	return RuleBook{
		Rules: map[entity.Category]Action{
			entity.CategoryName:      ActionPseudonym,
			entity.CategoryMRN:       ActionHash,
			entity.CategorySSN:       ActionRedact,
			entity.CategoryEmail:     ActionRedact,
			entity.CategoryDate:      ActionDateShift,
			entity.CategoryZIP:       ActionGeneralize,
			entity.CategoryAgeOver89: ActionGeneralize,
		},
		Templates: map[string]string{
			string(entity.CategoryName): "PATIENT_{code}",
			string(entity.CategoryMRN):  "MRN_{code}",
			DefaultTemplateKey:          "ID_{code}",
		},
		DefaultAction: ActionRedact,
	}
}

func newTestEngine() *Engine {
	log := logger.New("TRANSFORM", "error")
	log.SetOutput(&bytes.Buffer{})
	return NewEngine(testRuleBook(), NewSubjects(nil), "unit-test-salt", log, nil)
}

func res(start, end int, cat entity.Category, text string) entity.Resolved {
	return entity.Resolved{
		Start: start, End: end, Category: cat,
		Confidence: 0.9, Source: entity.SourceRule, Text: text,
	}
}

func TestTransformRedact(t *testing.T) {
	e := newTestEngine()
	in := "SSN is 123-45-6789 on file"
	out, audit := e.Transform(in, []entity.Resolved{
		res(7, 18, entity.CategorySSN, "123-45-6789"),
	}, "")
	if strings.Contains(out, "123-45-6789") {
		t.Fatalf("SSN survived: %q", out)
	}
	if !strings.Contains(out, "[REDACTED:US_SSN]") {
		t.Fatalf("placeholder missing: %q", out)
	}
	if !strings.HasPrefix(out, "SSN is ") || !strings.HasSuffix(out, " on file") {
		t.Errorf("bytes outside span changed: %q", out)
	}
	if len(audit) != 1 || audit[0].Start != 7 || audit[0].End != 18 {
		t.Errorf("audit = %+v", audit)
	}
}

func TestTransformRightToLeftOffsets(t *testing.T) {
	e := newTestEngine()
	in := "A 123-45-6789 B 987-65-4321 C"
	out, _ := e.Transform(in, []entity.Resolved{
		res(2, 13, entity.CategorySSN, ""),
		res(16, 27, entity.CategorySSN, ""),
	}, "")
	want := "A [REDACTED:US_SSN] B [REDACTED:US_SSN] C"
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestTransformPseudonymDeterminism(t *testing.T) {
	e := newTestEngine()
	in := "seen by John Smith today"
	out1, _ := e.Transform(in, []entity.Resolved{res(8, 18, entity.CategoryName, "")}, "subj-1")
	out2, _ := e.Transform(in, []entity.Resolved{res(8, 18, entity.CategoryName, "")}, "subj-1")
	if out1 != out2 {
		t.Fatalf("pseudonym not deterministic: %q vs %q", out1, out2)
	}
	re := regexp.MustCompile(`PATIENT_[0-9a-f]{8}`)
	if !re.MatchString(out1) {
		t.Errorf("rendered pseudonym malformed: %q", out1)
	}
}

func TestTransformNameTokenOrderIndependent(t *testing.T) {
	e := newTestEngine()
	out1, _ := e.Transform("Smith, John", []entity.Resolved{res(0, 11, entity.CategoryName, "")}, "subj-1")
	out2, _ := e.Transform("John Smith", []entity.Resolved{res(0, 10, entity.CategoryName, "")}, "subj-1")
	re := regexp.MustCompile(`PATIENT_([0-9a-f]{8})`)
	c1, c2 := re.FindStringSubmatch(out1), re.FindStringSubmatch(out2)
	if c1 == nil || c2 == nil {
		t.Fatalf("pseudonyms missing: %q / %q", out1, out2)
	}
	if c1[1] != c2[1] {
		t.Errorf("name order changed the code: %s vs %s", c1[1], c2[1])
	}
}

func TestTransformDistinctSubjectsDiverge(t *testing.T) {
	e := newTestEngine()
	out1, _ := e.Transform("John Smith", []entity.Resolved{res(0, 10, entity.CategoryName, "")}, "subj-1")
	out2, _ := e.Transform("John Smith", []entity.Resolved{res(0, 10, entity.CategoryName, "")}, "subj-2")
	if out1 == out2 {
		t.Errorf("different subjects rendered the same pseudonym: %q", out1)
	}
}

func TestTransformShortTextPassthrough(t *testing.T) {
	e := newTestEngine()
	in := "initials JS noted"
	out, _ := e.Transform(in, []entity.Resolved{res(9, 11, entity.CategoryName, "")}, "")
	if out != in {
		t.Errorf("two-byte span should pass through, got %q", out)
	}
}

func TestTransformWhitelistGuard(t *testing.T) {
	e := newTestEngine()
	in := "HIPAA review done"
	out, _ := e.Transform(in, []entity.Resolved{res(0, 5, entity.CategoryName, "")}, "")
	if out != in {
		t.Errorf("whitelisted term transformed: %q", out)
	}
}

func TestTransformGeneralizeZIP(t *testing.T) {
	e := newTestEngine()
	out, _ := e.Transform("ZIP 02138 here", []entity.Resolved{res(4, 9, entity.CategoryZIP, "")}, "")
	if !strings.Contains(out, "021XX") {
		t.Errorf("ZIP not generalized: %q", out)
	}
}

func TestTransformGeneralizeAge(t *testing.T) {
	e := newTestEngine()
	in := "a 94-year-old male"
	out, _ := e.Transform(in, []entity.Resolved{res(2, 13, entity.CategoryAgeOver89, "")}, "")
	if strings.Contains(out, "94") {
		t.Fatalf("age survived: %q", out)
	}
	if !strings.Contains(out, "[AGE:90+]") {
		t.Errorf("age label missing: %q", out)
	}
}

func TestTransformDateShiftDeterminismAndIntervals(t *testing.T) {
	e := newTestEngine()
	in1 := "seen 01/15/1980 ok"
	in2 := "seen 01/20/1980 ok"

	out1a, _ := e.Transform(in1, []entity.Resolved{res(5, 15, entity.CategoryDate, "")}, "subj-9")
	out1b, _ := e.Transform(in1, []entity.Resolved{res(5, 15, entity.CategoryDate, "")}, "subj-9")
	if out1a != out1b {
		t.Fatalf("date shift not deterministic: %q vs %q", out1a, out1b)
	}

	out2, _ := e.Transform(in2, []entity.Resolved{res(5, 15, entity.CategoryDate, "")}, "subj-9")

	d1 := parseShifted(t, out1a)
	d2 := parseShifted(t, out2)
	if gap := d2.Sub(d1); gap != 5*24*time.Hour {
		t.Errorf("5-day interval not preserved: gap = %v", gap)
	}

	orig, _ := time.Parse("01/02/2006", "01/15/1980")
	days := int(d1.Sub(orig).Hours() / 24)
	if days < 30 || days > 90 {
		t.Errorf("shift of %d days outside [30,90]", days)
	}
}

func TestTransformDateShiftWithSubjectCompletes(t *testing.T) {
	// First shift for a subject computes the offset and renders the date
	// in one call; repeats and new dates for the same subject reuse it.
	e := newTestEngine()
	done := make(chan string, 1)
	go func() {
		out, _ := e.Transform("seen 01/15/1980 ok", []entity.Resolved{res(5, 15, entity.CategoryDate, "")}, "subj-3")
		out2, _ := e.Transform("seen 02/10/1980 ok", []entity.Resolved{res(5, 15, entity.CategoryDate, "")}, "subj-3")
		done <- out + "|" + out2
	}()
	select {
	case got := <-done:
		if strings.Contains(got, "01/15/1980") || strings.Contains(got, "02/10/1980") {
			t.Errorf("dates not shifted: %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("subject date shift did not complete")
	}
}

func parseShifted(t *testing.T, out string) time.Time {
	t.Helper()
	m := regexp.MustCompile(`\d{2}/\d{2}/\d{4}`).FindString(out)
	if m == "" {
		t.Fatalf("no shifted date in %q", out)
	}
	d, err := time.Parse("01/02/2006", m)
	if err != nil {
		t.Fatalf("shifted date %q unparseable: %v", m, err)
	}
	return d
}

func TestTransformUnparseableDateUnchanged(t *testing.T) {
	e := newTestEngine()
	in := "follow up next Tuesday please"
	out, _ := e.Transform(in, []entity.Resolved{res(10, 22, entity.CategoryDate, "")}, "subj-1")
	if out != in {
		t.Errorf("unparseable date was altered: %q", out)
	}
}

func TestTransformAtomicExpansion(t *testing.T) {
	e := newTestEngine()
	in := "mail john.doe@example.com now"
	// The span covers only the domain; replacement must take the whole token.
	out, _ := e.Transform(in, []entity.Resolved{res(14, 25, entity.CategoryEmail, "")}, "")
	if strings.Contains(out, "john.doe") {
		t.Fatalf("local part stranded: %q", out)
	}
	if !strings.HasPrefix(out, "mail ") || !strings.HasSuffix(out, " now") {
		t.Errorf("expansion crossed token boundaries: %q", out)
	}
}

func TestTransformAtomicNeighborsInOneToken(t *testing.T) {
	e := newTestEngine()
	// Two atomic spans inside one whitespace token: both expansions cover
	// the full token, and the splice must not cut into the replacement.
	in := "see 123-45-6789/987-65-4321 end"
	out, audit := e.Transform(in, []entity.Resolved{
		res(4, 15, entity.CategorySSN, ""),
		res(16, 27, entity.CategorySSN, ""),
	}, "")
	if want := "see [REDACTED:US_SSN] end"; out != want {
		t.Errorf("got %q, want %q", out, want)
	}
	if len(audit) != 2 {
		t.Errorf("audit length %d, want 2", len(audit))
	}
}

func TestTransformBoundarySafety(t *testing.T) {
	e := newTestEngine()
	in := "aaa 123-45-6789 bbb John Smith ccc"
	ents := []entity.Resolved{
		res(4, 15, entity.CategorySSN, ""),
		res(20, 30, entity.CategoryName, ""),
	}
	out, _ := e.Transform(in, ents, "subj-1")
	for _, frag := range []string{"aaa ", " bbb ", " ccc"} {
		if !strings.Contains(out, frag) {
			t.Errorf("untouched fragment %q missing from %q", frag, out)
		}
	}
}

func TestTransformAuditNeverCarriesText(t *testing.T) {
	e := newTestEngine()
	in := "John Smith 123-45-6789"
	_, audit := e.Transform(in, []entity.Resolved{
		res(0, 10, entity.CategoryName, "John Smith"),
		res(11, 22, entity.CategorySSN, "123-45-6789"),
	}, "subj-1")
	if len(audit) != 2 {
		t.Fatalf("audit length %d, want 2", len(audit))
	}
	if audit[0].Start > audit[1].Start {
		t.Error("audit not sorted by start")
	}
	for _, rec := range audit {
		if rec.Category == "" || rec.Source == "" {
			t.Errorf("audit record incomplete: %+v", rec)
		}
	}
}

func TestTransformAuditConfidenceRounded(t *testing.T) {
	e := newTestEngine()
	ents := []entity.Resolved{{
		Start: 0, End: 11, Category: entity.CategorySSN,
		Confidence: 0.123456, Source: entity.SourceRule,
	}}
	_, audit := e.Transform("123-45-6789", ents, "")
	if audit[0].Confidence != 0.123 {
		t.Errorf("confidence = %v, want 0.123", audit[0].Confidence)
	}
}

func TestNewEngineFallbackSaltWarns(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New("TRANSFORM", "warn")
	log.SetOutput(&buf)
	NewEngine(testRuleBook(), NewSubjects(nil), "", log, nil)
	if !strings.Contains(buf.String(), "fallback") {
		t.Errorf("no fallback salt warning, log: %q", buf.String())
	}
}

func TestTransformUnknownCategoryDefaultsToRedact(t *testing.T) {
	e := newTestEngine()
	out, _ := e.Transform("mystery token", []entity.Resolved{
		res(0, 13, entity.CategoryUnknown, ""),
	}, "")
	if !strings.Contains(out, "[REDACTED:UNKNOWN]") {
		t.Errorf("default action not applied: %q", out)
	}
}
