package resolver

import (
	"testing"

	"phi-deidentify/internal/entity"
)

func cand(start, end int, cat entity.Category, conf float64, src entity.Source) entity.Candidate {
	return entity.Candidate{Start: start, End: end, Category: cat, Confidence: conf, Source: src}
}

func assertNonOverlapping(t *testing.T, got []entity.Resolved) {
	t.Helper()
	for i := 1; i < len(got); i++ {
		if got[i].Start < got[i-1].End {
			t.Fatalf("overlap between [%d,%d) and [%d,%d)",
				got[i-1].Start, got[i-1].End, got[i].Start, got[i].End)
		}
		if got[i].Start < got[i-1].Start {
			t.Fatalf("output not sorted by start at index %d", i)
		}
	}
}

func TestResolveDisjointPassThrough(t *testing.T) {
	r := New(nil)
	got := r.Resolve([]entity.Candidate{
		cand(10, 20, entity.CategoryName, 0.9, entity.SourceStatistical),
		cand(30, 40, entity.CategoryDate, 0.9, entity.SourceRule),
	}, nil, 100)
	if len(got) != 2 {
		t.Fatalf("got %d entities, want 2", len(got))
	}
	assertNonOverlapping(t, got)
}

func TestResolveDropsMalformed(t *testing.T) {
	r := New(nil)
	got := r.Resolve([]entity.Candidate{
		cand(20, 10, entity.CategoryName, 0.9, entity.SourceRule),  // inverted
		cand(-5, 10, entity.CategoryName, 0.9, entity.SourceRule),  // negative
		cand(90, 110, entity.CategoryName, 0.9, entity.SourceRule), // past end
		cand(5, 5, entity.CategoryName, 0.9, entity.SourceRule),    // empty
		cand(0, 10, entity.CategoryDate, 0.9, entity.SourceRule),
	}, nil, 100)
	if len(got) != 1 || got[0].Category != entity.CategoryDate {
		t.Fatalf("malformed candidates not dropped: %+v", got)
	}
}

func TestResolvePreservationWins(t *testing.T) {
	r := New(nil)
	preserve := []entity.Candidate{
		cand(10, 25, entity.CategoryClinicalVital, 1.0, entity.SourcePreserve),
	}
	got := r.Resolve([]entity.Candidate{
		// Fully inside the preserve span, maximum confidence: still dropped.
		cand(12, 20, entity.CategoryDate, 1.0, entity.SourceRule),
		// Partial intersection: also dropped.
		cand(20, 30, entity.CategoryDate, 1.0, entity.SourceRule),
		// Clear of the preserve span: kept.
		cand(40, 50, entity.CategoryDate, 0.5, entity.SourceRule),
	}, preserve, 100)
	if len(got) != 1 || got[0].Start != 40 {
		t.Fatalf("preservation filter wrong: %+v", got)
	}
}

func TestResolveContainmentKeepsContainer(t *testing.T) {
	r := New(nil)
	// The nested span has worse priority than its container and must be
	// swallowed by it.
	got := r.Resolve([]entity.Candidate{
		cand(0, 30, entity.CategoryEmail, 0.9, entity.SourceRule),
		cand(10, 20, entity.CategoryName, 0.95, entity.SourceStatistical),
	}, nil, 100)
	if len(got) != 1 {
		t.Fatalf("got %d entities, want 1", len(got))
	}
	if got[0].Category != entity.CategoryEmail || got[0].End != 30 {
		t.Fatalf("container not kept: %+v", got[0])
	}
}

func TestResolveContainmentOverride(t *testing.T) {
	r := New(nil)
	// An SSN nested inside a coarse name span: the more specific category
	// replaces its container entirely.
	got := r.Resolve([]entity.Candidate{
		cand(0, 40, entity.CategoryName, 0.95, entity.SourceStatistical),
		cand(10, 21, entity.CategorySSN, 0.99, entity.SourceRule),
	}, nil, 100)
	if len(got) != 1 {
		t.Fatalf("got %d entities, want 1", len(got))
	}
	if got[0].Category != entity.CategorySSN || got[0].Start != 10 || got[0].End != 21 {
		t.Fatalf("nested SSN did not override container: %+v", got[0])
	}
	assertNonOverlapping(t, got)
}

func TestResolvePartialOverlapPriority(t *testing.T) {
	r := New(nil)
	got := r.Resolve([]entity.Candidate{
		cand(0, 15, entity.CategoryName, 0.99, entity.SourceStatistical),
		cand(10, 25, entity.CategoryPhone, 0.7, entity.SourceRule),
	}, nil, 100)
	if len(got) != 1 || got[0].Category != entity.CategoryPhone {
		t.Fatalf("priority did not decide the overlap: %+v", got)
	}
}

func TestResolvePartialOverlapWeightedConfidence(t *testing.T) {
	r := New(nil)
	// Same category, so source weighting decides: a statistical NAME at
	// 0.8 weighs 0.96, beating a rule NAME at 0.9 weighing 0.72.
	got := r.Resolve([]entity.Candidate{
		cand(0, 10, entity.CategoryName, 0.9, entity.SourceRule),
		cand(5, 15, entity.CategoryName, 0.8, entity.SourceStatistical),
	}, nil, 100)
	if len(got) != 1 {
		t.Fatalf("got %d entities, want 1", len(got))
	}
	if got[0].Source != entity.SourceStatistical {
		t.Fatalf("weighted confidence ignored: %+v", got[0])
	}
}

func TestResolveTieBreakLongerSpan(t *testing.T) {
	r := New(nil)
	got := r.Resolve([]entity.Candidate{
		cand(0, 10, entity.CategoryName, 0.9, entity.SourceStatistical),
		cand(5, 25, entity.CategoryName, 0.9, entity.SourceStatistical),
	}, nil, 100)
	if len(got) != 1 {
		t.Fatalf("got %d entities, want 1", len(got))
	}
	if got[0].Len() != 20 {
		t.Fatalf("longer span should win the tie: %+v", got[0])
	}
}

func TestResolveOutputInvariantDenseInput(t *testing.T) {
	r := New(nil)
	// A pile of mutually overlapping candidates of mixed categories; the
	// output must be non-overlapping and sorted whatever the input.
	in := []entity.Candidate{
		cand(0, 12, entity.CategoryName, 0.8, entity.SourceStatistical),
		cand(3, 14, entity.CategoryDate, 0.9, entity.SourceRule),
		cand(5, 9, entity.CategorySSN, 0.99, entity.SourceRule),
		cand(11, 30, entity.CategoryLocation, 0.6, entity.SourceStatistical),
		cand(13, 22, entity.CategoryMRN, 0.95, entity.SourceLearned),
		cand(28, 44, entity.CategoryPhone, 0.85, entity.SourceRule),
		cand(40, 55, entity.CategoryOrg, 0.5, entity.SourceStatistical),
	}
	got := r.Resolve(in, nil, 100)
	if len(got) == 0 {
		t.Fatal("resolver dropped everything")
	}
	assertNonOverlapping(t, got)
}

func TestResolveEmptyInput(t *testing.T) {
	r := New(nil)
	if got := r.Resolve(nil, nil, 100); len(got) != 0 {
		t.Fatalf("nil input produced %d entities", len(got))
	}
}
