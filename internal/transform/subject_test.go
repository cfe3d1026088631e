package transform

import (
	"fmt"
	"sync"
	"testing"
)

func TestSubjectsContextIsStable(t *testing.T) {
	s := NewSubjects(nil)
	if s.Context("pt-1") != s.Context("pt-1") {
		t.Error("same id returned different contexts")
	}
	if s.Context("pt-1") == s.Context("pt-2") {
		t.Error("different ids shared a context")
	}
}

func TestPseudonymMemoized(t *testing.T) {
	ctx := NewSubjects(nil).Context("pt-1")
	calls := 0
	gen := func() string {
		calls++
		return fmt.Sprintf("gen-%d", calls)
	}
	v1, hit1 := ctx.Pseudonym("NAME|john smith|pt-1", gen)
	v2, hit2 := ctx.Pseudonym("NAME|john smith|pt-1", gen)
	if v1 != "gen-1" || v2 != "gen-1" {
		t.Errorf("memoization broken: %q then %q", v1, v2)
	}
	if hit1 || !hit2 {
		t.Errorf("hit flags wrong: first=%v second=%v", hit1, hit2)
	}
	if calls != 1 {
		t.Errorf("generator ran %d times, want 1", calls)
	}
}

func TestPseudonymSurvivesReset(t *testing.T) {
	store := NewMemoryStore()
	s := NewSubjects(store)
	v1, _ := s.Context("pt-1").Pseudonym("k", func() string { return "first" })

	// Reset drops the in-memory context; the store must restore the value.
	s.Reset("pt-1")
	v2, hit := s.Context("pt-1").Pseudonym("k", func() string { return "second" })
	if v2 != v1 {
		t.Errorf("persisted pseudonym lost: %q then %q", v1, v2)
	}
	if !hit {
		t.Error("store lookup not reported as a hit")
	}
}

func TestShiftDaysMemoizedAndPersisted(t *testing.T) {
	store := NewMemoryStore()
	s := NewSubjects(store)
	d1 := s.Context("pt-1").ShiftDays(func() int { return 42 })
	s.Reset("pt-1")
	d2 := s.Context("pt-1").ShiftDays(func() int { return 77 })
	if d1 != 42 || d2 != 42 {
		t.Errorf("shift not persisted: %d then %d", d1, d2)
	}
}

func TestShiftedDateMemoized(t *testing.T) {
	ctx := NewSubjects(nil).Context("pt-1")
	calls := 0
	gen := func() string {
		calls++
		return "02/14/1980"
	}
	ctx.ShiftedDate("01/15/1980", gen)
	got := ctx.ShiftedDate("01/15/1980", gen)
	if got != "02/14/1980" || calls != 1 {
		t.Errorf("date memo broken: got %q after %d calls", got, calls)
	}
}

func TestPseudonymConcurrentGetOrInsert(t *testing.T) {
	ctx := NewSubjects(nil).Context("pt-1")
	var mu sync.Mutex
	results := map[string]bool{}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			v, _ := ctx.Pseudonym("k", func() string {
				return fmt.Sprintf("v-%d", n)
			})
			mu.Lock()
			results[v] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if len(results) != 1 {
		t.Errorf("concurrent callers saw %d distinct values, want 1", len(results))
	}
}
