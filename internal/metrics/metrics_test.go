package metrics

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestSnapshotCounters(t *testing.T) {
	m := New()
	m.DocumentsProcessed.Add(2)
	m.CandidatesReceived.Add(10)
	m.CandidatesDropped.Add(3)
	m.RecordResolved("NAME")
	m.RecordResolved("NAME")
	m.RecordResolved("US_SSN")
	m.RecordAction("redact")
	m.RecordAction("pseudonym")

	s := m.Snapshot()
	if s.Documents != 2 {
		t.Errorf("Documents = %d", s.Documents)
	}
	if s.Candidates.Received != 10 || s.Candidates.Dropped != 3 || s.Candidates.Resolved != 3 {
		t.Errorf("candidate counters = %+v", s.Candidates)
	}
	if s.ResolvedByCategory["NAME"] != 2 || s.ResolvedByCategory["US_SSN"] != 1 {
		t.Errorf("per-category = %v", s.ResolvedByCategory)
	}
	if s.ActionsDispatched["redact"] != 1 || s.ActionsDispatched["pseudonym"] != 1 {
		t.Errorf("per-action = %v", s.ActionsDispatched)
	}
}

func TestSnapshotOmitsZeroEntries(t *testing.T) {
	m := New()
	m.RecordResolved("NAME")
	s := m.Snapshot()
	if _, present := s.ResolvedByCategory["US_SSN"]; present {
		t.Error("zero-count category should be omitted from the snapshot")
	}
}

func TestUnknownCategoryAndActionIgnored(t *testing.T) {
	m := New()
	m.RecordResolved("NOT_A_CATEGORY")
	m.RecordAction("explode")
	s := m.Snapshot()
	if len(s.ActionsDispatched) != 0 {
		t.Errorf("unknown action recorded: %v", s.ActionsDispatched)
	}
	// The total still counts; only the per-category map is closed.
	if s.Candidates.Resolved != 1 {
		t.Errorf("Resolved = %d, want 1", s.Candidates.Resolved)
	}
}

func TestLatencyStats(t *testing.T) {
	m := New()
	m.RecordNormalizeLatency(2 * time.Millisecond)
	m.RecordNormalizeLatency(4 * time.Millisecond)
	m.RecordNormalizeLatency(9 * time.Millisecond)

	lat := m.Snapshot().Latency.NormalizeMs
	if lat.Count != 3 {
		t.Fatalf("Count = %d", lat.Count)
	}
	if lat.MinMs != 2 || lat.MaxMs != 9 || lat.MeanMs != 5 {
		t.Errorf("latency = %+v", lat)
	}
}

func TestLatencyEmpty(t *testing.T) {
	lat := New().Snapshot().Latency.TransformMs
	if lat.Count != 0 || lat.MinMs != 0 || lat.MeanMs != 0 || lat.MaxMs != 0 {
		t.Errorf("empty latency = %+v", lat)
	}
}

func TestSnapshotSerializesToJSON(t *testing.T) {
	m := New()
	m.RecordResolved("DATE")
	m.RecordAction("date_shift")
	m.DatesShifted.Add(1)

	data, err := json.Marshal(m.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var round map[string]any
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := round["documents"]; !ok {
		t.Errorf("documents key missing: %s", data)
	}
}

func TestConcurrentRecording(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordResolved("NAME")
				m.RecordAction("redact")
				m.RecordTransformLatency(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	s := m.Snapshot()
	if s.ResolvedByCategory["NAME"] != 800 {
		t.Errorf("NAME = %d, want 800", s.ResolvedByCategory["NAME"])
	}
	if s.Latency.TransformMs.Count != 800 {
		t.Errorf("latency count = %d, want 800", s.Latency.TransformMs.Count)
	}
}
