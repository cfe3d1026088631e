// Package metrics provides lightweight, lock-minimal counters for the
// de-identification pipeline.
//
// Counters use sync/atomic so hot paths (candidate filtering, span
// replacement) incur no mutex contention. Latency statistics use a single
// mutex per pipeline stage; they are updated once per document.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// knownCategories pre-populates per-category counter maps so Snapshot can
// iterate a fixed set without racing on map writes.
var knownCategories = []string{
	"URL", "EMAIL_ADDRESS", "IP_ADDRESS", "US_SSN", "VEHICLE_ID",
	"DEVICE_ID", "HEALTH_PLAN_ID", "ACCOUNT_NUMBER", "LICENSE_NUMBER",
	"MRN", "ENCOUNTER_ID", "PHONE_NUMBER", "FAX_NUMBER", "DATE",
	"PHOTO_ID", "BIOMETRIC_ID", "NAME", "LOCATION", "ZIP",
	"AGE_OVER_89", "OTHER_ID", "ORGANIZATION", "UNKNOWN",
}

// knownActions lists the transform actions tracked per dispatch.
var knownActions = []string{
	"redact", "hash", "pseudonym", "generalize", "date_shift", "passthrough",
}

// Metrics holds all runtime counters for a pipeline instance.
// The zero value is not usable; construct with New().
type Metrics struct {
	// Document counters
	DocumentsProcessed atomic.Int64

	// Candidate and entity counters
	CandidatesReceived atomic.Int64
	CandidatesDropped  atomic.Int64 // malformed or preserved-over
	EntitiesResolved   atomic.Int64

	// Pseudonym cache effectiveness
	PseudonymCacheHits   atomic.Int64
	PseudonymCacheMisses atomic.Int64

	// Date handling
	DatesShifted      atomic.Int64
	DatesPassthrough  atomic.Int64 // unparseable, left unchanged
	FallbackSaltUses  atomic.Int64

	// Per-category resolved counts and per-action dispatch counts.
	// Maps are written only in New(); concurrent Add via pointers is safe.
	resolvedByCategory map[string]*atomic.Int64
	actionsDispatched  map[string]*atomic.Int64

	// Stage latency statistics (mutex-guarded float accumulators)
	normalizeMu   sync.Mutex
	normalizeStat latencyStats

	resolveMu   sync.Mutex
	resolveStat latencyStats

	transformMu   sync.Mutex
	transformStat latencyStats

	startTime time.Time
}

// New returns a Metrics with per-category and per-action maps pre-populated.
func New() *Metrics {
	m := &Metrics{
		startTime:          time.Now(),
		resolvedByCategory: make(map[string]*atomic.Int64, len(knownCategories)),
		actionsDispatched:  make(map[string]*atomic.Int64, len(knownActions)),
	}
	for _, c := range knownCategories {
		m.resolvedByCategory[c] = new(atomic.Int64)
	}
	for _, a := range knownActions {
		m.actionsDispatched[a] = new(atomic.Int64)
	}
	return m
}

// RecordResolved increments the resolved-entity counter for a category.
// Unknown categories are silently ignored.
func (m *Metrics) RecordResolved(category string) {
	if c, ok := m.resolvedByCategory[category]; ok {
		c.Add(1)
	}
	m.EntitiesResolved.Add(1)
}

// RecordAction increments the dispatch counter for a transform action.
// Unknown actions are silently ignored.
func (m *Metrics) RecordAction(action string) {
	if c, ok := m.actionsDispatched[action]; ok {
		c.Add(1)
	}
}

// RecordNormalizeLatency records the duration of one normalization pass.
func (m *Metrics) RecordNormalizeLatency(d time.Duration) {
	m.normalizeMu.Lock()
	m.normalizeStat.record(float64(d.Microseconds()) / 1000.0)
	m.normalizeMu.Unlock()
}

// RecordResolveLatency records the duration of one resolution pass.
func (m *Metrics) RecordResolveLatency(d time.Duration) {
	m.resolveMu.Lock()
	m.resolveStat.record(float64(d.Microseconds()) / 1000.0)
	m.resolveMu.Unlock()
}

// RecordTransformLatency records the duration of one transform pass.
func (m *Metrics) RecordTransformLatency(d time.Duration) {
	m.transformMu.Lock()
	m.transformStat.record(float64(d.Microseconds()) / 1000.0)
	m.transformMu.Unlock()
}

// Snapshot returns a point-in-time copy of all metrics, safe for JSON
// encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.normalizeMu.Lock()
	normalize := m.normalizeStat.snapshot()
	m.normalizeMu.Unlock()

	m.resolveMu.Lock()
	resolve := m.resolveStat.snapshot()
	m.resolveMu.Unlock()

	m.transformMu.Lock()
	transform := m.transformStat.snapshot()
	m.transformMu.Unlock()

	byCategory := make(map[string]int64, len(m.resolvedByCategory))
	for c, v := range m.resolvedByCategory {
		if n := v.Load(); n > 0 {
			byCategory[c] = n
		}
	}
	byAction := make(map[string]int64, len(m.actionsDispatched))
	for a, v := range m.actionsDispatched {
		if n := v.Load(); n > 0 {
			byAction[a] = n
		}
	}

	return Snapshot{
		Documents: m.DocumentsProcessed.Load(),
		Candidates: CandidateSnapshot{
			Received: m.CandidatesReceived.Load(),
			Dropped:  m.CandidatesDropped.Load(),
			Resolved: m.EntitiesResolved.Load(),
		},
		ResolvedByCategory: byCategory,
		ActionsDispatched:  byAction,
		Pseudonyms: PseudonymSnapshot{
			CacheHits:   m.PseudonymCacheHits.Load(),
			CacheMisses: m.PseudonymCacheMisses.Load(),
		},
		Dates: DateSnapshot{
			Shifted:     m.DatesShifted.Load(),
			Passthrough: m.DatesPassthrough.Load(),
		},
		FallbackSaltUses: m.FallbackSaltUses.Load(),
		Latency: LatencyGroup{
			NormalizeMs: normalize,
			ResolveMs:   resolve,
			TransformMs: transform,
		},
		UptimeSecs: time.Since(m.startTime).Seconds(),
	}
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Documents          int64             `json:"documents"`
	Candidates         CandidateSnapshot `json:"candidates"`
	ResolvedByCategory map[string]int64  `json:"resolvedByCategory,omitempty"`
	ActionsDispatched  map[string]int64  `json:"actionsDispatched,omitempty"`
	Pseudonyms         PseudonymSnapshot `json:"pseudonyms"`
	Dates              DateSnapshot      `json:"dates"`
	FallbackSaltUses   int64             `json:"fallbackSaltUses"`
	Latency            LatencyGroup      `json:"latency"`
	UptimeSecs         float64           `json:"uptimeSecs"`
}

// CandidateSnapshot holds candidate-flow counters.
type CandidateSnapshot struct {
	Received int64 `json:"received"`
	Dropped  int64 `json:"dropped"`
	Resolved int64 `json:"resolved"`
}

// PseudonymSnapshot holds pseudonym cache effectiveness counters.
type PseudonymSnapshot struct {
	CacheHits   int64 `json:"cacheHits"`
	CacheMisses int64 `json:"cacheMisses"`
}

// DateSnapshot holds date-shift outcome counters.
type DateSnapshot struct {
	Shifted     int64 `json:"shifted"`
	Passthrough int64 `json:"passthrough"`
}

// LatencyGroup groups the three stage latency dimensions.
type LatencyGroup struct {
	NormalizeMs LatencySnapshot `json:"normalizeMs"`
	ResolveMs   LatencySnapshot `json:"resolveMs"`
	TransformMs LatencySnapshot `json:"transformMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

// --- internal accumulator ---

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
