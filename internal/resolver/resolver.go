// Package resolver merges candidate identifier spans from multiple,
// independently scored detectors into one non-overlapping, priority-ordered
// entity set.
//
// Resolution runs in fixed steps:
//
//	A. Preservation filter — candidates intersecting a preserve span are
//	   dropped unconditionally.
//	B. Deterministic ordering — start asc, length desc, category priority
//	   asc, confidence desc.
//	C. Containment pass — a candidate nested inside an accepted one is
//	   rejected unless its category priority is strictly better, in which
//	   case it replaces its container.
//	D. Pairwise-overlap pass — partial overlaps keep the better priority;
//	   ties go to the higher source-weighted confidence, then the longer
//	   span.
//	E. Source-weighted re-scoring feeds step D: effective confidence is
//	   raw confidence times a per-(source, category) weight.
//
// Malformed candidates (inverted or out-of-bounds spans) are dropped
// silently: a misbehaving detector must never abort redaction.
package resolver

import (
	"sort"

	"phi-deidentify/internal/entity"
	"phi-deidentify/internal/logger"
)

// sourceWeights favors the detector source best suited to each category:
// rule detectors for structured identifiers, learned detectors for
// free-text names and locations.
var sourceWeights = map[entity.Source]map[entity.Category]float64{
	entity.SourceRule: {
		entity.CategoryPhone:     1.2,
		entity.CategoryFax:       1.2,
		entity.CategoryEmail:     1.2,
		entity.CategorySSN:       1.2,
		entity.CategoryURL:       1.2,
		entity.CategoryIPAddress: 1.2,
		entity.CategoryLicense:   1.2,
		entity.CategoryVehicleID: 1.2,
		entity.CategoryDeviceID:  1.2,
		entity.CategoryZIP:       1.2,
	},
	entity.SourceStatistical: {
		entity.CategoryName:     1.2,
		entity.CategoryLocation: 1.2,
		entity.CategoryOrg:      1.2,
		entity.CategoryDate:     1.2,
	},
	entity.SourceLearned: {
		entity.CategoryMRN:        1.2,
		entity.CategoryHealthPlan: 1.2,
		entity.CategoryAccount:    1.2,
		entity.CategoryBiometric:  1.2,
		entity.CategoryPhotoID:    1.2,
		entity.CategoryAgeOver89:  1.2,
	},
}

// defaultWeight applies to any (source, category) pair without an explicit
// entry for a known source; unknown sources weigh 1.0 everywhere.
const defaultWeight = 0.8

// Resolver resolves overlap conflicts between detector candidates.
type Resolver struct {
	log *logger.Logger
}

// New creates a Resolver. The logger may be nil.
func New(log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.New("RESOLVER", "error")
	}
	return &Resolver{log: log}
}

// Resolve returns the final non-overlapping entity list for a document of
// docLen bytes. Candidates and preserve spans are in original coordinates.
// The result is sorted by start; no two spans overlap.
func (r *Resolver) Resolve(candidates, preserve []entity.Candidate, docLen int) []entity.Resolved {
	wellFormed := r.dropMalformed(candidates, docLen)

	// Step A: preserved spans always win, regardless of confidence.
	survivors := filterPreserved(wellFormed, preserve)

	// Step B: deterministic ordering.
	sort.SliceStable(survivors, func(i, j int) bool {
		a, b := survivors[i], survivors[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.Len() != b.Len() {
			return a.Len() > b.Len()
		}
		pa, pb := entity.Priority(a.Category), entity.Priority(b.Category)
		if pa != pb {
			return pa < pb
		}
		return a.Confidence > b.Confidence
	})

	// Step C: containment pass.
	accepted := make([]entity.Candidate, 0, len(survivors))
	for _, c := range survivors {
		idx, contained := containerOf(accepted, c)
		if !contained {
			accepted = append(accepted, c)
			continue
		}
		if entity.Priority(c.Category) < entity.Priority(accepted[idx].Category) {
			// A more specific nested identifier overrides the coarser
			// containing one.
			accepted[idx] = c
		}
	}

	// Step D: pairwise-overlap pass for partial, non-containing overlaps.
	final := make([]entity.Candidate, 0, len(accepted))
	for _, c := range accepted {
		overlaps := false
		for i, f := range final {
			if !c.Overlaps(f) {
				continue
			}
			overlaps = true
			if betterOf(c, f) {
				final[i] = c
			}
			break
		}
		if !overlaps {
			final = append(final, c)
		}
	}

	sort.Slice(final, func(i, j int) bool { return final[i].Start < final[j].Start })

	// A Step D replacement can widen a span into its neighbor; one ordered
	// sweep restores the non-overlap invariant unconditionally.
	kept := final[:0]
	for _, c := range final {
		if n := len(kept); n > 0 && c.Start < kept[n-1].End {
			if betterOf(c, kept[n-1]) {
				kept[n-1] = c
			}
			continue
		}
		kept = append(kept, c)
	}
	final = kept

	out := make([]entity.Resolved, 0, len(final))
	for _, c := range final {
		out = append(out, entity.Resolved{
			Start:      c.Start,
			End:        c.End,
			Category:   c.Category,
			Confidence: c.Confidence,
			Source:     c.Source,
			Text:       c.Text,
		})
	}
	return out
}

// dropMalformed filters candidates with inverted spans or indices outside
// the document. Dropped candidates are logged at debug, never surfaced.
func (r *Resolver) dropMalformed(candidates []entity.Candidate, docLen int) []entity.Candidate {
	out := make([]entity.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Start < 0 || c.End > docLen || c.Start >= c.End {
			r.log.Debugf("drop_malformed", "span [%d,%d) outside document of %d bytes (%s)",
				c.Start, c.End, docLen, c.Category)
			continue
		}
		out = append(out, c)
	}
	return out
}

// filterPreserved removes every candidate intersecting a preserve span.
func filterPreserved(candidates, preserve []entity.Candidate) []entity.Candidate {
	if len(preserve) == 0 {
		return candidates
	}
	out := make([]entity.Candidate, 0, len(candidates))
	for _, c := range candidates {
		keep := true
		for _, p := range preserve {
			if c.Overlaps(p) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, c)
		}
	}
	return out
}

// containerOf returns the index of an accepted candidate fully containing c.
func containerOf(accepted []entity.Candidate, c entity.Candidate) (int, bool) {
	for i, a := range accepted {
		if a.Contains(c) {
			return i, true
		}
	}
	return 0, false
}

// betterOf reports whether challenger should displace incumbent in an
// overlap conflict: better category priority wins; ties go to the higher
// weighted confidence, then to the longer span.
func betterOf(challenger, incumbent entity.Candidate) bool {
	pc, pi := entity.Priority(challenger.Category), entity.Priority(incumbent.Category)
	if pc != pi {
		return pc < pi
	}
	wc, wi := weightedConfidence(challenger), weightedConfidence(incumbent)
	if wc != wi {
		return wc > wi
	}
	return challenger.Len() > incumbent.Len()
}

// weightedConfidence applies the per-(source, category) weight table.
func weightedConfidence(c entity.Candidate) float64 {
	weights, known := sourceWeights[c.Source]
	if !known {
		return c.Confidence
	}
	if w, ok := weights[c.Category]; ok {
		return c.Confidence * w
	}
	return c.Confidence * defaultWeight
}
