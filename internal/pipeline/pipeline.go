// Package pipeline wires the stages together: normalize the input, gather
// candidates from the built-in rule detector and any external detectors,
// project canonical spans back to original coordinates, resolve conflicts,
// and transform the original text.
//
// The pipeline itself holds no per-document state; documents for different
// subjects can be processed concurrently.
package pipeline

import (
	"time"

	"github.com/google/uuid"

	"phi-deidentify/internal/detect"
	"phi-deidentify/internal/entity"
	"phi-deidentify/internal/logger"
	"phi-deidentify/internal/metrics"
	"phi-deidentify/internal/normalizer"
	"phi-deidentify/internal/resolver"
	"phi-deidentify/internal/transform"
)

// Result is the outcome of de-identifying one document.
type Result struct {
	// RunID uniquely identifies this processing run for log correlation.
	RunID string `json:"runId"`

	// Text is the rewritten document.
	Text string `json:"text"`

	// Audit lists the applied transformations, sorted by start. It never
	// contains original identifier text.
	Audit []transform.AuditRecord `json:"audit"`
}

// Pipeline runs the full de-identification flow for one configuration.
// Safe for concurrent use.
type Pipeline struct {
	detector *detect.Detector
	resolver *resolver.Resolver
	engine   *transform.Engine
	subjects *transform.Subjects
	met      *metrics.Metrics
	log      *logger.Logger
}

// Options configures a Pipeline.
type Options struct {
	RuleBook transform.RuleBook
	Salt     string

	// Store backs cross-run subject state; nil means in-memory only.
	Store transform.StateStore

	LogLevel string
	Metrics  *metrics.Metrics
}

// New builds a Pipeline from options.
func New(opts Options) *Pipeline {
	log := logger.New("PIPELINE", opts.LogLevel)
	met := opts.Metrics
	if met == nil {
		met = metrics.New()
	}
	subjects := transform.NewSubjects(opts.Store)
	return &Pipeline{
		detector: detect.New(logger.New("DETECT", opts.LogLevel)),
		resolver: resolver.New(logger.New("RESOLVER", opts.LogLevel)),
		engine:   transform.NewEngine(opts.RuleBook, subjects, opts.Salt, logger.New("TRANSFORM", opts.LogLevel), met),
		subjects: subjects,
		met:      met,
		log:      log,
	}
}

// Process de-identifies one document. external holds candidates from
// detectors outside this process, in canonical coordinates against the
// normalized form of original; preserve holds caller-supplied preserve
// spans in original coordinates. Both may be nil. subjectID may be empty,
// forfeiting cross-document consistency.
func (p *Pipeline) Process(original, subjectID string, external, preserve []entity.Candidate) Result {
	runID := uuid.New().String()

	t0 := time.Now()
	doc := normalizer.Normalize(original)
	p.met.RecordNormalizeLatency(time.Since(t0))

	candidates := p.detector.Detect(doc.Canonical)
	candidates = append(candidates, external...)
	p.met.CandidatesReceived.Add(int64(len(candidates)))

	projected := projectAll(doc, candidates)

	preserveAll := detect.FindPreserveSpans(original)
	preserveAll = append(preserveAll, preserve...)

	t1 := time.Now()
	resolved := p.resolver.Resolve(projected, preserveAll, len(original))
	p.met.RecordResolveLatency(time.Since(t1))
	p.met.CandidatesDropped.Add(int64(len(projected) - len(resolved)))
	for _, ent := range resolved {
		p.met.RecordResolved(string(ent.Category))
	}

	t2 := time.Now()
	rewritten, audit := p.engine.Transform(original, resolved, subjectID)
	p.met.RecordTransformLatency(time.Since(t2))

	p.met.DocumentsProcessed.Add(1)
	p.log.Infof("process", "run %s: %d candidates, %d resolved, %d bytes in, %d bytes out",
		runID, len(projected), len(resolved), len(original), len(rewritten))

	return Result{RunID: runID, Text: rewritten, Audit: audit}
}

// projectAll maps canonical-coordinate candidates to original coordinates
// and fills in the original-text snippet each span covers.
func projectAll(doc *normalizer.Document, candidates []entity.Candidate) []entity.Candidate {
	out := make([]entity.Candidate, 0, len(candidates))
	for _, c := range candidates {
		start, end := doc.Project(c.Start, c.End)
		if start >= end {
			continue
		}
		c.Start, c.End = start, end
		c.Text = doc.Original[start:end]
		out = append(out, c)
	}
	return out
}

// Metrics returns a point-in-time snapshot of pipeline counters.
func (p *Pipeline) Metrics() metrics.Snapshot {
	return p.met.Snapshot()
}

// ResetSubject discards the in-memory context for a subject id.
func (p *Pipeline) ResetSubject(id string) {
	p.subjects.Reset(id)
}

// Close releases the subject state store.
func (p *Pipeline) Close() error {
	return p.subjects.Close()
}
