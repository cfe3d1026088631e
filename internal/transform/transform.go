// Package transform rewrites original text by applying a per-category action
// to each resolved entity span, and emits an audit trail that never contains
// the original identifier text.
//
// Replacements are applied right-to-left (descending start) so earlier
// replacements never invalidate the offsets of not-yet-applied ones. Every
// byte strictly outside the entity spans is copied through unchanged.
//
// Consistency guarantees:
//   - hash/pseudonym codes are HMAC-SHA256 over a normalized cache key, so
//     the same value for the same subject renders identically in every run
//     sharing a salt;
//   - date shifts are a per-subject constant offset, so relative intervals
//     between a subject's dates survive.
package transform

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strings"

	"phi-deidentify/internal/entity"
	"phi-deidentify/internal/logger"
	"phi-deidentify/internal/metrics"
)

// Action selects how an entity span is rewritten.
type Action string

// Supported transform actions.
const (
	ActionRedact     Action = "redact"
	ActionHash       Action = "hash"
	ActionPseudonym  Action = "pseudonym"
	ActionGeneralize Action = "generalize"
	ActionDateShift  Action = "date_shift"
)

// DefaultTemplateKey selects the template used when a category has no
// entry of its own in RuleBook.Templates.
const DefaultTemplateKey = "DEFAULT"

// RuleBook maps categories to actions and code-rendering templates.
type RuleBook struct {
	Rules         map[entity.Category]Action
	Templates     map[string]string // keyed by category name or DefaultTemplateKey
	DefaultAction Action
}

// ActionFor returns the action for a category, falling back to the
// rulebook default, then to redact.
func (rb RuleBook) ActionFor(c entity.Category) Action {
	if a, ok := rb.Rules[c]; ok {
		return a
	}
	if rb.DefaultAction != "" {
		return rb.DefaultAction
	}
	return ActionRedact
}

// templateFor returns the rendering template for a category.
func (rb RuleBook) templateFor(c entity.Category) string {
	if t, ok := rb.Templates[string(c)]; ok {
		return t
	}
	if t, ok := rb.Templates[DefaultTemplateKey]; ok {
		return t
	}
	return string(c) + "_{code}"
}

// AuditRecord describes one applied transformation. It carries span and
// classification metadata only, never the original text.
type AuditRecord struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// fallbackSalt is used when no salt is configured. The name is deliberately
// alarming; codes derived from it are linkable by anyone with the binary.
const fallbackSalt = "INSECURE-FALLBACK-SALT-NOT-FOR-PRODUCTION"

const (
	// codeLen is the number of hex characters in a rendered code.
	codeLen = 8

	// minHashTextLen filters near-certain false positives: entity text
	// shorter than this is passed through instead of hashed.
	minHashTextLen = 3
)

// Engine applies rulebook actions to resolved entity spans.
// Safe for concurrent use across documents.
type Engine struct {
	rules    RuleBook
	subjects *Subjects
	salt     string
	log      *logger.Logger
	met      *metrics.Metrics
}

// NewEngine creates an Engine. An empty salt triggers the insecure
// fallback with a loud warning; it never fails, because losing the ability
// to redact is worse than redacting with a weak key.
func NewEngine(rb RuleBook, subjects *Subjects, salt string, log *logger.Logger, met *metrics.Metrics) *Engine {
	if log == nil {
		log = logger.New("TRANSFORM", "info")
	}
	if met == nil {
		met = metrics.New()
	}
	if subjects == nil {
		subjects = NewSubjects(nil)
	}
	if salt == "" {
		log.Warn("fallback_salt", "no salt configured; using built-in fallback salt, codes are NOT private")
		met.FallbackSaltUses.Add(1)
		salt = fallbackSalt
	}
	return &Engine{rules: rb, subjects: subjects, salt: salt, log: log, met: met}
}

// Transform rewrites original according to the rulebook and returns the
// rewritten text plus the audit trail, sorted by start ascending.
// Entities must be non-overlapping, in original-text byte coordinates.
func (e *Engine) Transform(original string, entities []entity.Resolved, subjectID string) (string, []AuditRecord) {
	ordered := make([]entity.Resolved, len(entities))
	copy(ordered, entities)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })

	ctx := e.subjects.Context(subjectID)

	// Expand atomic spans to token boundaries first, then clamp the
	// overlaps expansion can introduce between neighbors sharing one
	// token. Splicing starts only after every span is final, so a
	// replacement never cuts into an already-substituted neighbor.
	spans := make([]spanRange, len(ordered))
	for i, ent := range ordered {
		start, end := ent.Start, ent.End
		if entity.IsAtomic(ent.Category) {
			start, end = expandToToken(original, start, end)
		}
		spans[i] = spanRange{start, end}
	}
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			spans[i].start = spans[i-1].end
		}
		if spans[i].end < spans[i].start {
			spans[i].end = spans[i].start
		}
	}

	rewritten := original
	for i := len(ordered) - 1; i >= 0; i-- {
		start, end := spans[i].start, spans[i].end
		if start >= end {
			// Swallowed entirely by the previous span's expansion.
			continue
		}
		text := original[start:end]

		repl, applied := e.replacement(ordered[i].Category, text, subjectID, ctx)
		if !applied {
			e.met.RecordAction("passthrough")
			continue
		}
		rewritten = rewritten[:start] + repl + rewritten[end:]
	}

	audit := make([]AuditRecord, 0, len(ordered))
	for _, ent := range ordered {
		audit = append(audit, AuditRecord{
			Start:      ent.Start,
			End:        ent.End,
			Category:   string(ent.Category),
			Confidence: round3(ent.Confidence),
			Source:     string(ent.Source),
		})
	}
	return rewritten, audit
}

// replacement computes the substitute text for one span. The second return
// is false when the span must be left untouched.
func (e *Engine) replacement(cat entity.Category, text, subjectID string, ctx *SubjectContext) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", false
	}
	if entity.IsWhitelistedTerm(trimmed) {
		e.log.Debugf("whitelist_skip", "protected term of %d bytes left unchanged (%s)", len(trimmed), cat)
		return "", false
	}

	action := e.rules.ActionFor(cat)
	switch action {
	case ActionRedact:
		e.met.RecordAction(string(ActionRedact))
		return "[REDACTED:" + string(cat) + "]", true

	case ActionHash, ActionPseudonym:
		if len(trimmed) < minHashTextLen {
			e.log.Debugf("short_skip", "%s span of %d bytes below hash threshold, passed through", cat, len(trimmed))
			return "", false
		}
		code, hit := e.pseudonymCode(cat, trimmed, subjectID, ctx)
		if hit {
			e.met.PseudonymCacheHits.Add(1)
		} else {
			e.met.PseudonymCacheMisses.Add(1)
		}
		e.met.RecordAction(string(action))
		return strings.ReplaceAll(e.rules.templateFor(cat), "{code}", code), true

	case ActionGeneralize:
		e.met.RecordAction(string(ActionGeneralize))
		return generalize(cat, trimmed), true

	case ActionDateShift:
		// Resolve the per-subject offset before entering the date memo;
		// ShiftDays and ShiftedDate share the subject's lock.
		days := e.shiftDays(subjectID, ctx)
		shifted := ctx.ShiftedDate(trimmed, func() string {
			out, _ := shiftDateText(trimmed, days)
			return out
		})
		if shifted == trimmed {
			e.met.DatesPassthrough.Add(1)
			e.log.Debugf("date_passthrough", "unparseable date of %d bytes left unchanged", len(trimmed))
			return "", false
		}
		e.met.DatesShifted.Add(1)
		e.met.RecordAction(string(ActionDateShift))
		return shifted, true
	}

	// Unknown action strings from hand-edited config degrade to redact.
	e.log.Warnf("unknown_action", "action %q for %s not recognized, redacting", action, cat)
	e.met.RecordAction(string(ActionRedact))
	return "[REDACTED:" + string(cat) + "]", true
}

// pseudonymCode returns the memoized code for (category, text, subject),
// generating it on first use. The second return reports a cache hit.
func (e *Engine) pseudonymCode(cat entity.Category, text, subjectID string, ctx *SubjectContext) (string, bool) {
	key := cacheKey(cat, text, subjectID)
	return ctx.Pseudonym(key, func() string {
		return e.hashCode(key)
	})
}

// cacheKey builds the normalized hashing key. Name-like categories are
// token-order independent so "Smith, John" and "John Smith" collide.
func cacheKey(cat entity.Category, text, subjectID string) string {
	norm := strings.ToLower(text)
	if cat == entity.CategoryName {
		tokens := strings.FieldsFunc(norm, func(r rune) bool {
			return r == ' ' || r == ',' || r == '\t' || r == '\n' || r == '.'
		})
		sort.Strings(tokens)
		norm = strings.Join(tokens, " ")
	} else {
		norm = strings.TrimSpace(norm)
	}
	return string(cat) + "|" + norm + "|" + subjectID
}

// hashCode returns the first codeLen hex characters of HMAC-SHA256(salt, key).
// An empty key is a caller contract violation and panics.
func (e *Engine) hashCode(key string) string {
	if key == "" {
		panic("transform: empty text reached hashing")
	}
	mac := hmac.New(sha256.New, []byte(e.salt))
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))[:codeLen]
}

// shiftDays returns the date-shift offset for a subject. Without a subject
// id there is no cross-call consistency to protect, so a fixed default
// applies.
func (e *Engine) shiftDays(subjectID string, ctx *SubjectContext) int {
	if subjectID == "" {
		return defaultShiftDays
	}
	return ctx.ShiftDays(func() int {
		return computeShiftDays(e.salt, subjectID)
	})
}

// generalize coarsens a value instead of removing it outright.
func generalize(cat entity.Category, text string) string {
	switch cat {
	case entity.CategoryZIP:
		return generalizeZIP(text)
	case entity.CategoryAgeOver89:
		return "[AGE:90+]"
	}
	return "[REDACTED:" + string(cat) + "]"
}

// generalizeZIP keeps the leading three digits and masks the rest, the
// coarsening Safe Harbor permits for most ZIP3 areas.
func generalizeZIP(text string) string {
	digits := 0
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r >= '0' && r <= '9' {
			digits++
			if digits > 3 {
				b.WriteByte('X')
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// spanRange is a final splice region in original-text byte coordinates.
type spanRange struct {
	start, end int
}

// expandToToken widens [start, end) to whitespace-delimited token
// boundaries, then sheds trailing sentence punctuation the widening may
// have swallowed. Atomic identifiers are replaced whole so a transform
// never strands a fragment like the local part of an email.
func expandToToken(s string, start, end int) (int, int) {
	for start > 0 && !isTokenBreak(s[start-1]) {
		start--
	}
	for end < len(s) && !isTokenBreak(s[end]) {
		end++
	}
	for end > start && isTrailingPunct(s[end-1]) {
		end--
	}
	for start < end && s[start] == '(' {
		start++
	}
	return start, end
}

func isTokenBreak(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func isTrailingPunct(b byte) bool {
	switch b {
	case '.', ',', ';', ':', ')', '!', '?':
		return true
	}
	return false
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
