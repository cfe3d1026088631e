// Package normalizer produces a canonical working copy of input text for
// detectors, plus a byte-level provenance map back to the untouched original.
//
// The canonical text is never shown to end users. Every canonical byte maps
// to the original byte it originated from, so spans detected on the
// canonical copy can be projected back to original coordinates for a single,
// precise redaction pass.
//
// Stages, each rewriting the canonical text and the map in lock-step:
//  1. Unicode NFKC folding
//  2. Confusable folding (typographic quotes/dashes/NBSP → ASCII)
//  3. Control and zero-width removal (newline and tab survive)
//  4. Whitespace and padded-separator collapse
//  5. De-hyphenation of line-wrapped words (bounded passes)
//  6. OCR repair of date-shaped tokens and recognized header tokens
//
// Map invariants: len(map) == len(canonical); entries are valid byte offsets
// into the original and monotonically non-decreasing. Deleted bytes emit no
// entry. Replacement bytes map one-to-one when the replacement has the same
// length as its source, otherwise every replacement byte anchors to the
// first original byte of the replaced span. Many-to-one is acceptable,
// one-to-many never happens.
package normalizer

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Document holds the original text, its canonical working copy, and the
// provenance map between them. Create one per input via Normalize; it is
// immutable afterwards.
type Document struct {
	Original  string
	Canonical string

	// charMap[i] is the byte offset in Original that Canonical byte i
	// originated from.
	charMap []int
}

// Span is a half-open [Start, End) byte range.
type Span struct {
	Start int
	End   int
}

// Containers lists compound-token spans (canonical coordinates) that
// downstream consumers should avoid splitting. Informational only.
type Containers struct {
	URLs      []Span
	Filenames []Span
}

var confusables = map[rune]rune{
	'\u2018': '\'', // left single quote
	'\u2019': '\'', // right single quote
	'\u201c': '"',  // left double quote
	'\u201d': '"',  // right double quote
	'\u2013': '-',  // en dash
	'\u2014': '-',  // em dash
	'\u2212': '-',  // minus sign
	'\u00a0': ' ',  // non-breaking space
}

const maxDehyphenPasses = 3

var (
	reSpaces3 = regexp.MustCompile(`[ \t]{3,}`)

	// A padded separator counts only between digits, the shape of split
	// dates and identifiers ("03 / 12 / 1958", "123 - 45 - 6789").
	// Prose punctuation ("today. No complaints.") never matches.
	rePaddedSep = regexp.MustCompile(`(\d)[ \t]+([.\-/])[ \t]*(\d)|(\d)([.\-/])[ \t]+(\d)`)
	reWrapHyph  = regexp.MustCompile(`([A-Za-z])-[ \t]*\n[ \t]*([A-Za-z])|([A-Za-z])-[ \t]{2,}([A-Za-z])`)
	reToken     = regexp.MustCompile(`\b\w+\b`)

	// OCR date repair: a lowercase "l" digit-substituted into a date-shaped
	// token. Only tokens whose surrounding shape matches a date qualify.
	reOCRDateBoth  = regexp.MustCompile(`\b0l/0l/(\d{4})\b`)
	reOCRDateMonth = regexp.MustCompile(`\b0l/(\d{1,2})/(\d{4})\b`)
	reOCRDateDay   = regexp.MustCompile(`\b(\d{1,2})/0l/(\d{4})\b`)

	reURL      = regexp.MustCompile(`(?i)https?://\S+`)
	reFilename = regexp.MustCompile(`(?i)\b[\w.-]+\.(?:pdf|png|jpg|jpeg|tif|tiff|txt|rtf|docx)\b`)
)

// Normalize canonicalizes original and returns the resulting Document.
// It is a pure function: no I/O, no shared state.
func Normalize(original string) *Document {
	canonical, cmap := nfkcFold(original)
	canonical, cmap = foldRunes(canonical, cmap)
	canonical, cmap = rewrite(canonical, cmap, reSpaces3, func([]int, string) string { return " " })
	// Two passes: consecutive padded separators share a flanking digit
	// ("3 / 4 / 1958"), and the first pass consumes the digit the second
	// match needs.
	canonical, cmap = rewrite(canonical, cmap, rePaddedSep, paddedSepRepl)
	canonical, cmap = rewrite(canonical, cmap, rePaddedSep, paddedSepRepl)
	canonical, cmap = dehyphenate(canonical, cmap)
	canonical, cmap = repairOCRDates(canonical, cmap)
	canonical, cmap = rewrite(canonical, cmap, reToken, func(m []int, text string) string {
		return fixHeaderToken(text[m[0]:m[1]])
	})

	return &Document{Original: original, Canonical: canonical, charMap: cmap}
}

// Project maps a canonical span [a, b) back to original-text coordinates.
// The end is extended to the boundary of the originating rune, the
// byte-level equivalent of charMap[b-1]+1.
func (d *Document) Project(a, b int) (int, int) {
	n := len(d.charMap)
	if n == 0 || a >= n {
		return len(d.Original), len(d.Original)
	}
	if a < 0 {
		a = 0
	}
	if b > n {
		b = n
	}
	start := d.charMap[a]
	if b <= a {
		return start, start
	}
	last := d.charMap[b-1]
	_, size := utf8.DecodeRuneInString(d.Original[last:])
	if size == 0 {
		size = 1
	}
	return start, last + size
}

// ContainerSpans locates URLs and filenames in the canonical text so
// downstream consumers can avoid mis-splitting compound tokens.
func (d *Document) ContainerSpans() Containers {
	var c Containers
	for _, m := range reURL.FindAllStringIndex(d.Canonical, -1) {
		c.URLs = append(c.URLs, Span{Start: m[0], End: m[1]})
	}
	for _, m := range reFilename.FindAllStringIndex(d.Canonical, -1) {
		c.Filenames = append(c.Filenames, Span{Start: m[0], End: m[1]})
	}
	return c
}

// nfkcFold applies NFKC and builds the initial provenance map. Output bytes
// of each normalization segment anchor to the segment's first input byte.
func nfkcFold(s string) (string, []int) {
	var it norm.Iter
	it.InitString(norm.NFKC, s)

	buf := make([]byte, 0, len(s))
	cmap := make([]int, 0, len(s))
	for !it.Done() {
		src := it.Pos()
		seg := it.Next()
		buf = append(buf, seg...)
		for range seg {
			cmap = append(cmap, src)
		}
	}
	return string(buf), cmap
}

// foldRunes replaces confusable runes with their ASCII equivalents and drops
// control/zero-width runes (newline and tab survive), keeping the map
// aligned byte-for-byte.
func foldRunes(text string, cmap []int) (string, []int) {
	var b strings.Builder
	b.Grow(len(text))
	out := make([]int, 0, len(cmap))

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		src := cmap[i]
		if rep, ok := confusables[r]; ok {
			r = rep
		}
		if isControlOrZeroWidth(r) {
			i += size
			continue
		}
		n, _ := b.WriteRune(r)
		for j := 0; j < n; j++ {
			out = append(out, src)
		}
		i += size
	}
	return b.String(), out
}

func isControlOrZeroWidth(r rune) bool {
	if r == '\n' || r == '\t' {
		return false
	}
	return unicode.In(r, unicode.Cc, unicode.Cf, unicode.Cs)
}

// rewrite replaces every match of re with repl's output while keeping the
// map aligned: equal-length replacements map one-to-one, shorter or longer
// ones anchor every byte to the first byte of the match.
func rewrite(text string, cmap []int, re *regexp.Regexp, repl func(m []int, text string) string) (string, []int) {
	matches := re.FindAllStringSubmatchIndex(text, -1)
	if matches == nil {
		return text, cmap
	}

	var b strings.Builder
	b.Grow(len(text))
	out := make([]int, 0, len(cmap))
	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m[0]])
		out = append(out, cmap[last:m[0]]...)

		r := repl(m, text)
		b.WriteString(r)
		if len(r) == m[1]-m[0] {
			out = append(out, cmap[m[0]:m[1]]...)
		} else {
			for j := 0; j < len(r); j++ {
				out = append(out, cmap[m[0]])
			}
		}
		last = m[1]
	}
	b.WriteString(text[last:])
	out = append(out, cmap[last:]...)
	return b.String(), out
}

// paddedSepRepl collapses a padded separator match to digit-separator-digit.
// Groups 1-3 or 4-6 hold the flanking digits and the separator depending on
// which alternative hit.
func paddedSepRepl(m []int, text string) string {
	if m[2] >= 0 {
		return text[m[2]:m[3]] + text[m[4]:m[5]] + text[m[6]:m[7]]
	}
	return text[m[8]:m[9]] + text[m[10]:m[11]] + text[m[12]:m[13]]
}

// dehyphenate joins line-wrapped words ("word-\n  continuation" →
// "wordcontinuation"). Matches cannot overlap within one scan, so a bounded
// number of passes handles consecutive wraps without risking runaway loops.
func dehyphenate(text string, cmap []int) (string, []int) {
	for pass := 0; pass < maxDehyphenPasses; pass++ {
		matches := reWrapHyph.FindAllStringSubmatchIndex(text, -1)
		if matches == nil {
			break
		}
		var b strings.Builder
		b.Grow(len(text))
		out := make([]int, 0, len(cmap))
		last := 0
		for _, m := range matches {
			// Groups 1/2 or 3/4 bracket the "-<whitespace>" run to remove.
			g1End, g2Start := m[3], m[4]
			if g1End < 0 {
				g1End, g2Start = m[7], m[8]
			}
			b.WriteString(text[last:g1End])
			out = append(out, cmap[last:g1End]...)
			last = g2Start
		}
		b.WriteString(text[last:])
		out = append(out, cmap[last:]...)
		text = b.String()
		cmap = out
	}
	return text, cmap
}

// repairOCRDates fixes "l"-for-"1" substitutions inside date-shaped tokens.
// The replacement always has the same length as the match, so provenance
// stays one-to-one.
func repairOCRDates(text string, cmap []int) (string, []int) {
	text, cmap = rewrite(text, cmap, reOCRDateBoth, func(m []int, t string) string {
		return "01/01/" + t[m[2]:m[3]]
	})
	text, cmap = rewrite(text, cmap, reOCRDateMonth, func(m []int, t string) string {
		return "01/" + t[m[2]:m[3]] + "/" + t[m[4]:m[5]]
	})
	text, cmap = rewrite(text, cmap, reOCRDateDay, func(m []int, t string) string {
		return t[m[2]:m[3]] + "/01/" + t[m[4]:m[5]]
	})
	return text, cmap
}

// headerTokens are field labels that OCR commonly corrupts (D0B, MRN with
// zero-for-O, PATlENT). Folding is applied only inside tokens resembling
// these, never globally, so genuine numerals are left alone.
func fixHeaderToken(tok string) string {
	if !headerLike(tok) {
		return tok
	}
	switch {
	case strings.Contains(tok, "DOB") || strings.Contains(tok, "D0B"):
		return strings.ReplaceAll(tok, "0", "O")
	case strings.Contains(tok, "MRN") || strings.Contains(tok, "PATIENT") || strings.Contains(tok, "PATlENT"):
		tok = strings.ReplaceAll(tok, "l", "I")
		return strings.ReplaceAll(tok, "0", "O")
	case strings.Contains(tok, "HICN") || strings.Contains(tok, "ACC"):
		return strings.ReplaceAll(tok, "0", "O")
	}
	return tok
}

// headerLike reports whether tok is short, upper-case apart from OCR
// confusables, and contains at least one letter. Pure numbers and ordinary
// words never qualify.
func headerLike(tok string) bool {
	if len(tok) < 2 || len(tok) > 10 {
		return false
	}
	upper := 0
	for _, r := range tok {
		switch {
		case r >= 'A' && r <= 'Z':
			upper++
		case r == 'l' || r == '\'' || r == '_':
			// OCR confusable or token punctuation; allowed.
		case r >= '0' && r <= '9':
			// digits allowed.
		default:
			return false
		}
	}
	return upper > 0
}
