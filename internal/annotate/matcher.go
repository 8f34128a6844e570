package annotate

import (
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/storysync/internal/block"
)

// Span is a piece of the scanned text. Spans returned by Matcher.Spans cover
// the text exactly, in order.
type Span struct {
	// Start and End are byte offsets into the text.
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
	// EntityID is set on decorated spans.
	EntityID   string `json:"entity_id,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
}

// Decorated reports whether the span is an entity mention.
func (s Span) Decorated() bool {
	return s.EntityID != ""
}

// Range is one decoration: a byte range of the text attributed to an entity.
type Range struct {
	Start      int    `json:"start"`
	End        int    `json:"end"`
	EntityID   string `json:"entity_id"`
	EntityType string `json:"entity_type,omitempty"`
	Text       string `json:"text"`
}

type candidate struct {
	text string
	re   *regexp.Regexp
}

type compiled struct {
	entity     Entity
	candidates []candidate
}

// Matcher holds compiled entities. It is immutable and safe for concurrent use.
type Matcher struct {
	entities []compiled
}

// Compile prepares entities for matching.
//
// Malformed entities are skipped (logged at debug). Candidates listed in
// exclusions are dropped; for case-insensitive entities the comparison
// ignores case. An entity left with no candidates is skipped.
func Compile(entities []Entity, exclusions []string, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	excluded := make([]string, 0, len(exclusions))
	for _, x := range exclusions {
		if x = norm.NFC.String(strings.TrimSpace(x)); x != "" {
			excluded = append(excluded, x)
		}
	}

	m := &Matcher{}
	for _, e := range entities {
		if e.ID == "" {
			logger.Debug("skipping entity without id", "name", e.Name)
			continue
		}
		names, err := Candidates(e)
		if err != nil {
			logger.Debug("skipping malformed entity", "entity_id", e.ID, "error", err)
			continue
		}

		c := compiled{entity: e}
		for _, name := range names {
			if isExcluded(name, excluded, e.CaseSensitive) {
				continue
			}
			pattern := regexp.QuoteMeta(name)
			if !e.CaseSensitive {
				pattern = "(?i)" + pattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				logger.Debug("skipping candidate", "entity_id", e.ID, "candidate", name, "error", err)
				continue
			}
			c.candidates = append(c.candidates, candidate{text: name, re: re})
		}
		if len(c.candidates) == 0 {
			continue
		}
		m.entities = append(m.entities, c)
	}
	return m
}

func isExcluded(name string, excluded []string, caseSensitive bool) bool {
	for _, x := range excluded {
		if x == name || (!caseSensitive && strings.EqualFold(x, name)) {
			return true
		}
	}
	return false
}

// Len returns the number of usable entities.
func (m *Matcher) Len() int {
	return len(m.entities)
}

// Spans splits text into alternating plain and decorated spans.
//
// Each match of a candidate inside a plain span splits it into
// [before][match][after], keeping only non-empty parts. A match must sit on
// word boundaries of the full text, the same positions `\b` accepts.
func (m *Matcher) Spans(text string) []Span {
	if text == "" {
		return nil
	}
	spans := []Span{{Start: 0, End: len(text), Text: text}}

	for _, c := range m.entities {
		for _, cand := range c.candidates {
			spans = claim(text, spans, c.entity, cand.re)
		}
	}
	return spans
}

// claim decorates every boundary-respecting match of re inside plain spans.
func claim(text string, spans []Span, e Entity, re *regexp.Regexp) []Span {
	out := make([]Span, 0, len(spans))
	for _, s := range spans {
		if s.Decorated() {
			out = append(out, s)
			continue
		}

		cursor := s.Start
		pos := s.Start
		for pos < s.End {
			loc := re.FindStringIndex(text[pos:s.End])
			if loc == nil {
				break
			}
			start, end := pos+loc[0], pos+loc[1]
			if end == start || !wordBoundary(text, start) || !wordBoundary(text, end) {
				_, width := utf8.DecodeRuneInString(text[start:])
				pos = start + max(width, 1)
				continue
			}
			if start > cursor {
				out = append(out, Span{Start: cursor, End: start, Text: text[cursor:start]})
			}
			out = append(out, Span{Start: start, End: end, Text: text[start:end], EntityID: e.ID, EntityType: e.Type})
			cursor, pos = end, end
		}
		if cursor < s.End {
			out = append(out, Span{Start: cursor, End: s.End, Text: text[cursor:s.End]})
		}
	}
	return out
}

// wordBoundary reports whether byte offset i of text sits between a word
// character and a non-word character (or the text edge). Word characters
// are Unicode letters, digits, combining marks and underscore.
func wordBoundary(text string, i int) bool {
	before, after := false, false
	if i > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:i])
		before = isWordRune(r)
	}
	if i < len(text) {
		r, _ := utf8.DecodeRuneInString(text[i:])
		after = isWordRune(r)
	}
	return before != after
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

// Ranges returns the decorated spans of text as ranges.
func (m *Matcher) Ranges(text string) []Range {
	var out []Range
	for _, s := range m.Spans(text) {
		if s.Decorated() {
			out = append(out, Range{Start: s.Start, End: s.End, EntityID: s.EntityID, EntityType: s.EntityType, Text: s.Text})
		}
	}
	return out
}

// UTF16Range converts a byte range of text into UTF-16 code unit offsets, the
// unit browser editors index text by.
func UTF16Range(text string, r Range) (start, end int, err error) {
	if r.Start < 0 || r.End < r.Start || r.End > len(text) {
		return 0, 0, errors.New("range outside text")
	}
	if !utf8.ValidString(text[:r.Start]) || !utf8.ValidString(text[r.Start:r.End]) {
		return 0, 0, errors.New("range splits a UTF-8 sequence")
	}
	start = utf16Len(text[:r.Start])
	end = start + utf16Len(text[r.Start:r.End])
	return start, end, nil
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// BlockRanges holds the decorations of one paragraph.
type BlockRanges struct {
	KeyID  string  `json:"key_id"`
	Place  int     `json:"place"`
	Ranges []Range `json:"ranges"`
}

// AnnotateBlocks matches the plain text of each block. Blocks without
// matches are omitted.
func (m *Matcher) AnnotateBlocks(blocks []block.ParagraphBlock) []BlockRanges {
	var out []BlockRanges
	for _, b := range blocks {
		ranges := m.Ranges(block.PlainText(b.Content))
		if len(ranges) == 0 {
			continue
		}
		out = append(out, BlockRanges{KeyID: b.KeyID, Place: b.Place, Ranges: ranges})
	}
	return out
}
