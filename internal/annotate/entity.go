package annotate

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ErrMalformedEntity marks an entity that cannot produce any candidate.
var ErrMalformedEntity = errors.New("malformed entity")

// Entity is a named thing whose mentions are decorated.
type Entity struct {
	ID   string `json:"id" yaml:"id"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
	Name string `json:"name" yaml:"name"`
	// Aliases is a comma separated list of alternative names.
	Aliases       string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	CaseSensitive bool   `json:"case_sensitive,omitempty" yaml:"case_sensitive,omitempty"`
}

// Candidates returns the names to search for: aliases then the primary name,
// trimmed, NFC normalized, deduplicated and sorted by descending length in
// runes. Equal lengths keep that order.
func Candidates(e Entity) ([]string, error) {
	if !utf8.ValidString(e.Name) || !utf8.ValidString(e.Aliases) {
		return nil, fmt.Errorf("%w: %q: invalid UTF-8", ErrMalformedEntity, e.ID)
	}

	raw := strings.Split(e.Aliases, ",")
	raw = append(raw, e.Name)

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		c := norm.NFC.String(strings.TrimSpace(r))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %q: no names", ErrMalformedEntity, e.ID)
	}

	slices.SortStableFunc(out, func(a, b string) int {
		return utf8.RuneCountInString(b) - utf8.RuneCountInString(a)
	})
	return out, nil
}
