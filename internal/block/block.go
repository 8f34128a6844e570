package block

import (
	"bytes"
	"encoding/json"
)

// ParagraphBlock is one independently addressable paragraph of a chapter.
type ParagraphBlock struct {
	KeyID   string          `json:"key_id"`
	Content json.RawMessage `json:"content"`
	Place   int             `json:"place"`
}

// Placement is one (key, place) entry of a chapter order map.
type Placement struct {
	KeyID string `json:"key_id"`
	Place int    `json:"place"`
}

// blankParagraph is the serialized payload of an empty paragraph.
var blankParagraph = []byte(`{"type":"paragraph"}`)

// BlankContent returns the serialized payload of an empty paragraph.
// The returned slice is a fresh copy.
func BlankContent() json.RawMessage {
	return cloneContent(blankParagraph)
}

// IsBlank reports whether content is empty or an empty paragraph.
func IsBlank(content json.RawMessage) bool {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return true
	}
	return PlainText(content) == ""
}

// Clone returns a deep copy of the block.
func (b ParagraphBlock) Clone() ParagraphBlock {
	return ParagraphBlock{
		KeyID:   b.KeyID,
		Content: cloneContent(b.Content),
		Place:   b.Place,
	}
}

// CloneBlocks deep-copies a slice of blocks. Returns nil for nil input.
func CloneBlocks(blocks []ParagraphBlock) []ParagraphBlock {
	if blocks == nil {
		return nil
	}
	out := make([]ParagraphBlock, len(blocks))
	for i, b := range blocks {
		out[i] = b.Clone()
	}
	return out
}

// ClonePlacements copies an order map. Returns nil for nil input.
func ClonePlacements(order []Placement) []Placement {
	if order == nil {
		return nil
	}
	out := make([]Placement, len(order))
	copy(out, order)
	return out
}

// EqualOrder reports whether two order maps list the same keys at the same places.
func EqualOrder(a, b []Placement) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func cloneContent(c json.RawMessage) json.RawMessage {
	if c == nil {
		return nil
	}
	out := make(json.RawMessage, len(c))
	copy(out, c)
	return out
}
