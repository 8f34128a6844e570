package remote

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/roach88/storysync/internal/block"
)

// attrString is a string attribute in the {"Value": ...} item encoding.
type attrString struct {
	Value string `json:"Value"`
}

// attrRaw is an attribute whose Value may be any JSON.
type attrRaw struct {
	Value json.RawMessage `json:"Value"`
}

type pageItem struct {
	Chunk attrRaw    `json:"chunk"`
	KeyID attrString `json:"key_id"`
	Place *attrRaw   `json:"place,omitempty"`
}

type lastEvaluatedKey struct {
	KeyID attrString `json:"key_id"`
}

type pageResponse struct {
	Items            []pageItem        `json:"items"`
	LastEvaluatedKey *lastEvaluatedKey `json:"last_evaluated_key,omitempty"`
}

type saveBlock struct {
	KeyID string          `json:"key_id"`
	Chunk json.RawMessage `json:"chunk"`
	Place int             `json:"place"`
}

type saveRequest struct {
	StoryID   string      `json:"story_id"`
	ChapterID string      `json:"chapter_id"`
	Blocks    []saveBlock `json:"blocks"`
}

type keyRef struct {
	KeyID string `json:"key_id"`
}

type deleteRequest struct {
	StoryID   string   `json:"story_id"`
	ChapterID string   `json:"chapter_id"`
	Blocks    []keyRef `json:"blocks"`
}

type orderRequest struct {
	ChapterID string            `json:"chapter_id"`
	Blocks    []block.Placement `json:"blocks"`
}

// decodeChunk turns a chunk attribute into block content.
//
// Servers store the paragraph either as an inline JSON value or as a string
// holding serialized JSON. A string that is not itself JSON is kept as a JSON
// string so the content stays valid JSON.
func decodeChunk(v json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(v))
	if trimmed == "" || trimmed == "null" {
		return block.BlankContent()
	}
	if !strings.HasPrefix(trimmed, `"`) {
		return json.RawMessage(trimmed)
	}

	var s string
	if err := json.Unmarshal([]byte(trimmed), &s); err != nil {
		return json.RawMessage(trimmed)
	}
	if json.Valid([]byte(s)) && s != "" {
		return json.RawMessage(s)
	}
	return json.RawMessage(trimmed)
}

// decodePlace reads a numeric place attribute given as a number or a string.
func decodePlace(a *attrRaw) (int, bool) {
	if a == nil {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(a.Value, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(a.Value, &s); err == nil {
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
	}
	return 0, false
}
