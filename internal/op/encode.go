package op

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/storysync/internal/block"
)

// DomainOperation is the hash domain for operation identity.
// The version suffix leaves room for a future encoding change.
const DomainOperation = "storysync/operation/v1"

// envelope is the canonical on-disk form of an operation.
// Fields are declared in key order so the encoding is stable.
type envelope struct {
	Blocks    []block.ParagraphBlock `json:"blocks,omitempty"`
	ChapterID string                 `json:"chapter_id"`
	Keys      []string               `json:"keys,omitempty"`
	Kind      string                 `json:"kind"`
	Order     []block.Placement      `json:"order,omitempty"`
	StoryID   string                 `json:"story_id"`
	Timestamp int64                  `json:"timestamp"`
}

// Encode produces the canonical JSON form of an operation.
//
// Identifiers are NFC normalized, HTML escaping is disabled and block content
// is compacted, so equal operations always encode to equal bytes.
func Encode(o Operation) ([]byte, error) {
	h := o.Head()
	env := envelope{
		Kind:      o.Kind().String(),
		StoryID:   norm.NFC.String(h.StoryID),
		ChapterID: norm.NFC.String(h.ChapterID),
		Timestamp: h.Timestamp,
	}

	err := Switch(o, Cases{
		Save: func(s Save) error {
			env.Blocks = make([]block.ParagraphBlock, len(s.Blocks))
			for i, b := range s.Blocks {
				b = b.Clone()
				b.KeyID = norm.NFC.String(b.KeyID)
				if len(b.Content) == 0 {
					b.Content = json.RawMessage("null")
				}
				env.Blocks[i] = b
			}
			return nil
		},
		Delete: func(d Delete) error {
			env.Keys = make([]string, len(d.Keys))
			for i, k := range d.Keys {
				env.Keys[i] = norm.NFC.String(k)
			}
			return nil
		},
		SyncOrder: func(s SyncOrder) error {
			env.Order = make([]block.Placement, len(s.Order))
			for i, p := range s.Order {
				env.Order[i] = block.Placement{KeyID: norm.NFC.String(p.KeyID), Place: p.Place}
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode operation: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return nil, fmt.Errorf("encode operation: %w", err)
	}
	// Encoder appends a trailing newline
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses the canonical JSON form produced by Encode.
func Decode(data []byte) (Operation, error) {
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode operation: %w", err)
	}

	kind, err := ParseKind(env.Kind)
	if err != nil {
		return nil, fmt.Errorf("decode operation: %w", err)
	}

	h := Header{StoryID: env.StoryID, ChapterID: env.ChapterID, Timestamp: env.Timestamp}
	switch kind {
	case KindSave:
		return NewSave(h, env.Blocks...), nil
	case KindDelete:
		return NewDelete(h, env.Keys...), nil
	case KindSyncOrder:
		return NewSyncOrder(h, env.Order), nil
	default:
		return nil, fmt.Errorf("decode operation: unhandled kind %s", kind)
	}
}

// ID computes the content-addressed identity of an operation.
// Format: hex(SHA256(domain + 0x00 + canonical JSON)).
func ID(o Operation) (string, error) {
	data, err := Encode(o)
	if err != nil {
		return "", fmt.Errorf("operation id: %w", err)
	}
	return hashWithDomain(DomainOperation, data), nil
}

// MustID is like ID but panics on error.
// Use only in tests or when the operation is known to be valid.
func MustID(o Operation) string {
	id, err := ID(o)
	if err != nil {
		panic(err)
	}
	return id
}

func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
