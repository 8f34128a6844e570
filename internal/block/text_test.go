package block

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"empty", ``, ""},
		{"blank paragraph", `{"type":"paragraph"}`, ""},
		{"text nodes", `{"type":"paragraph","content":[{"type":"text","text":"Alex "},{"type":"text","text":"said hi","marks":[{"type":"bold"}]}]}`, "Alex said hi"},
		{"hard break", `{"type":"paragraph","content":[{"type":"text","text":"a"},{"type":"hardBreak"},{"type":"text","text":"b"}]}`, "a\nb"},
		{"nested", `{"type":"blockquote","content":[{"type":"paragraph","content":[{"type":"text","text":"quoted"}]}]}`, "quoted"},
		{"json string", `"just text"`, "just text"},
		{"not json", `plain words`, "plain words"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PlainText(json.RawMessage(tt.content)))
		})
	}
}

func TestIsBlank(t *testing.T) {
	assert.True(t, IsBlank(nil))
	assert.True(t, IsBlank(json.RawMessage(`null`)))
	assert.True(t, IsBlank(BlankContent()))
	assert.False(t, IsBlank(json.RawMessage(`{"type":"paragraph","content":[{"type":"text","text":"x"}]}`)))
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("k1", "k2")
	assert.Equal(t, "k1", g.Generate())
	assert.Equal(t, "k2", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestUUIDGenerator_Unique(t *testing.T) {
	g := UUIDGenerator{}
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		k := g.Generate()
		assert.Len(t, k, 36)
		assert.False(t, seen[k])
		seen[k] = true
	}
}

func TestTextParagraph_InverseOfPlainText(t *testing.T) {
	for _, text := range []string{"Hello", "two\nlines", "trailing\n", "<b> & \"q\""} {
		assert.Equal(t, text, PlainText(TextParagraph(text)), text)
	}
	assert.True(t, IsBlank(TextParagraph("")))
	assert.JSONEq(t, `{"type":"paragraph","content":[{"type":"text","text":"Hi"}]}`, string(TextParagraph("Hi")))
}
