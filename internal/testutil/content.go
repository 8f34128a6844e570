package testutil

import (
	"encoding/json"
	"io"
	"log/slog"

	"github.com/roach88/storysync/internal/block"
)

// Paragraph builds paragraph content holding text.
func Paragraph(text string) json.RawMessage {
	return block.TextParagraph(text)
}

// Blocks builds a chapter from texts with keys "<prefix>1".."<prefix>N" in
// order.
func Blocks(prefix string, texts ...string) []block.ParagraphBlock {
	keys := NewSequentialKeys(prefix)
	out := make([]block.ParagraphBlock, len(texts))
	for i, t := range texts {
		out[i] = block.ParagraphBlock{KeyID: keys.Generate(), Content: Paragraph(t), Place: i}
	}
	return out
}

// QuietLogger returns a logger that discards everything.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
