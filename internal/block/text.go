package block

import (
	"encoding/json"
	"strings"
)

// PlainText returns the visible text of a serialized paragraph.
//
// Content is expected to be a ProseMirror style node tree: "text" nodes carry
// their string in "text", "hardBreak" renders as a newline, and every other
// node contributes the text of its "content" children. A JSON string payload
// is returned as-is, and content that is not JSON at all is treated as text.
func PlainText(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}

	var node any
	if err := json.Unmarshal(content, &node); err != nil {
		return string(content)
	}

	var sb strings.Builder
	writeText(&sb, node)
	return sb.String()
}

func writeText(sb *strings.Builder, node any) {
	switch n := node.(type) {
	case string:
		sb.WriteString(n)
	case []any:
		for _, child := range n {
			writeText(sb, child)
		}
	case map[string]any:
		nodeType, _ := n["type"].(string)
		switch nodeType {
		case "text":
			text, _ := n["text"].(string)
			sb.WriteString(text)
		case "hardBreak":
			sb.WriteString("\n")
		default:
			if children, ok := n["content"]; ok {
				writeText(sb, children)
			}
		}
	}
}

type textNode struct {
	Type    string     `json:"type"`
	Text    string     `json:"text,omitempty"`
	Content []textNode `json:"content,omitempty"`
}

// TextParagraph builds paragraph content from plain text, the inverse of
// PlainText. Newlines become hardBreak nodes; empty text is the blank
// paragraph.
func TextParagraph(text string) json.RawMessage {
	if text == "" {
		return BlankContent()
	}
	var children []textNode
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			children = append(children, textNode{Type: "hardBreak"})
		}
		if line != "" {
			children = append(children, textNode{Type: "text", Text: line})
		}
	}
	data, err := json.Marshal(textNode{Type: "paragraph", Content: children})
	if err != nil {
		// only strings and slices of the same struct
		panic(err)
	}
	return data
}
