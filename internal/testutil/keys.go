package testutil

import (
	"fmt"
	"sync"
)

// SequentialKeys generates paragraph keys "<prefix>1", "<prefix>2", ...
//
// Unlike block.FixedGenerator it never runs out, so scenarios can create as
// many paragraphs as they like and still produce byte-identical traces.
//
// Thread-safety: safe for concurrent use.
type SequentialKeys struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialKeys creates a generator. An empty prefix defaults to "p".
func NewSequentialKeys(prefix string) *SequentialKeys {
	if prefix == "" {
		prefix = "p"
	}
	return &SequentialKeys{prefix: prefix}
}

// Generate returns the next key.
func (g *SequentialKeys) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s%d", g.prefix, g.n)
}

// Issued returns how many keys have been generated.
func (g *SequentialKeys) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// Reset restarts numbering at 1.
func (g *SequentialKeys) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
