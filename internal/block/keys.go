package block

import (
	"sync"

	"github.com/google/uuid"
)

// KeyGenerator issues paragraph keys for newly created blocks.
// Implemented by UUIDGenerator (production) and FixedGenerator (tests).
type KeyGenerator interface {
	Generate() string
}

// UUIDGenerator generates random RFC 4122 UUIDs as paragraph keys.
//
// Thread-safety: UUIDGenerator is stateless and safe for concurrent use.
type UUIDGenerator struct{}

// Generate returns a new hyphenated UUID string.
func (UUIDGenerator) Generate() string {
	return uuid.NewString()
}

// FixedGenerator returns predetermined keys in order.
//
// Panics once all keys have been consumed, which catches tests that create
// more paragraphs than they planned for.
type FixedGenerator struct {
	mu   sync.Mutex
	keys []string
	idx  int
}

// NewFixedGenerator creates a generator that returns keys in order.
func NewFixedGenerator(keys ...string) *FixedGenerator {
	return &FixedGenerator{keys: keys}
}

// Generate returns the next predetermined key.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.keys) {
		panic("FixedGenerator: all keys exhausted")
	}
	key := g.keys[g.idx]
	g.idx++
	return key
}
