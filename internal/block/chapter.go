package block

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrEmptyKey is returned when a block has no key.
	ErrEmptyKey = errors.New("block key is empty")
	// ErrDuplicateKey is returned when a key is already live in the chapter.
	ErrDuplicateKey = errors.New("block key already live in chapter")
	// ErrKeyRetired is returned when a removed key is offered again.
	ErrKeyRetired = errors.New("block key was retired by an earlier removal")
	// ErrUnknownKey is returned when a key is not live in the chapter.
	ErrUnknownKey = errors.New("block key not found in chapter")
)

// Chapter is the authoritative, in-memory ordered sequence of live blocks.
//
// Chapter is not safe for concurrent use; the owning session serializes access.
type Chapter struct {
	blocks  []ParagraphBlock
	retired map[string]struct{}
}

// NewChapter builds a chapter from blocks in document order.
// Place values on the input are ignored; order is the slice order.
func NewChapter(blocks []ParagraphBlock) (*Chapter, error) {
	c := &Chapter{
		blocks:  make([]ParagraphBlock, 0, len(blocks)),
		retired: make(map[string]struct{}),
	}
	seen := make(map[string]struct{}, len(blocks))
	for i, b := range blocks {
		if b.KeyID == "" {
			return nil, fmt.Errorf("block %d: %w", i, ErrEmptyKey)
		}
		if _, dup := seen[b.KeyID]; dup {
			return nil, fmt.Errorf("block %d (%s): %w", i, b.KeyID, ErrDuplicateKey)
		}
		seen[b.KeyID] = struct{}{}
		c.blocks = append(c.blocks, b.Clone())
	}
	c.renumber()
	return c, nil
}

// Len returns the number of live blocks.
func (c *Chapter) Len() int {
	return len(c.blocks)
}

// Blocks returns a deep copy of the live blocks in document order.
func (c *Chapter) Blocks() []ParagraphBlock {
	return CloneBlocks(c.blocks)
}

// Block returns the live block for key.
func (c *Chapter) Block(key string) (ParagraphBlock, bool) {
	i := c.IndexOf(key)
	if i < 0 {
		return ParagraphBlock{}, false
	}
	return c.blocks[i].Clone(), true
}

// IndexOf returns the current index of key, or -1 if it is not live.
func (c *Chapter) IndexOf(key string) int {
	for i := range c.blocks {
		if c.blocks[i].KeyID == key {
			return i
		}
	}
	return -1
}

// Retired reports whether key was removed from this chapter.
func (c *Chapter) Retired(key string) bool {
	_, ok := c.retired[key]
	return ok
}

// Insert places b at index, clamped to [0, Len()].
// Returns the index actually used.
func (c *Chapter) Insert(index int, b ParagraphBlock) (int, error) {
	return c.InsertMany(index, []ParagraphBlock{b})
}

// InsertMany places blocks contiguously starting at index, clamped to [0, Len()].
// Either all blocks are inserted or none are.
func (c *Chapter) InsertMany(index int, blocks []ParagraphBlock) (int, error) {
	seen := make(map[string]struct{}, len(blocks))
	for _, b := range blocks {
		if err := c.checkInsertable(b.KeyID); err != nil {
			return 0, err
		}
		if _, dup := seen[b.KeyID]; dup {
			return 0, fmt.Errorf("%s: %w", b.KeyID, ErrDuplicateKey)
		}
		seen[b.KeyID] = struct{}{}
	}

	index = max(0, min(index, len(c.blocks)))

	inserted := make([]ParagraphBlock, 0, len(c.blocks)+len(blocks))
	inserted = append(inserted, c.blocks[:index]...)
	for _, b := range blocks {
		inserted = append(inserted, b.Clone())
	}
	inserted = append(inserted, c.blocks[index:]...)
	c.blocks = inserted
	c.renumber()

	return index, nil
}

// Replace swaps the content of a live block, keeping its key and position.
func (c *Chapter) Replace(key string, content json.RawMessage) (ParagraphBlock, error) {
	i := c.IndexOf(key)
	if i < 0 {
		return ParagraphBlock{}, fmt.Errorf("%s: %w", key, ErrUnknownKey)
	}
	c.blocks[i].Content = cloneContent(content)
	return c.blocks[i].Clone(), nil
}

// Remove deletes a live block and retires its key.
// Returns the index the block occupied and the chapter length before removal.
func (c *Chapter) Remove(key string) (index, lenBefore int, err error) {
	i := c.IndexOf(key)
	if i < 0 {
		return 0, 0, fmt.Errorf("%s: %w", key, ErrUnknownKey)
	}
	lenBefore = len(c.blocks)
	c.blocks = append(c.blocks[:i], c.blocks[i+1:]...)
	c.retired[key] = struct{}{}
	c.renumber()
	return i, lenBefore, nil
}

// Order returns the full (key, place) list for every live block.
func (c *Chapter) Order() []Placement {
	order := make([]Placement, len(c.blocks))
	for i, b := range c.blocks {
		order[i] = Placement{KeyID: b.KeyID, Place: i}
	}
	return order
}

// Reorder arranges live blocks by an order map. Keys absent from the map
// follow the mapped ones in their current relative order; map entries for
// keys that are not live are ignored.
func (c *Chapter) Reorder(order []Placement) {
	pos := make(map[string]int, len(order))
	for _, p := range order {
		pos[p.KeyID] = p.Place
	}
	slices.SortStableFunc(c.blocks, func(a, b ParagraphBlock) int {
		pa, okA := pos[a.KeyID]
		pb, okB := pos[b.KeyID]
		switch {
		case okA && okB:
			return cmp.Compare(pa, pb)
		case okA:
			return -1
		case okB:
			return 1
		default:
			return 0
		}
	})
	c.renumber()
}

func (c *Chapter) checkInsertable(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if c.Retired(key) {
		return fmt.Errorf("%s: %w", key, ErrKeyRetired)
	}
	if c.IndexOf(key) >= 0 {
		return fmt.Errorf("%s: %w", key, ErrDuplicateKey)
	}
	return nil
}

func (c *Chapter) renumber() {
	for i := range c.blocks {
		c.blocks[i].Place = i
	}
}
