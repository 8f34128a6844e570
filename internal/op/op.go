package op

import (
	"fmt"

	"github.com/roach88/storysync/internal/block"
)

// Kind identifies an operation variant.
type Kind int

const (
	// KindSave upserts paragraph blocks.
	KindSave Kind = iota + 1
	// KindDelete removes paragraph blocks.
	KindDelete
	// KindSyncOrder rewrites the full chapter order map.
	KindSyncOrder
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSave:
		return "save"
	case KindDelete:
		return "delete"
	case KindSyncOrder:
		return "sync_order"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind converts a wire name back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "save":
		return KindSave, nil
	case "delete":
		return KindDelete, nil
	case "sync_order":
		return KindSyncOrder, nil
	default:
		return 0, fmt.Errorf("unknown operation kind %q", s)
	}
}

// Scope identifies the chapter an operation applies to.
type Scope struct {
	StoryID   string
	ChapterID string
}

// Header carries the fields shared by every variant.
type Header struct {
	StoryID   string
	ChapterID string
	// Timestamp is the logical submission time used for queue ordering.
	Timestamp int64
}

// Head returns the header.
func (h Header) Head() Header { return h }

// Scope returns the story/chapter pair.
func (h Header) Scope() Scope {
	return Scope{StoryID: h.StoryID, ChapterID: h.ChapterID}
}

// Operation is a sealed interface over Save, Delete and SyncOrder.
type Operation interface {
	Kind() Kind
	Head() Header
	Scope() Scope
	operation() // Sealed
}

// Save upserts blocks. Place values are hints; SyncOrder is authoritative.
type Save struct {
	Header
	Blocks []block.ParagraphBlock
}

func (Save) operation() {}

// Kind returns KindSave.
func (Save) Kind() Kind { return KindSave }

// Delete removes blocks by key.
type Delete struct {
	Header
	Keys []string
}

func (Delete) operation() {}

// Kind returns KindDelete.
func (Delete) Kind() Kind { return KindDelete }

// SyncOrder carries the entire authoritative order map of a chapter.
type SyncOrder struct {
	Header
	Order []block.Placement
}

func (SyncOrder) operation() {}

// Kind returns KindSyncOrder.
func (SyncOrder) Kind() Kind { return KindSyncOrder }

// NewSave builds a Save from deep copies of blocks.
func NewSave(h Header, blocks ...block.ParagraphBlock) Save {
	return Save{Header: h, Blocks: block.CloneBlocks(blocks)}
}

// NewDelete builds a Delete from a copy of keys.
func NewDelete(h Header, keys ...string) Delete {
	cp := make([]string, len(keys))
	copy(cp, keys)
	return Delete{Header: h, Keys: cp}
}

// NewSyncOrder builds a SyncOrder from a copy of order.
func NewSyncOrder(h Header, order []block.Placement) SyncOrder {
	cp := block.ClonePlacements(order)
	if cp == nil {
		cp = []block.Placement{}
	}
	return SyncOrder{Header: h, Order: cp}
}

// Cases holds one handler per variant for Switch.
type Cases struct {
	Save      func(Save) error
	Delete    func(Delete) error
	SyncOrder func(SyncOrder) error
}

// Switch dispatches o to the matching case.
// A nil handler for the variant present, or an unknown variant, is an error.
func Switch(o Operation, c Cases) error {
	switch v := o.(type) {
	case Save:
		if c.Save == nil {
			return fmt.Errorf("no handler for %s operation", v.Kind())
		}
		return c.Save(v)
	case Delete:
		if c.Delete == nil {
			return fmt.Errorf("no handler for %s operation", v.Kind())
		}
		return c.Delete(v)
	case SyncOrder:
		if c.SyncOrder == nil {
			return fmt.Errorf("no handler for %s operation", v.Kind())
		}
		return c.SyncOrder(v)
	default:
		return fmt.Errorf("unknown operation type %T", o)
	}
}

// BlockCount returns the number of blocks or keys an operation carries.
func BlockCount(o Operation) int {
	switch v := o.(type) {
	case Save:
		return len(v.Blocks)
	case Delete:
		return len(v.Keys)
	case SyncOrder:
		return len(v.Order)
	default:
		return 0
	}
}
