package engine

import (
	"github.com/roach88/storysync/internal/block"
	"github.com/roach88/storysync/internal/op"
	"github.com/roach88/storysync/internal/queue"
)

// group is the unit of one request: the entries it consumed plus the
// deduplicated payload built from them.
type group struct {
	kind    op.Kind
	scope   op.Scope
	entries []queue.Entry

	blocks []block.ParagraphBlock
	keys   []string
	order  []block.Placement
}

// plan partitions sorted entries into request groups.
//
// Walking left to right, the first unconsumed Save (or Delete) pulls in every
// drained entry of the same kind and scope. Within the group the last entry
// for a key wins; keys keep the position of their first appearance. Each
// SyncOrder is its own group and is never merged.
//
// Groups are returned in the order their leading entry appears.
func plan(entries []queue.Entry) []group {
	consumed := make([]bool, len(entries))
	var groups []group

	for i, lead := range entries {
		if consumed[i] {
			continue
		}
		consumed[i] = true

		g := group{kind: lead.Op.Kind(), scope: lead.Op.Scope(), entries: []queue.Entry{lead}}
		if g.kind != op.KindSyncOrder {
			for j := i + 1; j < len(entries); j++ {
				if consumed[j] {
					continue
				}
				e := entries[j]
				if e.Op.Kind() == g.kind && e.Op.Scope() == g.scope {
					consumed[j] = true
					g.entries = append(g.entries, e)
				}
			}
		}
		g.build()
		groups = append(groups, g)
	}
	return groups
}

// build fills the request payload from the consumed entries.
func (g *group) build() {
	switch g.kind {
	case op.KindSave:
		index := make(map[string]int)
		for _, e := range g.entries {
			for _, b := range e.Op.(op.Save).Blocks {
				if at, ok := index[b.KeyID]; ok {
					g.blocks[at] = b.Clone()
					continue
				}
				index[b.KeyID] = len(g.blocks)
				g.blocks = append(g.blocks, b.Clone())
			}
		}
	case op.KindDelete:
		seen := make(map[string]bool)
		for _, e := range g.entries {
			for _, k := range e.Op.(op.Delete).Keys {
				if !seen[k] {
					seen[k] = true
					g.keys = append(g.keys, k)
				}
			}
		}
	case op.KindSyncOrder:
		g.order = block.ClonePlacements(g.entries[0].Op.(op.SyncOrder).Order)
	}
}

// ops returns the operations consumed by the group.
func (g *group) ops() []op.Operation {
	out := make([]op.Operation, len(g.entries))
	for i, e := range g.entries {
		out[i] = e.Op
	}
	return out
}

// size is the number of blocks, keys or placements the request carries.
func (g *group) size() int {
	switch g.kind {
	case op.KindSave:
		return len(g.blocks)
	case op.KindDelete:
		return len(g.keys)
	default:
		return len(g.order)
	}
}
