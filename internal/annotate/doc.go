// Package annotate finds known entity names in paragraph text.
//
// Matching is a pure function of (text, entities, exclusions) that returns an
// ordered list of plain and decorated spans; callers build whatever node tree
// they render from those spans. Entities are applied in list order. Each
// entity tries its candidates (aliases and primary name) longest first, and
// only text that is still plain can be claimed, so matches never overlap and
// the first entity in the list wins where two entities compete.
//
// Malformed entities never fail a pass: they are skipped.
package annotate
