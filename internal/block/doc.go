// Package block defines the identity model for paragraph blocks.
//
// A chapter body is not stored as one blob. It is an ordered collection of
// paragraph blocks, each with a stable key that is assigned once when the
// paragraph is created and never reassigned:
//
//   - Content edits keep the key.
//   - Reordering keeps the key; only Place changes.
//   - Removal retires the key; it is never handed out again.
//
// Place is derived from the position in the in-memory Chapter at the time of
// the last sync. The Chapter sequence is authoritative for order at any
// instant, not the Place values stored on individual blocks.
package block
