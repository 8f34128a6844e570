// Package op defines the pending mutations the sync engine ships to the server.
//
// An Operation is one of exactly three variants:
//
//   - Save: one or more (key, content, place) blocks to upsert.
//   - Delete: one or more keys to remove.
//   - SyncOrder: the complete (key, place) order map for a chapter.
//
// Operation is a sealed interface; only the variants in this package
// implement it. Dispatch goes through Switch, which fails loudly on a
// missing case so a new variant cannot be silently ignored.
//
// Operations are immutable once built. Constructors copy their inputs and the
// queue never edits an operation in place: it is either consumed or retried
// as-is.
package op
