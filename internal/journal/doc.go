// Package journal persists operations that have been queued but not yet
// acknowledged by the server.
//
// Every enqueued operation is appended before it can be sent and removed
// once a request carrying it succeeds. Whatever remains when a session is
// closed is replayed into the queue the next time the chapter is loaded, so
// an unload never silently drops edits.
//
// Backends:
//   - Store: SQLite file (default), WAL mode, embedded schema.
//   - RedisJournal: shared Redis instance, for clients without local disk.
//   - Nop: journaling disabled.
package journal
