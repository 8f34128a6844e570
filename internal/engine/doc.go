// Package engine implements the queue processor that turns queued edits into
// batched requests against the story storage API.
//
// ARCHITECTURE:
//
// Write-behind batching:
// Editor events enqueue Save, Delete and SyncOrder operations as fast as the
// user types. On a fixed interval the Processor drains the queue, sorts it by
// logical timestamp and collapses it into request groups:
//   - all Saves of one chapter become one request, last write per key wins
//   - all Deletes of one chapter become one request, keys deduplicated
//   - every SyncOrder is sent on its own, carrying the full order map
//
// Dedup only happens inside a same-kind group. A key saved and deleted in the
// same window produces both requests, save first.
//
// Failure handling:
// A failed group is requeued unchanged. A 501 while the table is still being
// provisioned is deferred without counting. Anything else counts against a
// retry budget shared by the whole queue; when the budget is exhausted the
// processor halts with a RetryBudgetError until the caller resumes it.
//
// CONCURRENCY:
// Passes are serialized and send one request at a time, so two batches for
// the same keys are never in flight together. Enqueueing is safe at any time;
// work added during a pass waits for the next one.
package engine
