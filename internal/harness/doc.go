// Package harness runs conformance scenarios against the sync engine.
//
// A scenario seeds an in-memory storage API (remote/fakeapi), loads a
// docsync.Session over real HTTP, drives it with editor steps and scripted
// server failures, then asserts on the request log, the server chapter and
// the local chapter.
//
// # Scenario Format
//
//	name: insert_in_middle
//	description: "A mid-chapter insert sends a save then the order map"
//	retry_budget: 3
//	initial:
//	  - key: a
//	    text: Alpha
//	  - key: b
//	    text: Bravo
//	steps:
//	  - do: insert
//	    index: 1
//	    text: Inserted
//	  - do: fail
//	    route: save
//	    statuses: [500]
//	  - do: flush
//	    expect:
//	      pending: 1
//	      retries: 1
//	assertions:
//	  - type: request_routes
//	    routes: [save, save, order]
//	  - type: server_order
//	    keys: [a, p1, b]
//
// New paragraph keys are p1, p2, ... in creation order. Unknown fields are
// rejected so typos fail loudly.
//
// # Step Types
//
//   - insert, edit, delete, paste, resync, flush: editor events
//   - fail: script statuses for the next requests to a route
//   - provision: turn the story's provisioning (501) mode on or off
//   - resume: resume a halted processor
//   - reload: drop the session without flushing and load a new one over the
//     same journal
//
// # Assertion Types
//
//   - request_routes: the exact sequence of routes after the initial load
//   - request_count: how many requests hit one route
//   - request_keys: keys carried by the nth request to a route
//   - server_order, local_order: chapter keys in order
//   - server_text: plain text of one stored paragraph
//   - pending, retries: queue length and retry counter at the end
//   - halted: whether the processor ended halted
//
// # Deterministic Testing
//
// Keys come from testutil.SequentialKeys, the queue clock is logical and the
// journal is an in-memory SQLite store, so a scenario always produces the
// same request trace. RunWithGolden compares that trace to a golden file.
package harness
