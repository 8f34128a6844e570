// Package remote is the HTTP client for the chunked story storage API.
//
// Endpoints (story and chapter scoping via path segments and query):
//
//	GET    /api/stories/{storyID}/content?key={startKey}&chapter={chapterID}
//	PUT    /api/stories/{storyID}            save blocks
//	DELETE /api/stories/{storyID}/block      delete blocks
//	PUT    /api/stories/{storyID}/orderMap   rewrite chapter order
//
// Status 501 means the upstream table is still being provisioned. The client
// tracks the last provisioning-relevant status it saw so the queue processor
// can tell "not ready yet" apart from a real failure. Fetching a chapter that
// answers 404 or 501 yields a single synthesized blank paragraph, and 204
// means the chapter is empty.
package remote
