// Package fakeapi is an in-memory implementation of the story storage API.
//
// It serves the same routes as the real backend, records every request and
// can be scripted to fail upcoming requests with chosen statuses. Tests, the
// conformance harness and `storysync mock-api` run against it.
package fakeapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/gorilla/mux"

	"github.com/roach88/storysync/internal/block"
)

// Route names one endpoint of the API.
type Route string

const (
	RouteFetch  Route = "fetch"
	RouteSave   Route = "save"
	RouteDelete Route = "delete"
	RouteOrder  Route = "order"
)

// Request is one entry of the request log.
type Request struct {
	Route     Route    `json:"route" yaml:"route"`
	Method    string   `json:"method" yaml:"method"`
	StoryID   string   `json:"story_id" yaml:"story_id"`
	ChapterID string   `json:"chapter_id" yaml:"chapter_id"`
	Keys      []string `json:"keys,omitempty" yaml:"keys,omitempty"`
	Status    int      `json:"status" yaml:"status"`
}

type storedBlock struct {
	chunk json.RawMessage
	place int
}

type chapterKey struct {
	story   string
	chapter string
}

// Server is the in-memory API.
//
// Thread-safety: all methods are safe for concurrent use.
type Server struct {
	router *mux.Router
	logger *slog.Logger

	mu           sync.Mutex
	stories      map[string]bool
	chapters     map[chapterKey]map[string]storedBlock
	provisioning map[string]bool
	script       map[Route][]int
	log          []Request
	pageSize     int
	stringChunks bool
}

// Option configures a Server.
type Option func(*Server)

// WithPageSize sets how many items a content page carries. Zero disables
// pagination.
func WithPageSize(n int) Option {
	return func(s *Server) { s.pageSize = n }
}

// WithInlineChunks makes fetches return chunks as inline JSON instead of
// serialized strings.
func WithInlineChunks() Option {
	return func(s *Server) { s.stringChunks = false }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates an empty server.
func New(opts ...Option) *Server {
	s := &Server{
		logger:       slog.Default(),
		stories:      make(map[string]bool),
		chapters:     make(map[chapterKey]map[string]storedBlock),
		provisioning: make(map[string]bool),
		script:       make(map[Route][]int),
		stringChunks: true,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/stories/{story}/content", s.handleFetch).Methods(http.MethodGet)
	r.HandleFunc("/api/stories/{story}/block", s.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/api/stories/{story}/orderMap", s.handleOrder).Methods(http.MethodPut)
	r.HandleFunc("/api/stories/{story}", s.handleSave).Methods(http.MethodPut)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Seed stores blocks for a chapter, creating the story.
func (s *Server) Seed(storyID, chapterID string, blocks []block.ParagraphBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stories[storyID] = true
	ch := s.chapterLocked(storyID, chapterID)
	for _, b := range blocks {
		ch[b.KeyID] = storedBlock{chunk: append(json.RawMessage(nil), b.Content...), place: b.Place}
	}
}

// SetProvisioning makes every route of a story answer 501 while on.
func (s *Server) SetProvisioning(storyID string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provisioning[storyID] = on
}

// Script queues statuses for the next requests to a route. A status of 0
// lets that request through; any other status is returned without touching
// state.
func (s *Server) Script(route Route, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script[route] = append(s.script[route], statuses...)
}

// Requests returns a copy of the request log.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.log))
	copy(out, s.log)
	return out
}

// RequestsFor returns logged requests for one route.
func (s *Server) RequestsFor(route Route) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Route == route {
			out = append(out, r)
		}
	}
	return out
}

// ResetLog clears the request log.
func (s *Server) ResetLog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = nil
}

// Blocks returns the stored blocks of a chapter ordered by place, then key.
func (s *Server) Blocks(storyID, chapterID string) []block.ParagraphBlock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked(chapterKey{storyID, chapterID})
}

func (s *Server) chapterLocked(storyID, chapterID string) map[string]storedBlock {
	k := chapterKey{storyID, chapterID}
	ch, ok := s.chapters[k]
	if !ok {
		ch = make(map[string]storedBlock)
		s.chapters[k] = ch
	}
	return ch
}

func (s *Server) sortedLocked(k chapterKey) []block.ParagraphBlock {
	ch := s.chapters[k]
	out := make([]block.ParagraphBlock, 0, len(ch))
	for key, b := range ch {
		out = append(out, block.ParagraphBlock{
			KeyID:   key,
			Content: append(json.RawMessage(nil), b.chunk...),
			Place:   b.place,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Place != out[j].Place {
			return out[i].Place < out[j].Place
		}
		return out[i].KeyID < out[j].KeyID
	})
	return out
}

// admit records the request and decides whether a scripted or provisioning
// status preempts it. Returns 0 when the request should be served.
func (s *Server) admitLocked(req Request) int {
	status := 0
	if queue := s.script[req.Route]; len(queue) > 0 {
		status = queue[0]
		s.script[req.Route] = queue[1:]
	}
	if status == 0 && s.provisioning[req.StoryID] {
		status = http.StatusNotImplemented
	}
	return status
}

func (s *Server) finishLocked(req Request, status int) {
	req.Status = status
	s.log = append(s.log, req)
	s.logger.Debug("fake api request",
		"route", string(req.Route),
		"story_id", req.StoryID,
		"chapter_id", req.ChapterID,
		"status", status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int) {
	writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
}

type attrValue struct {
	Value any `json:"Value"`
}

type item struct {
	Chunk attrValue `json:"chunk"`
	KeyID attrValue `json:"key_id"`
	Place attrValue `json:"place"`
}

type page struct {
	Items            []item               `json:"items"`
	LastEvaluatedKey map[string]attrValue `json:"last_evaluated_key,omitempty"`
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	storyID := mux.Vars(r)["story"]
	chapterID := r.URL.Query().Get("chapter")
	startKey := r.URL.Query().Get("key")

	s.mu.Lock()
	defer s.mu.Unlock()

	req := Request{Route: RouteFetch, Method: r.Method, StoryID: storyID, ChapterID: chapterID}
	if startKey != "" {
		req.Keys = []string{startKey}
	}
	if status := s.admitLocked(req); status != 0 {
		s.finishLocked(req, status)
		writeError(w, status)
		return
	}
	if !s.stories[storyID] {
		s.finishLocked(req, http.StatusNotFound)
		writeError(w, http.StatusNotFound)
		return
	}

	blocks := s.sortedLocked(chapterKey{storyID, chapterID})
	if startKey != "" {
		idx := len(blocks)
		for i, b := range blocks {
			if b.KeyID == startKey {
				idx = i + 1
				break
			}
		}
		blocks = blocks[idx:]
	}
	if len(blocks) == 0 {
		s.finishLocked(req, http.StatusNoContent)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var resp page
	if s.pageSize > 0 && len(blocks) > s.pageSize {
		blocks = blocks[:s.pageSize]
		resp.LastEvaluatedKey = map[string]attrValue{"key_id": {Value: blocks[len(blocks)-1].KeyID}}
	}
	for _, b := range blocks {
		var chunk any = b.Content
		if s.stringChunks {
			chunk = string(b.Content)
		}
		resp.Items = append(resp.Items, item{
			Chunk: attrValue{Value: chunk},
			KeyID: attrValue{Value: b.KeyID},
			Place: attrValue{Value: strconv.Itoa(b.Place)},
		})
	}
	s.finishLocked(req, http.StatusOK)
	writeJSON(w, http.StatusOK, resp)
}

type saveBody struct {
	StoryID   string `json:"story_id"`
	ChapterID string `json:"chapter_id"`
	Blocks    []struct {
		KeyID string          `json:"key_id"`
		Chunk json.RawMessage `json:"chunk"`
		Place int             `json:"place"`
	} `json:"blocks"`
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	storyID := mux.Vars(r)["story"]
	var body saveBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	req := Request{Route: RouteSave, Method: r.Method, StoryID: storyID, ChapterID: body.ChapterID}
	for _, b := range body.Blocks {
		req.Keys = append(req.Keys, b.KeyID)
	}
	if status := s.admitLocked(req); status != 0 {
		s.finishLocked(req, status)
		writeError(w, status)
		return
	}

	s.stories[storyID] = true
	ch := s.chapterLocked(storyID, body.ChapterID)
	for _, b := range body.Blocks {
		place := b.Place
		if prev, ok := ch[b.KeyID]; ok {
			place = prev.place
		}
		ch[b.KeyID] = storedBlock{chunk: append(json.RawMessage(nil), b.Chunk...), place: place}
	}
	s.finishLocked(req, http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]int{"saved": len(body.Blocks)})
}

type deleteBody struct {
	StoryID   string `json:"story_id"`
	ChapterID string `json:"chapter_id"`
	Blocks    []struct {
		KeyID string `json:"key_id"`
	} `json:"blocks"`
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	storyID := mux.Vars(r)["story"]
	var body deleteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	req := Request{Route: RouteDelete, Method: r.Method, StoryID: storyID, ChapterID: body.ChapterID}
	for _, b := range body.Blocks {
		req.Keys = append(req.Keys, b.KeyID)
	}
	if status := s.admitLocked(req); status != 0 {
		s.finishLocked(req, status)
		writeError(w, status)
		return
	}

	ch := s.chapterLocked(storyID, body.ChapterID)
	for _, b := range body.Blocks {
		delete(ch, b.KeyID)
	}
	s.finishLocked(req, http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]int{"deleted": len(body.Blocks)})
}

type orderBody struct {
	ChapterID string            `json:"chapter_id"`
	Blocks    []block.Placement `json:"blocks"`
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	storyID := mux.Vars(r)["story"]
	var body orderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	req := Request{Route: RouteOrder, Method: r.Method, StoryID: storyID, ChapterID: body.ChapterID}
	for _, p := range body.Blocks {
		req.Keys = append(req.Keys, p.KeyID)
	}
	if status := s.admitLocked(req); status != 0 {
		s.finishLocked(req, status)
		writeError(w, status)
		return
	}

	ch := s.chapterLocked(storyID, body.ChapterID)
	for _, p := range body.Blocks {
		if b, ok := ch[p.KeyID]; ok {
			b.place = p.Place
			ch[p.KeyID] = b
		}
	}
	s.finishLocked(req, http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]int{"ordered": len(body.Blocks)})
}
