package docsync

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// EventType names an editor event in the JSON-lines feed.
type EventType string

const (
	// EventInsert adds one paragraph at Index with optional Content.
	EventInsert EventType = "insert"
	// EventEdit replaces the content of the paragraph named by Key.
	EventEdit EventType = "edit"
	// EventDelete removes the paragraph named by Key.
	EventDelete EventType = "delete"
	// EventPaste inserts Contents as consecutive paragraphs starting at Index.
	EventPaste EventType = "paste"
	// EventResync queues a full paragraph order sync.
	EventResync EventType = "resync"
	// EventFlush runs a queue pass immediately.
	EventFlush EventType = "flush"
)

// Event is one normalized block-level change from an editor.
type Event struct {
	Type     EventType         `json:"type" yaml:"type"`
	Key      string            `json:"key,omitempty" yaml:"key,omitempty"`
	Index    int               `json:"index,omitempty" yaml:"index,omitempty"`
	Content  json.RawMessage   `json:"content,omitempty" yaml:"-"`
	Contents []json.RawMessage `json:"contents,omitempty" yaml:"-"`
}

// Result reports what applying an event produced.
type Result struct {
	Type EventType `json:"type"`
	Keys []string  `json:"keys,omitempty"`
}

// ParseEvent decodes one feed line. Unknown fields are rejected.
func ParseEvent(line []byte) (Event, error) {
	var ev Event
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		return Event{}, fmt.Errorf("parse event: %w", err)
	}
	if err := ev.validate(); err != nil {
		return Event{}, fmt.Errorf("parse event: %w", err)
	}
	return ev, nil
}

func (ev Event) validate() error {
	switch ev.Type {
	case EventInsert, EventResync, EventFlush:
	case EventEdit, EventDelete:
		if ev.Key == "" {
			return fmt.Errorf("%s event needs a key", ev.Type)
		}
	case EventPaste:
		if len(ev.Contents) == 0 {
			return fmt.Errorf("paste event needs contents")
		}
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}

// Apply routes an event to the matching session method.
func (s *Session) Apply(ctx context.Context, ev Event) (Result, error) {
	if err := ev.validate(); err != nil {
		return Result{}, fmt.Errorf("apply event: %w", err)
	}
	res := Result{Type: ev.Type}

	switch ev.Type {
	case EventInsert:
		key, err := s.InsertParagraph(ctx, ev.Index, ev.Content)
		if err != nil {
			return res, err
		}
		res.Keys = []string{key}
	case EventEdit:
		if err := s.EditParagraph(ctx, ev.Key, ev.Content); err != nil {
			return res, err
		}
		res.Keys = []string{ev.Key}
	case EventDelete:
		if err := s.RemoveParagraph(ctx, ev.Key); err != nil {
			return res, err
		}
		res.Keys = []string{ev.Key}
	case EventPaste:
		keys, err := s.PasteParagraphs(ctx, ev.Index, ev.Contents)
		if err != nil {
			return res, err
		}
		res.Keys = keys
	case EventResync:
		if err := s.QueueParagraphOrderResync(ctx); err != nil {
			return res, err
		}
	case EventFlush:
		if err := s.ProcessQueueNow(ctx); err != nil {
			return res, err
		}
	}
	return res, nil
}

// feedLine is one non-blank line of an event feed.
type feedLine struct {
	n   int
	raw []byte
}

// ApplyStream applies every event in a JSON-lines feed, skipping blank
// lines. It stops at the first malformed line or failed event; handle is
// called after each applied event and may be nil.
//
// Lines are read on their own goroutine so a cancelled ctx returns at once
// even while r is blocked; the reader then exits with its next Read.
func (s *Session) ApplyStream(ctx context.Context, r io.Reader, handle func(Result)) (int, error) {
	lines := make(chan feedLine)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		n := 0
		for sc.Scan() {
			n++
			raw := bytes.TrimSpace(sc.Bytes())
			if len(raw) == 0 {
				continue
			}
			select {
			case lines <- feedLine{n: n, raw: append([]byte(nil), raw...)}:
			case <-done:
				return
			}
		}
		readErr <- sc.Err()
	}()

	applied := 0
	for {
		var l feedLine
		select {
		case <-ctx.Done():
			return applied, ctx.Err()
		case next, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					return applied, fmt.Errorf("read events: %w", err)
				}
				return applied, nil
			}
			l = next
		}

		ev, err := ParseEvent(l.raw)
		if err != nil {
			return applied, fmt.Errorf("line %d: %w", l.n, err)
		}
		res, err := s.Apply(ctx, ev)
		if err != nil {
			return applied, fmt.Errorf("line %d: %w", l.n, err)
		}
		applied++
		if handle != nil {
			handle(res)
		}
	}
}
