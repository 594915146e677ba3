// Package events carries run notifications from the batch orchestrator to
// whatever front end is attached (terminal, HTTP poller).
package events

import (
	"sync"
	"time"
)

// Type classifies an event.
type Type string

const (
	TypeBatchStart      Type = "batch-start"
	TypeFileStart       Type = "file-start"
	TypePhase           Type = "phase"
	TypeFileDone        Type = "file-done"
	TypeProgress        Type = "progress"
	TypeLog             Type = "log"
	TypeBatchComplete   Type = "batch-complete"
	TypeBatchError      Type = "batch-error"
	TypeStopped         Type = "stopped"
	TypePreviewFileDone Type = "preview-file-done"
	TypePreviewComplete Type = "preview-complete"
)

// Event is a sequenced notification. Fields not relevant to Type are zero.
type Event struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Type      Type      `json:"type"`

	FileID string `json:"fileId,omitempty"`
	Name   string `json:"name,omitempty"`
	Phase  string `json:"phase,omitempty"`
	Status string `json:"status,omitempty"`

	Percent        float64 `json:"percent,omitempty"`
	OverallPercent float64 `json:"overallPercent,omitempty"`
	Completed      int     `json:"completed,omitempty"`
	Total          int     `json:"total,omitempty"`

	Message  string `json:"message,omitempty"`
	Original string `json:"original,omitempty"`
	Rendered string `json:"rendered,omitempty"`
	TempDir  string `json:"tempDir,omitempty"`
	Count    int    `json:"count,omitempty"`
}

// Publisher accepts events.
type Publisher interface {
	Publish(e Event) Event
}

// Bus stores recent events for incremental reads and fans them out to
// channel subscribers.
type Bus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	subs      map[int]chan Event
	nextSub   int
}

// Compile-time check that Bus implements Publisher.
var _ Publisher = (*Bus)(nil)

// NewBus creates a bus keeping at most maxEvents events (500 when <= 0).
func NewBus(maxEvents int) *Bus {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &Bus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		subs:      make(map[int]chan Event),
	}
}

// Publish assigns the next sequence number and a timestamp, stores the
// event and offers it to every subscriber. Subscribers whose buffer is
// full miss the event and can recover it with Since.
func (b *Bus) Publish(e Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	e.Seq = b.nextSeq
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, e)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
	return e
}

// Since returns stored events with sequence strictly greater than seq.
func (b *Bus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}
	out := make([]Event, 0, len(b.events))
	for _, e := range b.events {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// LastSeq returns the sequence number of the newest event.
func (b *Bus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}

// Subscribe returns a channel receiving future events and a function that
// unsubscribes and closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Terminal reports whether e ends a run.
func (e Event) Terminal() bool {
	switch e.Type {
	case TypeBatchComplete, TypeBatchError, TypeStopped, TypePreviewComplete:
		return true
	}
	return false
}
