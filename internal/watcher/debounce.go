package watcher

import (
	"sort"
	"sync"
	"time"
)

// EventType classifies a coalesced file event.
type EventType int

const (
	Create EventType = iota
	Modify
	Delete
)

func (t EventType) String() string {
	switch t {
	case Create:
		return "create"
	case Modify:
		return "modify"
	case Delete:
		return "delete"
	}
	return "unknown"
}

// Event is one coalesced file change.
type Event struct {
	Path string
	Type EventType
}

// Debouncer coalesces rapid per-file event bursts into one event per file.
// Editors save through temp-write-rename sequences that surface as several
// raw events within milliseconds; the debouncer waits out the burst and
// emits the net effect:
//
//	create then modify  -> create
//	create then delete  -> nothing
//	modify then delete  -> delete
//	delete then create  -> modify
type Debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]EventType
	timer   *time.Timer
	emit    func([]Event)
}

// NewDebouncer creates a debouncer that calls emit with the coalesced batch
// after window of quiet.
func NewDebouncer(window time.Duration, emit func([]Event)) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]EventType),
		emit:    emit,
	}
}

// Add records a raw event and restarts the quiet window.
func (d *Debouncer) Add(path string, t EventType) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.pending[path]; ok {
		merged, drop := coalesce(prev, t)
		if drop {
			delete(d.pending, path)
		} else {
			d.pending[path] = merged
		}
	} else {
		d.pending[path] = t
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.Flush)
}

// coalesce merges a new raw event into the pending one for the same path.
// drop means the two cancel out entirely.
func coalesce(prev, next EventType) (merged EventType, drop bool) {
	switch {
	case prev == Create && next == Modify:
		return Create, false
	case prev == Create && next == Delete:
		return 0, true
	case prev == Delete && next == Create:
		return Modify, false
	case next == Delete:
		return Delete, false
	default:
		return prev, false
	}
}

// Flush emits all pending events immediately, in path order.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	batch := make([]Event, 0, len(d.pending))
	for path, t := range d.pending {
		batch = append(batch, Event{Path: path, Type: t})
	}
	d.pending = make(map[string]EventType)
	d.mu.Unlock()

	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	d.emit(batch)
}

// Stop cancels any pending flush without emitting.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = make(map[string]EventType)
}
