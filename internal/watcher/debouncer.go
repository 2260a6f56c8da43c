package watcher

import (
	"sort"
	"sync"
	"time"
)

// BatchDebouncer collects events and emits them once no new event has
// arrived for the delay. Events for the same path collapse.
type BatchDebouncer struct {
	delay  time.Duration
	timer  *time.Timer
	mu     sync.Mutex
	events map[string]Event
	emit   func([]Event)
	emitMu sync.Mutex
	closed bool
}

// NewBatchDebouncer creates a new batch debouncer
func NewBatchDebouncer(delay time.Duration, emit func([]Event)) *BatchDebouncer {
	return &BatchDebouncer{
		delay:  delay,
		events: make(map[string]Event),
		emit:   emit,
	}
}

// Add adds an event to the batch and restarts the quiet period.
func (b *BatchDebouncer) Add(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	if prev, ok := b.events[event.Path]; ok {
		event.Type = merge(prev.Type, event.Type)
	}
	b.events[event.Path] = event

	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.delay, b.fire)
}

// merge keeps a creation visible when the new file is then written.
func merge(prev, next EventType) EventType {
	if prev == EventCreate && next == EventModify {
		return EventCreate
	}
	return next
}

func (b *BatchDebouncer) fire() {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	events := b.take()
	b.mu.Unlock()
	b.send(events)
}

// take drains pending events sorted by path. Callers hold mu.
func (b *BatchDebouncer) take() []Event {
	events := make([]Event, 0, len(b.events))
	for _, ev := range b.events {
		events = append(events, ev)
	}
	b.events = make(map[string]Event)
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	return events
}

func (b *BatchDebouncer) send(events []Event) {
	if len(events) > 0 && b.emit != nil {
		b.emit(events)
	}
}

// Cancel cancels any pending emission
func (b *BatchDebouncer) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.events = make(map[string]Event)
}

// Flush immediately emits any pending events
func (b *BatchDebouncer) Flush() {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	events := b.take()
	b.mu.Unlock()
	b.send(events)
}

// Close flushes pending events, waits for a running emission and
// ignores every later Add.
func (b *BatchDebouncer) Close() {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	b.closed = true
	events := b.take()
	b.mu.Unlock()
	b.send(events)
}

// EventCount returns the number of pending events
func (b *BatchDebouncer) EventCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
