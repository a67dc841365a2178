package watcher

import (
	"sort"
	"sync"
	"time"
)

// BatchDebouncer collects events until a quiet period has passed, then emits
// them as one batch. Only the latest event for a path is kept.
type BatchDebouncer struct {
	delay  time.Duration
	emit   func([]Event)
	mu     sync.Mutex
	timer  *time.Timer
	events map[string]Event
}

// NewBatchDebouncer creates a debouncer that calls emit after delay without
// further events.
func NewBatchDebouncer(delay time.Duration, emit func([]Event)) *BatchDebouncer {
	return &BatchDebouncer{
		delay:  delay,
		emit:   emit,
		events: make(map[string]Event),
	}
}

// Add records an event and restarts the quiet period.
func (b *BatchDebouncer) Add(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.Path] = event
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.delay, b.Flush)
}

// Flush emits pending events immediately. Nothing is emitted when no events
// are pending.
func (b *BatchDebouncer) Flush() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	pending := b.drain()
	b.mu.Unlock()

	if len(pending) > 0 && b.emit != nil {
		b.emit(pending)
	}
}

// Cancel drops pending events.
func (b *BatchDebouncer) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.events = make(map[string]Event)
}

// Pending returns the number of paths waiting to be emitted.
func (b *BatchDebouncer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// drain returns pending events ordered by path. Callers hold b.mu.
func (b *BatchDebouncer) drain() []Event {
	if len(b.events) == 0 {
		return nil
	}
	out := make([]Event, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e)
	}
	b.events = make(map[string]Event)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
