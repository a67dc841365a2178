package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codetax/internal/slogutil"
)

func TestEventTypeString(t *testing.T) {
	tests := []struct {
		eventType EventType
		want      string
	}{
		{EventCreate, "create"},
		{EventModify, "modify"},
		{EventDelete, "delete"},
		{EventRename, "rename"},
		{EventType(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.eventType.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.DebounceMs != 500 {
		t.Errorf("DebounceMs = %d, want 500", config.DebounceMs)
	}
	if len(config.IgnorePatterns) == 0 {
		t.Error("IgnorePatterns should not be empty")
	}
}

func TestWatcherIsIgnored(t *testing.T) {
	w, err := New(DefaultConfig(), slogutil.NewDiscardLogger(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = w.fsw.Close() }()

	tests := []struct {
		path    string
		ignored bool
	}{
		{"debug.log", true},
		{"logs/debug.log", true},
		{"temp.tmp", true},
		{"node_modules/package/index.js", true},
		{"node_modules/", true},
		{"app/node_modules/", true},
		{".git/config", true},
		{"frontend/.codetax/history.db", true},
		{"main.go", false},
		{"src/app.ts", false},
		{"src/", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := w.IsIgnored(tt.path); got != tt.ignored {
				t.Errorf("IsIgnored(%q) = %v, want %v", tt.path, got, tt.ignored)
			}
		})
	}
}

func TestBatchDebouncerCoalescesByPath(t *testing.T) {
	var mu sync.Mutex
	var batches [][]Event
	done := make(chan struct{}, 1)

	b := NewBatchDebouncer(20*time.Millisecond, func(events []Event) {
		mu.Lock()
		batches = append(batches, events)
		mu.Unlock()
		done <- struct{}{}
	})

	b.Add(Event{Type: EventCreate, Path: "b.go"})
	b.Add(Event{Type: EventCreate, Path: "a.go"})
	b.Add(Event{Type: EventModify, Path: "b.go"})
	if b.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", b.Pending())
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	got := batches[0]
	if len(got) != 2 || got[0].Path != "a.go" || got[1].Path != "b.go" {
		t.Fatalf("batch = %+v, want a.go then b.go", got)
	}
	if got[1].Type != EventModify {
		t.Errorf("b.go type = %v, want latest event (modify)", got[1].Type)
	}
}

func TestBatchDebouncerCancel(t *testing.T) {
	var mu sync.Mutex
	called := false
	b := NewBatchDebouncer(20*time.Millisecond, func([]Event) {
		mu.Lock()
		called = true
		mu.Unlock()
	})

	b.Add(Event{Type: EventCreate, Path: "file.go"})
	b.Cancel()
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if called {
		t.Error("emit should not be called after cancel")
	}
	if b.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 after cancel", b.Pending())
	}
}

func TestBatchDebouncerFlush(t *testing.T) {
	var received []Event
	b := NewBatchDebouncer(time.Hour, func(events []Event) { received = events })

	b.Flush()
	if received != nil {
		t.Error("emit should not be called with no events")
	}

	b.Add(Event{Type: EventCreate, Path: "file.go"})
	b.Flush()
	if len(received) != 1 {
		t.Errorf("received %d events, want 1", len(received))
	}
	if b.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 after flush", b.Pending())
	}
}

func TestWatcherReportsChanges(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "src"), 0o755); err != nil {
		t.Fatal(err)
	}

	batches := make(chan []Event, 4)
	config := DefaultConfig()
	config.DebounceMs = 50
	w, err := New(config, slogutil.NewDiscardLogger(), func(events []Event) { batches <- events })
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Add(root); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if roots := w.WatchedRoots(); len(roots) != 1 {
		t.Fatalf("WatchedRoots() = %v", roots)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	if err := os.WriteFile(filepath.Join(root, "src", "main.py"), []byte("def main(): pass\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "src", "debug.log"), []byte("noise\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case events := <-batches:
		for _, e := range events {
			if filepath.Base(e.Path) == "debug.log" {
				t.Errorf("ignored file reported: %+v", e)
			}
		}
		found := false
		for _, e := range events {
			if e.Path == filepath.Join(w.WatchedRoots()[0], "src", "main.py") {
				found = true
			}
		}
		if !found {
			t.Errorf("main.py not reported in %+v", events)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change batch received")
	}
}

func TestWatcherAddSkipsNestedRoots(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "frontend", "app")
	sibling := filepath.Join(t.TempDir(), "backend")
	for _, dir := range []string{nested, sibling} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	w, err := New(DefaultConfig(), slogutil.NewDiscardLogger(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = w.fsw.Close() }()

	for _, dir := range []string{root, nested, root, sibling} {
		if err := w.Add(dir); err != nil {
			t.Fatalf("Add(%s) error = %v", dir, err)
		}
	}
	if roots := w.WatchedRoots(); len(roots) != 2 {
		t.Errorf("WatchedRoots() = %v, want the root and the sibling only", roots)
	}
}
