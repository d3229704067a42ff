package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherCoalescesBursts(t *testing.T) {
	dir := t.TempDir()
	fired := make(chan struct{}, 16)

	w, err := New(dir, 50*time.Millisecond, func() { fired <- struct{}{} }, nil)
	if err != nil {
		t.Fatalf("new watcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 5; i++ {
		name := filepath.Join(dir, "file"+string(rune('a'+i))+".json")
		if err := os.WriteFile(name, []byte("{}"), 0o644); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("callback did not fire")
	}
	// The burst settles into at most one trailing callback.
	time.Sleep(200 * time.Millisecond)
	if extra := len(fired); extra > 1 {
		t.Fatalf("expected at most one extra callback, got %d", extra)
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWatcherIgnoresTempFiles(t *testing.T) {
	if !isTempFile("/cache/submissions/.sub1.json.tmp-123") {
		t.Fatalf("staging file not recognized")
	}
	if isTempFile("/cache/submissions/sub1.json") {
		t.Fatalf("entity file misclassified as staging")
	}
}

func TestWatcherRejectsMissingCallback(t *testing.T) {
	if _, err := New(t.TempDir(), 0, nil, nil); err == nil {
		t.Fatalf("expected an error without a callback")
	}
}
