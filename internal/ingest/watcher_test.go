package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitPath(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed while waiting for %s", want)
			}
			if p == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestWatcherEmitsDroppedFiles(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "old.html")
	if err := os.WriteFile(existing, []byte("<p>old</p>"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	paths, err := StartWatcher(ctx, WatchConfig{
		Root:        dir,
		InitialScan: true,
		Debounce:    20 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("StartWatcher: %v", err)
	}

	// Initial scan picks up what was already there.
	waitPath(t, paths, existing)

	dropped := filepath.Join(dir, "new.pdf")
	if err := os.WriteFile(dropped, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatalf("write dropped: %v", err)
	}
	waitPath(t, paths, dropped)

	// A disallowed extension never surfaces; the next allowed drop does.
	if err := os.WriteFile(filepath.Join(dir, "skip.zip"), []byte("zip"), 0o644); err != nil {
		t.Fatalf("write zip: %v", err)
	}
	follow := filepath.Join(dir, "after.txt")
	if err := os.WriteFile(follow, []byte("text"), 0o644); err != nil {
		t.Fatalf("write follow: %v", err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case p, ok := <-paths:
			if !ok {
				t.Fatal("channel closed early")
			}
			if filepath.Ext(p) == ".zip" {
				t.Fatalf("disallowed file emitted: %s", p)
			}
			if p == follow {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for follow-up drop")
		}
	}
}

func TestWatcherClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	paths, err := StartWatcher(ctx, WatchConfig{Root: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("StartWatcher: %v", err)
	}
	cancel()
	select {
	case _, ok := <-paths:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestWatcherRequiresRoot(t *testing.T) {
	if _, err := StartWatcher(context.Background(), WatchConfig{}, nil); err == nil {
		t.Fatal("expected error for empty root")
	}
}
