package upload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return condition()
}

func TestWatcherSubmitsSettledDrawings(t *testing.T) {
	backend := &fakeAPI{}
	pipeline := NewPipeline(backend, quietLogger())
	dir := t.TempDir()

	watcher, err := NewWatcher(pipeline, WatcherOptions{
		Dir:            dir,
		SettleDelay:    50 * time.Millisecond,
		SubmitInterval: 10 * time.Millisecond,
		Logger:         quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	// give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "sketch.png"), pngHeader, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, 5*time.Second, func() bool { return backend.reviewsCreated() >= 1 }) {
		t.Fatal("drawing was never submitted")
	}
	if got := backend.reviewsCreated(); got != 1 {
		t.Fatalf("reviews created = %d, want 1: the text file must be ignored", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}

func TestWatcherDedupesUnchangedFiles(t *testing.T) {
	backend := &fakeAPI{}
	pipeline := NewPipeline(backend, quietLogger())
	dir := t.TempDir()
	path := filepath.Join(dir, "sketch.png")
	if err := os.WriteFile(path, pngHeader, 0o644); err != nil {
		t.Fatal(err)
	}

	watcher, err := NewWatcher(pipeline, WatcherOptions{
		Dir:            dir,
		SettleDelay:    time.Millisecond,
		SubmitInterval: time.Millisecond,
		Burst:          5,
		Logger:         quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	settled := time.Now().Add(-time.Hour)
	watcher.pending[path] = settled
	watcher.flushSettled(context.Background())
	if got := backend.reviewsCreated(); got != 1 {
		t.Fatalf("reviews created = %d, want 1", got)
	}

	// re-announced with an unchanged mtime: skipped
	watcher.pending[path] = settled
	watcher.flushSettled(context.Background())
	if got := backend.reviewsCreated(); got != 1 {
		t.Fatalf("reviews created = %d after duplicate event, want 1", got)
	}

	// a real modification submits again
	if err := os.Chtimes(path, time.Now(), time.Now().Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	watcher.pending[path] = settled
	watcher.flushSettled(context.Background())
	if got := backend.reviewsCreated(); got != 2 {
		t.Fatalf("reviews created = %d after modification, want 2", got)
	}
}

func TestWatcherRequiresDirectory(t *testing.T) {
	pipeline := NewPipeline(&fakeAPI{}, quietLogger())
	if _, err := NewWatcher(pipeline, WatcherOptions{}); err == nil {
		t.Fatal("empty watch directory must be rejected")
	}
}

func TestWatcherSkipsInvalidFilesWithoutStopping(t *testing.T) {
	backend := &fakeAPI{}
	pipeline := NewPipeline(backend, quietLogger())
	dir := t.TempDir()

	watcher, err := NewWatcher(pipeline, WatcherOptions{
		Dir:            dir,
		SettleDelay:    50 * time.Millisecond,
		SubmitInterval: 10 * time.Millisecond,
		Logger:         quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// png extension but not image content: validation rejects it
	if err := os.WriteFile(filepath.Join(dir, "fake.png"), []byte("plain text"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)

	// the loop must still pick up a later valid drawing
	if err := os.WriteFile(filepath.Join(dir, "real.png"), pngHeader, 0o644); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 5*time.Second, func() bool { return backend.reviewsCreated() >= 1 }) {
		t.Fatal("valid drawing after a rejected one was never submitted")
	}

	cancel()
	<-done
}
