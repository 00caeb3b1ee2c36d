package spool

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeStableFile(t *testing.T, path string, size int) {
	t.Helper()
	data := make([]byte, size)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestPollerEmitsEachSegmentOnceAndDeletesAfter(t *testing.T) {
	dir := t.TempDir()
	writeStableFile(t, filepath.Join(dir, "room_r1_prod_p1_00000.wav"), 8192)
	writeStableFile(t, filepath.Join(dir, "other_prefix_00000.wav"), 8192)

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{}, 1)

	p := Start(dir, "room_r1_prod_p1_", 20, func(path string) {
		mu.Lock()
		seen = append(seen, path)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	}, zerolog.Nop())
	defer p.Stop()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for segment to be emitted")
	}

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	count := len(seen)
	mu.Unlock()
	if count != 1 {
		t.Fatalf("expected exactly one emitted segment, got %d: %v", count, seen)
	}

	if _, err := os.Stat(filepath.Join(dir, "room_r1_prod_p1_00000.wav")); !os.IsNotExist(err) {
		t.Fatalf("expected forwarded segment to be unlinked, stat err: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "other_prefix_00000.wav")); err != nil {
		t.Fatalf("segment with a different prefix should be untouched: %v", err)
	}

	p.Stop()
}

func TestPollerStopIsIdempotentAndSynchronous(t *testing.T) {
	dir := t.TempDir()
	p := Start(dir, "prefix_", 20, func(string) {}, zerolog.Nop())
	p.Stop()
	p.Stop()
}

func TestPollerIgnoresSmallOrUnstableFiles(t *testing.T) {
	dir := t.TempDir()
	writeStableFile(t, filepath.Join(dir, "prefix_00000.wav"), 100)

	called := make(chan struct{}, 1)
	p := Start(dir, "prefix_", 20, func(string) {
		select {
		case called <- struct{}{}:
		default:
		}
	}, zerolog.Nop())
	defer p.Stop()

	select {
	case <-called:
		t.Fatal("small file should not stabilize within the wait window")
	case <-time.After(1500 * time.Millisecond):
	}
}
