package datasetloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestWatcher(t *testing.T, dropDir string) *DropWatcher {
	t.Helper()
	config := WatchConfig{
		Enabled:       true,
		DropDir:       dropDir,
		DebounceDelay: "50ms",
	}
	watcher, err := NewDropWatcher(config, nil)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	t.Cleanup(func() { _ = watcher.Stop() })
	return watcher
}

func TestWatchConfigGetDebounceDelay(t *testing.T) {
	tests := []struct {
		name   string
		delay  string
		expect time.Duration
	}{
		{name: "valid duration", delay: "100ms", expect: 100 * time.Millisecond},
		{name: "empty string uses default", delay: "", expect: 2 * time.Second},
		{name: "invalid duration uses default", delay: "invalid", expect: 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := WatchConfig{DebounceDelay: tt.delay}
			got := config.GetDebounceDelay()
			if got != tt.expect {
				t.Errorf("GetDebounceDelay() = %v, want %v", got, tt.expect)
			}
		})
	}
}

func TestDefaultWatchConfig(t *testing.T) {
	config := DefaultWatchConfig()

	if config.Enabled {
		t.Error("default config should have watching disabled")
	}
	if config.DropDir != "./data/drop" {
		t.Errorf("unexpected default drop dir: %s", config.DropDir)
	}
	if config.DebounceDelay != "2s" {
		t.Errorf("unexpected default debounce delay: %s", config.DebounceDelay)
	}
}

func TestDropWatcherFileCreation(t *testing.T) {
	tmpDir := t.TempDir()
	watcher := newTestWatcher(t, tmpDir)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := watcher.Start(ctx); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}

	// Give watcher time to set up
	time.Sleep(100 * time.Millisecond)

	testFile := filepath.Join(tmpDir, "apps.csv")
	if err := os.WriteFile(testFile, []byte("id,name\n1,App\n"), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	select {
	case event := <-watcher.Events():
		if event.Path != "apps.csv" {
			t.Errorf("expected path apps.csv, got %s", event.Path)
		}
		if event.AbsPath != testFile {
			t.Errorf("expected abs path %s, got %s", testFile, event.AbsPath)
		}
	case <-time.After(3 * time.Second):
		t.Error("timeout waiting for drop event")
	}
}

func TestDropWatcherIgnoresNonCSVFiles(t *testing.T) {
	tmpDir := t.TempDir()
	watcher := newTestWatcher(t, tmpDir)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := watcher.Start(ctx); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	testFile := filepath.Join(tmpDir, "notes.txt")
	if err := os.WriteFile(testFile, []byte("not a dataset"), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	select {
	case event := <-watcher.Events():
		t.Errorf("unexpected event for non-CSV file: %+v", event)
	case <-time.After(300 * time.Millisecond):
		// Expected
	}
}

func TestDropWatcherSkipsUnchangedContent(t *testing.T) {
	tmpDir := t.TempDir()
	watcher := newTestWatcher(t, tmpDir)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := watcher.Start(ctx); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	content := []byte("id,name\n1,App\n")
	testFile := filepath.Join(tmpDir, "apps.csv")
	if err := os.WriteFile(testFile, content, 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	select {
	case <-watcher.Events():
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for first drop event")
	}

	// Rewrite the same bytes
	if err := os.WriteFile(testFile, content, 0644); err != nil {
		t.Fatalf("failed to rewrite test file: %v", err)
	}

	select {
	case event := <-watcher.Events():
		t.Errorf("unexpected event when content unchanged: %+v", event)
	case <-time.After(300 * time.Millisecond):
		// Expected
	}
}

func TestDropWatcherDroppedEvents(t *testing.T) {
	watcher := newTestWatcher(t, t.TempDir())

	if watcher.DroppedEvents() != 0 {
		t.Errorf("expected 0 dropped events, got %d", watcher.DroppedEvents())
	}
}
