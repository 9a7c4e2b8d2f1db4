package datasetloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// eventChannelBuffer is the size of the drop event channel.
const eventChannelBuffer = 500

// WatchConfig configures the CSV drop directory watcher.
type WatchConfig struct {
	// Enabled controls whether the drop directory is watched.
	Enabled bool `json:"enabled" schema:"type:bool,description:Enable watching the drop directory for CSV files,category:advanced,default:false"`

	// DropDir is the directory watched for dropped CSV files.
	DropDir string `json:"drop_dir" schema:"type:string,description:Directory watched for dropped CSV files,category:basic,default:./data/drop"`

	// DebounceDelay is how long to wait for more changes before processing.
	DebounceDelay string `json:"debounce_delay" schema:"type:string,description:Debounce delay before processing dropped files,category:advanced,default:2s"`
}

// DefaultWatchConfig returns default watch configuration.
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		Enabled:       false,
		DropDir:       "./data/drop",
		DebounceDelay: "2s",
	}
}

// Validate checks the watch configuration.
func (c *WatchConfig) Validate() error {
	if c.DebounceDelay != "" {
		if _, err := time.ParseDuration(c.DebounceDelay); err != nil {
			return err
		}
	}
	return nil
}

// GetDropDir returns the drop directory with default.
func (c *WatchConfig) GetDropDir() string {
	if c.DropDir == "" {
		return "./data/drop"
	}
	return c.DropDir
}

// GetDebounceDelay returns the debounce delay as a duration.
func (c *WatchConfig) GetDebounceDelay() time.Duration {
	if c.DebounceDelay == "" {
		return 2 * time.Second
	}
	d, err := time.ParseDuration(c.DebounceDelay)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// DropEvent is a CSV file that appeared or changed in the drop
// directory.
type DropEvent struct {
	// Path is the file path relative to the drop directory.
	Path string

	// AbsPath is the absolute file path.
	AbsPath string
}

// DropWatcher watches the drop directory for CSV files. Deleted files
// emit nothing; a dropped CSV that does not change content is ingested
// once.
type DropWatcher struct {
	config  WatchConfig
	dropDir string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	// Debouncing: collect changes before processing
	pendingMu sync.Mutex
	pending   map[string]struct{}

	// Hash-based change detection
	hashMu sync.RWMutex
	hashes map[string]string

	// Output channel
	events chan DropEvent

	// Metrics
	droppedEvents atomic.Int64
}

// NewDropWatcher creates a drop directory watcher.
func NewDropWatcher(config WatchConfig, logger *slog.Logger) (*DropWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &DropWatcher{
		config:  config,
		dropDir: config.GetDropDir(),
		watcher: fsw,
		logger:  logger,
		pending: make(map[string]struct{}),
		hashes:  make(map[string]string),
		events:  make(chan DropEvent, eventChannelBuffer),
	}, nil
}

// Events returns the channel of drop events.
func (w *DropWatcher) Events() <-chan DropEvent {
	return w.events
}

// Start begins watching the drop directory.
func (w *DropWatcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dropDir, 0755); err != nil {
		return err
	}

	if err := w.addWatchesRecursive(w.dropDir); err != nil {
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("Drop directory watcher started",
		"drop_dir", w.dropDir,
		"debounce", w.config.GetDebounceDelay())

	return nil
}

// Stop stops the watcher. The events channel is closed by
// processEvents when it exits.
func (w *DropWatcher) Stop() error {
	return w.watcher.Close()
}

// addWatchesRecursive adds watches to the drop directory and any
// dataset subdirectories. Hidden directories are skipped.
func (w *DropWatcher) addWatchesRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}

		base := filepath.Base(path)
		if strings.HasPrefix(base, ".") && path != root {
			return filepath.SkipDir
		}

		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// processEvents handles fsnotify events with debouncing.
func (w *DropWatcher) processEvents(ctx context.Context) {
	defer close(w.events)
	ticker := time.NewTicker(w.config.GetDebounceDelay())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.flushPending(ctx)
		}
	}
}

// handleFSEvent records a single fsnotify event for the next flush.
func (w *DropWatcher) handleFSEvent(event fsnotify.Event) {
	path := event.Name

	if strings.ToLower(filepath.Ext(path)) != ".csv" {
		// Watch newly created dataset subdirectories.
		if event.Has(fsnotify.Create) {
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				w.handleNewDirectory(path)
			}
		}
		return
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		relPath, _ := filepath.Rel(w.dropDir, path)
		w.hashMu.Lock()
		delete(w.hashes, relPath)
		w.hashMu.Unlock()
		return
	}

	w.pendingMu.Lock()
	w.pending[path] = struct{}{}
	w.pendingMu.Unlock()
}

// handleNewDirectory adds a watch to a newly created subdirectory.
func (w *DropWatcher) handleNewDirectory(path string) {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}
	if err := w.watcher.Add(path); err != nil {
		w.logger.Warn("Failed to watch new directory", "path", path, "error", err)
	}
}

// flushPending emits events for files whose content actually changed.
func (w *DropWatcher) flushPending(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	toProcess := make([]string, 0, len(w.pending))
	for path := range w.pending {
		toProcess = append(toProcess, path)
	}
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	for _, path := range toProcess {
		select {
		case <-ctx.Done():
			return
		default:
		}

		relPath, _ := filepath.Rel(w.dropDir, path)

		content, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				w.logger.Warn("Failed to read dropped file", "path", relPath, "error", err)
			}
			continue
		}

		sum := sha256.Sum256(content)
		newHash := hex.EncodeToString(sum[:])

		w.hashMu.Lock()
		oldHash, seen := w.hashes[relPath]
		w.hashes[relPath] = newHash
		w.hashMu.Unlock()

		if seen && oldHash == newHash {
			continue
		}

		w.sendEvent(DropEvent{Path: relPath, AbsPath: path})
	}
}

// sendEvent sends an event to the output channel.
func (w *DropWatcher) sendEvent(event DropEvent) {
	select {
	case w.events <- event:
	default:
		dropped := w.droppedEvents.Add(1)
		w.logger.Warn("Event channel full, dropping event",
			"path", event.Path,
			"total_dropped", dropped)
	}
}

// DroppedEvents returns the number of events dropped due to channel overflow.
func (w *DropWatcher) DroppedEvents() int64 {
	return w.droppedEvents.Load()
}
