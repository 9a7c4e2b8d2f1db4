package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/c360studio/storewatch/appstore"
)

// snapshotTimeFormat names raw snapshot files down to the second.
const snapshotTimeFormat = "20060102_150405"

// RawStore archives raw collection payloads as timestamped JSON files
// under <dataDir>/raw/{api,scraped,dataset}. Files are write-once so a
// re-collection never overwrites an earlier snapshot.
type RawStore struct {
	root string
}

// NewRawStore creates the raw snapshot directory tree under dataDir.
func NewRawStore(dataDir string) (*RawStore, error) {
	root := filepath.Join(dataDir, "raw")
	for _, src := range []appstore.Source{appstore.SourceAPI, appstore.SourceScrape, appstore.SourceDataset} {
		if err := os.MkdirAll(filepath.Join(root, sourceDir(src)), 0o755); err != nil {
			return nil, fmt.Errorf("create raw directory: %w", err)
		}
	}
	return &RawStore{root: root}, nil
}

// sourceDir maps a source to its snapshot subdirectory.
func sourceDir(src appstore.Source) string {
	if src == appstore.SourceScrape {
		return "scraped"
	}
	return string(src)
}

// Write archives a payload and returns the snapshot path. The name is
// sanitized to a flat filename component.
func (r *RawStore) Write(src appstore.Source, name string, payload any) (string, error) {
	if _, err := appstore.ParseSource(string(src)); err != nil {
		return "", err
	}
	name = sanitizeName(name)
	if name == "" {
		return "", fmt.Errorf("empty snapshot name")
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	stamp := time.Now().UTC().Format(snapshotTimeFormat)
	dir := filepath.Join(r.root, sourceDir(src))

	// Same-second writes for the same name get a numeric suffix.
	for i := 0; ; i++ {
		filename := fmt.Sprintf("%s_%s.json", name, stamp)
		if i > 0 {
			filename = fmt.Sprintf("%s_%s_%d.json", name, stamp, i)
		}
		path := filepath.Join(dir, filename)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create snapshot: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", fmt.Errorf("write snapshot: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close snapshot: %w", err)
		}
		return path, nil
	}
}

// List returns snapshot paths for a source, oldest first.
func (r *RawStore) List(src appstore.Source) ([]string, error) {
	if _, err := appstore.ParseSource(string(src)); err != nil {
		return nil, err
	}

	dir := filepath.Join(r.root, sourceDir(src))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read snapshot directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// sanitizeName reduces a snapshot name to a safe filename component.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-.")
}
