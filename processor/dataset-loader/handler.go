package datasetloader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360studio/storewatch/appstore"
	"github.com/c360studio/storewatch/appstore/dataset"
)

// LoadResult holds the outcome of loading one dataset.
type LoadResult struct {
	Dataset string
	Files   []string
	Stats   dataset.DecodeStats
	Records []appstore.Record
}

// Handler downloads dataset archives and decodes their CSV files into
// records.
type Handler struct {
	manifest   *dataset.Manifest
	downloader *dataset.Downloader
	workDir    string
	logger     *slog.Logger
}

// NewHandler creates a dataset load handler. workDir holds downloads
// and extracted archives.
func NewHandler(manifest *dataset.Manifest, downloader *dataset.Downloader, workDir string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		manifest:   manifest,
		downloader: downloader,
		workDir:    workDir,
		logger:     logger,
	}
}

// LoadDataset downloads a manifest dataset and decodes every matching
// CSV file inside it.
func (h *Handler) LoadDataset(ctx context.Context, name string) (*LoadResult, error) {
	spec, ok := h.manifest.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown dataset: %q", name)
	}
	if spec.URL == "" {
		return nil, fmt.Errorf("dataset %q has no download URL", name)
	}

	archivePath, err := h.downloader.Download(ctx, spec.URL, filepath.Join(h.workDir, "downloads"))
	if err != nil {
		return nil, fmt.Errorf("download dataset %q: %w", name, err)
	}

	result := &LoadResult{Dataset: spec.Name}

	if strings.EqualFold(filepath.Ext(archivePath), ".zip") {
		extractDir := filepath.Join(h.workDir, "extract", spec.Name)
		files, err := dataset.ExtractZip(archivePath, extractDir)
		if err != nil {
			return nil, fmt.Errorf("extract dataset %q: %w", name, err)
		}
		for _, file := range files {
			relPath, err := filepath.Rel(extractDir, file)
			if err != nil || !spec.MatchFile(filepath.ToSlash(relPath)) {
				continue
			}
			if err := h.decodeInto(result, spec, file); err != nil {
				return nil, err
			}
		}
	} else {
		if err := h.decodeInto(result, spec, archivePath); err != nil {
			return nil, err
		}
	}

	if len(result.Files) == 0 {
		return nil, fmt.Errorf("dataset %q: no files matched globs %v", name, spec.Files)
	}
	return result, nil
}

// LoadAll loads every manifest dataset that has a download URL.
// Datasets that fail to load are logged and skipped; loading fails
// only when no dataset yields a result.
func (h *Handler) LoadAll(ctx context.Context) ([]*LoadResult, error) {
	var results []*LoadResult
	var lastErr error
	for _, spec := range h.manifest.Datasets {
		if spec.URL == "" {
			continue
		}
		result, err := h.LoadDataset(ctx, spec.Name)
		if err != nil {
			h.logger.Error("Failed to load dataset", "dataset", spec.Name, "error", err)
			lastErr = err
			continue
		}
		results = append(results, result)
	}
	if len(results) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("no datasets loaded: %w", lastErr)
		}
		return nil, fmt.Errorf("manifest has no downloadable datasets")
	}
	return results, nil
}

// LoadFile decodes a single dropped CSV file. The dataset is resolved
// by matching the path relative to the drop directory against the
// manifest globs.
func (h *Handler) LoadFile(relPath, absPath string) (*LoadResult, error) {
	spec, ok := h.specForFile(relPath)
	if !ok {
		return nil, fmt.Errorf("no dataset matches dropped file %q", relPath)
	}

	result := &LoadResult{Dataset: spec.Name}
	if err := h.decodeInto(result, spec, absPath); err != nil {
		return nil, err
	}
	return result, nil
}

// specForFile returns the first manifest dataset whose globs match the
// relative path.
func (h *Handler) specForFile(relPath string) (dataset.Spec, bool) {
	relPath = filepath.ToSlash(relPath)
	for _, spec := range h.manifest.Datasets {
		if spec.MatchFile(relPath) {
			return spec, true
		}
	}
	return dataset.Spec{}, false
}

// decodeInto decodes one CSV file and accumulates its records and
// stats into the result.
func (h *Handler) decodeInto(result *LoadResult, spec dataset.Spec, path string) error {
	profile, ok := dataset.LookupProfile(spec.Profile)
	if !ok {
		return fmt.Errorf("dataset %q: unknown profile %q", spec.Name, spec.Profile)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	records, stats, err := profile.DecodeCSV(f)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	h.logger.Info("Decoded dataset file",
		"dataset", spec.Name,
		"file", filepath.Base(path),
		"rows", stats.Rows,
		"decoded", stats.Decoded,
		"skipped", stats.Skipped)

	result.Files = append(result.Files, filepath.Base(path))
	result.Stats.Rows += stats.Rows
	result.Stats.Decoded += stats.Decoded
	result.Stats.Skipped += stats.Skipped
	result.Records = append(result.Records, records...)
	return nil
}
