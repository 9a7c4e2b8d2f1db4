package dataset

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxArchiveSize caps dataset archive downloads.
const maxArchiveSize = 500 * 1024 * 1024

// maxExtractedFileSize caps a single extracted file.
const maxExtractedFileSize = 1024 * 1024 * 1024

// Downloader fetches dataset archives over HTTP.
type Downloader struct {
	client *http.Client
}

// NewDownloader creates a Downloader. A nil client uses a default with
// a generous timeout suited to large archives.
func NewDownloader(client *http.Client) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Downloader{client: client}
}

// Download fetches a dataset file into destDir and returns its path.
// The filename is derived from the URL; an existing file with the same
// content hash is reused instead of re-downloaded.
func (d *Downloader) Download(ctx context.Context, rawURL, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("create dest dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: HTTP %d", rawURL, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(destDir, "download-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, hasher), io.LimitReader(resp.Body, maxArchiveSize+1))
	closeErr := tmp.Close()
	if err != nil {
		return "", fmt.Errorf("write download: %w", err)
	}
	if closeErr != nil {
		return "", fmt.Errorf("close download: %w", closeErr)
	}
	if n > maxArchiveSize {
		return "", fmt.Errorf("archive too large (exceeds %d bytes)", int64(maxArchiveSize))
	}

	hash := hex.EncodeToString(hasher.Sum(nil))
	dest := filepath.Join(destDir, downloadFilename(rawURL))

	if existing, err := fileHash(dest); err == nil && existing == hash {
		return dest, nil
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("move download into place: %w", err)
	}
	return dest, nil
}

// downloadFilename derives a local filename from a download URL.
func downloadFilename(rawURL string) string {
	base := filepath.Base(strings.SplitN(rawURL, "?", 2)[0])
	if base == "" || base == "." || base == "/" {
		return "dataset.zip"
	}
	if filepath.Ext(base) == "" {
		base += ".zip"
	}
	return base
}

// fileHash returns the sha256 hex digest of a file.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// ExtractZip extracts an archive into destDir and returns the
// extracted file paths. Entries escaping the destination are rejected.
func ExtractZip(archivePath, destDir string) ([]string, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("create dest dir: %w", err)
	}

	var extracted []string
	for _, file := range reader.File {
		if file.FileInfo().IsDir() {
			continue
		}

		dest := filepath.Join(destDir, filepath.Clean(file.Name))
		if !strings.HasPrefix(dest, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return nil, fmt.Errorf("archive entry escapes destination: %q", file.Name)
		}

		if err := extractFile(file, dest); err != nil {
			return nil, fmt.Errorf("extract %s: %w", file.Name, err)
		}
		extracted = append(extracted, dest)
	}

	return extracted, nil
}

func extractFile(file *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}

	_, err = io.Copy(out, io.LimitReader(src, maxExtractedFileSize))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return err
}
