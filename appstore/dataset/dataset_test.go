package dataset

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/storewatch/appstore"
)

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(`
datasets:
  - name: apple-store-10k
    url: https://example.com/archive.zip
    files: ["**/AppleStore.csv"]
    profile: apple-store-10k
`))
	require.NoError(t, err)
	require.Len(t, m.Datasets, 1)

	spec, ok := m.Lookup("apple-store-10k")
	require.True(t, ok)
	assert.True(t, spec.MatchFile("raw/AppleStore.csv"))
	assert.False(t, spec.MatchFile("raw/other.csv"))
}

func TestParseManifestErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", `datasets: []`},
		{"missing name", "datasets:\n  - profile: apple-store-10k\n    files: [\"*.csv\"]"},
		{"unknown profile", "datasets:\n  - name: x\n    profile: nope\n    files: [\"*.csv\"]"},
		{"no globs", "datasets:\n  - name: x\n    profile: apple-store-10k\n    files: []"},
		{"duplicate name", "datasets:\n  - name: x\n    profile: apple-store-10k\n    files: [\"*.csv\"]\n  - name: x\n    profile: apple-store-10k\n    files: [\"*.csv\"]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseManifest([]byte(tt.yaml)); err == nil {
				t.Error("invalid manifest accepted")
			}
		})
	}
}

func TestDefaultManifest(t *testing.T) {
	m := DefaultManifest()
	require.NoError(t, m.Validate())
	assert.Len(t, m.Datasets, 2)
}

const appleStoreCSV = `id,track_name,size_bytes,currency,price,rating_count_tot,user_rating,ver,prime_genre
281656475,PAC-MAN Premium,100788224,USD,3.99,21292,4.0,6.3.5,Games
281796108,Evernote - stay organized,158578688,USD,0,161065,4.0,8.2.2,Productivity
,Missing ID row,0,USD,0,0,0,1.0,Games
`

func TestDecodeCSVAppleStoreProfile(t *testing.T) {
	profile, ok := LookupProfile(ProfileAppleStore10K)
	require.True(t, ok)

	records, stats, err := profile.DecodeCSV(strings.NewReader(appleStoreCSV))
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Rows)
	assert.Equal(t, 2, stats.Decoded)
	assert.Equal(t, 1, stats.Skipped)
	require.Len(t, records, 2)

	pacman := records[0]
	assert.Equal(t, "281656475", pacman.ID)
	assert.Equal(t, "PAC-MAN Premium", pacman.Name)
	assert.Equal(t, "Games", pacman.Category)
	assert.Equal(t, 3.99, pacman.Price)
	assert.Equal(t, "USD", pacman.Currency)
	assert.Equal(t, 4.0, pacman.Rating)
	assert.Equal(t, int64(21292), pacman.RatingCount)
	assert.Equal(t, "6.3.5", pacman.Version)
	assert.Equal(t, appstore.SourceDataset, pacman.Source)
	assert.False(t, pacman.Free)

	assert.True(t, records[1].Free)
}

func TestDecodeCSVMissingRequiredColumn(t *testing.T) {
	profile, _ := LookupProfile(ProfileAppleStore10K)
	_, _, err := profile.DecodeCSV(strings.NewReader("foo,bar\n1,2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in header")
}

func TestDecodeCSVIgnoresUnknownColumns(t *testing.T) {
	profile, _ := LookupProfile(ProfileAppleStore10K)
	csv := "id,track_name,currency,price,rating_count_tot,user_rating,ver,prime_genre,mystery_column\n" +
		"42,Some App,USD,0,10,4.5,1.0,Games,whatever\n"
	records, stats, err := profile.DecodeCSV(strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Decoded)
	require.Len(t, records, 1)
	assert.Equal(t, "42", records[0].ID)
}

func TestDecodeCSVMissingMappedColumn(t *testing.T) {
	profile, _ := LookupProfile(ProfileAppleStore10K)
	// Header carries the ID and name columns but drops a mapped one.
	csv := "id,track_name,currency,price,rating_count_tot,ver,prime_genre\n" +
		"42,Some App,USD,0,10,1.0,Games\n"
	_, _, err := profile.DecodeCSV(strings.NewReader(csv))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user_rating")
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "data.zip")
	writeZip(t, archive, map[string]string{
		"nested/AppleStore.csv": appleStoreCSV,
		"readme.txt":            "docs",
	})

	dest := filepath.Join(dir, "out")
	extracted, err := ExtractZip(archive, dest)
	require.NoError(t, err)
	assert.Len(t, extracted, 2)

	data, err := os.ReadFile(filepath.Join(dest, "nested", "AppleStore.csv"))
	require.NoError(t, err)
	assert.Equal(t, appleStoreCSV, string(data))
}

func TestExtractZipRejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	writeZip(t, archive, map[string]string{
		"../escape.txt": "bad",
	})

	_, err := ExtractZip(archive, filepath.Join(dir, "out"))
	require.Error(t, err)
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("archive-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(srv.Client())

	path, err := d.Download(context.Background(), srv.URL+"/sets/apps.zip", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "apps.zip"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "archive-bytes", string(data))

	// Re-downloading identical content reuses the existing file.
	again, err := d.Download(context.Background(), srv.URL+"/sets/apps.zip", dir)
	require.NoError(t, err)
	assert.Equal(t, path, again)
}

func TestDownloadHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := NewDownloader(srv.Client())
	_, err := d.Download(context.Background(), srv.URL+"/x.zip", t.TempDir())
	require.Error(t, err)
}
