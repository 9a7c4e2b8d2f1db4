package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/c360studio/storewatch/appstore"
)

// Built-in profile names.
const (
	ProfileAppleStore10K = "apple-store-10k"
	ProfileAppStoreApps  = "appstore-apps"
)

// Profile maps record fields to CSV column names. Empty mappings are
// skipped; every mapped column must exist in the file header.
type Profile struct {
	Name        string
	ID          string
	AppName     string
	Artist      string
	Category    string
	Price       string
	Currency    string
	Rating      string
	RatingCount string
	Version     string
	URL         string
	ReleaseDate string
	Description string
}

// profiles holds the built-in column mappings for the supported
// public datasets.
var profiles = map[string]Profile{
	ProfileAppleStore10K: {
		Name:        ProfileAppleStore10K,
		ID:          "id",
		AppName:     "track_name",
		Category:    "prime_genre",
		Price:       "price",
		Currency:    "currency",
		Rating:      "user_rating",
		RatingCount: "rating_count_tot",
		Version:     "ver",
	},
	ProfileAppStoreApps: {
		Name:        ProfileAppStoreApps,
		ID:          "App_Id",
		AppName:     "App_Name",
		Artist:      "Developer",
		Category:    "Primary_Genre",
		Price:       "Price",
		Currency:    "Currency",
		Rating:      "Average_User_Rating",
		RatingCount: "Reviews",
		Version:     "Version",
		URL:         "AppStore_Url",
		ReleaseDate: "Released",
	},
}

// LookupProfile returns a built-in profile by name.
func LookupProfile(name string) (Profile, bool) {
	p, ok := profiles[name]
	return p, ok
}

// ProfileNames lists the built-in profile names.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	return names
}

// DecodeStats counts rows handled during a CSV decode.
type DecodeStats struct {
	Rows    int
	Decoded int
	Skipped int
}

// columnIndex resolves the profile's columns against a header row.
// Unknown extra columns in the file are ignored; any mapped column
// missing from the header is an error.
type columnIndex map[string]int

func (p Profile) index(header []string) (columnIndex, error) {
	byName := make(map[string]int, len(header))
	for i, col := range header {
		byName[strings.TrimSpace(col)] = i
	}

	idx := make(columnIndex)
	for _, m := range []struct{ field, col string }{
		{"id", p.ID},
		{"name", p.AppName},
		{"artist", p.Artist},
		{"category", p.Category},
		{"price", p.Price},
		{"currency", p.Currency},
		{"rating", p.Rating},
		{"rating_count", p.RatingCount},
		{"version", p.Version},
		{"url", p.URL},
		{"release_date", p.ReleaseDate},
		{"description", p.Description},
	} {
		if m.col == "" {
			continue
		}
		i, ok := byName[m.col]
		if !ok {
			return nil, fmt.Errorf("profile %s: column %q not found in header", p.Name, m.col)
		}
		idx[m.field] = i
	}
	return idx, nil
}

func (idx columnIndex) get(row []string, field string) string {
	i, ok := idx[field]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// DecodeCSV reads CSV rows into normalized records using the profile's
// column mapping. Malformed or invalid rows are counted and skipped.
func (p Profile) DecodeCSV(r io.Reader) ([]appstore.Record, DecodeStats, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, DecodeStats{}, fmt.Errorf("read header: %w", err)
	}

	idx, err := p.index(header)
	if err != nil {
		return nil, DecodeStats{}, err
	}

	var (
		records []appstore.Record
		stats   DecodeStats
	)
	now := time.Now().UTC()

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			stats.Rows++
			stats.Skipped++
			continue
		}
		stats.Rows++

		rec := appstore.Record{
			ID:          idx.get(row, "id"),
			Name:        idx.get(row, "name"),
			ArtistName:  idx.get(row, "artist"),
			Category:    idx.get(row, "category"),
			Currency:    idx.get(row, "currency"),
			Version:     idx.get(row, "version"),
			URL:         idx.get(row, "url"),
			ReleaseDate: idx.get(row, "release_date"),
			Description: idx.get(row, "description"),
			Source:      appstore.SourceDataset,
			CollectedAt: now,
		}
		rec.Price, _ = strconv.ParseFloat(idx.get(row, "price"), 64)
		rec.Rating, _ = strconv.ParseFloat(idx.get(row, "rating"), 64)
		rec.RatingCount, _ = strconv.ParseInt(idx.get(row, "rating_count"), 10, 64)

		rec.Normalize()
		if err := rec.Validate(); err != nil {
			stats.Skipped++
			continue
		}

		records = append(records, rec)
		stats.Decoded++
	}

	return records, stats, nil
}
