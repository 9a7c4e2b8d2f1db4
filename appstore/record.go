// Package appstore defines the normalized app record model shared by
// the collectors, the merger, and the catalog API.
package appstore

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies where a record was collected from.
type Source string

// Collection sources in ascending default trust order.
const (
	SourceDataset Source = "dataset"
	SourceScrape  Source = "scrape"
	SourceAPI     Source = "api"
)

// ParseSource parses a source string.
func ParseSource(s string) (Source, error) {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case SourceDataset:
		return SourceDataset, nil
	case SourceScrape:
		return SourceScrape, nil
	case SourceAPI:
		return SourceAPI, nil
	default:
		return "", fmt.Errorf("unknown source: %q", s)
	}
}

// Record is a normalized app record. The ID field is the numeric track
// identifier assigned by the store and is the merge key across sources.
type Record struct {
	ID          string    `json:"id"`
	BundleID    string    `json:"bundle_id,omitempty"`
	Name        string    `json:"name"`
	ArtistName  string    `json:"artist_name,omitempty"`
	Category    string    `json:"category,omitempty"`
	GenreID     int       `json:"genre_id,omitempty"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency,omitempty"`
	Free        bool      `json:"free"`
	Rating      float64   `json:"rating,omitempty"`
	RatingCount int64     `json:"rating_count,omitempty"`
	Description string    `json:"description,omitempty"`
	Version     string    `json:"version,omitempty"`
	ReleaseDate string    `json:"release_date,omitempty"`
	URL         string    `json:"url,omitempty"`
	IconURL     string    `json:"icon_url,omitempty"`
	ChartType   string    `json:"chart_type,omitempty"`
	ChartRank   int       `json:"chart_rank,omitempty"`
	Country     string    `json:"country,omitempty"`
	Source      Source    `json:"source"`
	CollectedAt time.Time `json:"collected_at"`
}

// Validate checks that the record can participate in merging.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("record ID is required")
	}
	if _, err := ParseSource(string(r.Source)); err != nil {
		return err
	}
	return nil
}

// Normalize trims string fields, derives the Free flag from the price,
// and clamps the rating into the store's 0..5 scale.
func (r *Record) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.BundleID = strings.TrimSpace(r.BundleID)
	r.Name = strings.TrimSpace(r.Name)
	r.ArtistName = strings.TrimSpace(r.ArtistName)
	r.Category = strings.TrimSpace(r.Category)
	r.Description = strings.TrimSpace(r.Description)
	r.Version = strings.TrimSpace(r.Version)
	r.Country = strings.ToLower(strings.TrimSpace(r.Country))

	if r.Price < 0 {
		r.Price = 0
	}
	r.Free = r.Price == 0

	if r.Rating < 0 {
		r.Rating = 0
	}
	if r.Rating > 5 {
		r.Rating = 5
	}
	if r.RatingCount < 0 {
		r.RatingCount = 0
	}
	if r.CollectedAt.IsZero() {
		r.CollectedAt = time.Now().UTC()
	}
}
