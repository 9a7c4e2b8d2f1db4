package itunes

import (
	"strconv"
	"time"

	"github.com/c360studio/storewatch/appstore"
)

// searchResponse is the wire format shared by the search and lookup
// endpoints.
type searchResponse struct {
	ResultCount int           `json:"resultCount"`
	Results     []trackResult `json:"results"`
}

// trackResult is a single software result from the search API.
type trackResult struct {
	TrackID          int64   `json:"trackId"`
	TrackName        string  `json:"trackName"`
	BundleID         string  `json:"bundleId"`
	ArtistName       string  `json:"artistName"`
	PrimaryGenreName string  `json:"primaryGenreName"`
	PrimaryGenreID   int     `json:"primaryGenreId"`
	Price            float64 `json:"price"`
	Currency         string  `json:"currency"`
	AverageRating    float64 `json:"averageUserRating"`
	UserRatingCount  int64   `json:"userRatingCount"`
	Description      string  `json:"description"`
	Version          string  `json:"version"`
	ReleaseDate      string  `json:"releaseDate"`
	TrackViewURL     string  `json:"trackViewUrl"`
	ArtworkURL512    string  `json:"artworkUrl512"`
	ArtworkURL100    string  `json:"artworkUrl100"`
}

// toRecord converts an API result to the normalized record model.
func (r trackResult) toRecord(country string) appstore.Record {
	icon := r.ArtworkURL512
	if icon == "" {
		icon = r.ArtworkURL100
	}

	rec := appstore.Record{
		ID:          strconv.FormatInt(r.TrackID, 10),
		BundleID:    r.BundleID,
		Name:        r.TrackName,
		ArtistName:  r.ArtistName,
		Category:    r.PrimaryGenreName,
		GenreID:     r.PrimaryGenreID,
		Price:       r.Price,
		Currency:    r.Currency,
		Rating:      r.AverageRating,
		RatingCount: r.UserRatingCount,
		Description: r.Description,
		Version:     r.Version,
		ReleaseDate: r.ReleaseDate,
		URL:         r.TrackViewURL,
		IconURL:     icon,
		Country:     country,
		Source:      appstore.SourceAPI,
		CollectedAt: time.Now().UTC(),
	}
	if r.TrackID == 0 {
		rec.ID = ""
	}
	rec.Normalize()
	return rec
}
