package export

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/c360studio/storewatch/merge"
)

// Profile determines how much of a merged record the export includes.
type Profile string

const (
	// ProfileCore includes the catalog fields only.
	ProfileCore Profile = "core"

	// ProfileFull adds merge provenance to every record.
	ProfileFull Profile = "full"
)

// ProfileConfig contains configuration for an export profile.
type ProfileConfig struct {
	// Name is the profile identifier.
	Name Profile

	// Description describes the profile.
	Description string

	// Columns lists the CSV columns, in order.
	Columns []string

	// IncludeProvenance indicates whether JSON output carries
	// contributing sources and per-field attribution.
	IncludeProvenance bool
}

var coreColumns = []string{
	"id", "name", "artist_name", "category", "genre_id",
	"price", "currency", "free", "rating", "rating_count",
	"version", "release_date", "chart_type", "chart_rank",
	"country", "source", "collected_at",
}

var fullColumns = append(append([]string{}, coreColumns...),
	"bundle_id", "url", "icon_url", "sources", "conflicts", "merged_at",
)

// Profiles contains the configuration for all available export profiles.
var Profiles = map[Profile]ProfileConfig{
	ProfileCore: {
		Name:              ProfileCore,
		Description:       "Catalog fields only",
		Columns:           coreColumns,
		IncludeProvenance: false,
	},
	ProfileFull: {
		Name:              ProfileFull,
		Description:       "Catalog fields plus merge provenance",
		Columns:           fullColumns,
		IncludeProvenance: true,
	},
}

// GetProfileConfig returns the configuration for a profile. Unknown
// profiles fall back to core.
func GetProfileConfig(profile Profile) ProfileConfig {
	if config, ok := Profiles[profile]; ok {
		return config
	}
	return Profiles[ProfileCore]
}

// ParseProfile parses a profile name. An empty name selects core.
func ParseProfile(s string) (Profile, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ProfileCore, nil
	}
	profile := Profile(s)
	if _, ok := Profiles[profile]; !ok {
		return "", fmt.Errorf("unknown export profile: %q", s)
	}
	return profile, nil
}

// columnValue renders one CSV cell for a record.
func columnValue(rec *merge.Record, column string) string {
	switch column {
	case "id":
		return rec.ID
	case "name":
		return rec.Name
	case "artist_name":
		return rec.ArtistName
	case "category":
		return rec.Category
	case "genre_id":
		return formatInt(int64(rec.GenreID))
	case "price":
		return strconv.FormatFloat(rec.Price, 'f', -1, 64)
	case "currency":
		return rec.Currency
	case "free":
		return strconv.FormatBool(rec.Free)
	case "rating":
		if rec.Rating == 0 {
			return ""
		}
		return strconv.FormatFloat(rec.Rating, 'f', -1, 64)
	case "rating_count":
		return formatInt(rec.RatingCount)
	case "version":
		return rec.Version
	case "release_date":
		return rec.ReleaseDate
	case "chart_type":
		return rec.ChartType
	case "chart_rank":
		return formatInt(int64(rec.ChartRank))
	case "country":
		return rec.Country
	case "source":
		return string(rec.Source)
	case "collected_at":
		return formatTime(rec.CollectedAt)
	case "bundle_id":
		return rec.BundleID
	case "url":
		return rec.URL
	case "icon_url":
		return rec.IconURL
	case "sources":
		parts := make([]string, len(rec.Sources))
		for i, s := range rec.Sources {
			parts[i] = string(s)
		}
		return strings.Join(parts, "|")
	case "conflicts":
		return formatInt(int64(rec.Conflicts))
	case "merged_at":
		return formatTime(rec.MergedAt)
	default:
		return ""
	}
}

// formatInt renders zero as an empty cell.
func formatInt(v int64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
