package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/storewatch/appstore"
)

func datasetRecord() appstore.Record {
	return appstore.Record{
		ID:          "284882215",
		Name:        "Facebook",
		Category:    "social_networking",
		Price:       0,
		Currency:    "USD",
		Rating:      3.5,
		RatingCount: 2974676,
		Version:     "95.0",
		Source:      appstore.SourceDataset,
		CollectedAt: time.Date(2017, 7, 1, 0, 0, 0, 0, time.UTC),
	}
}

func apiRecord() appstore.Record {
	return appstore.Record{
		ID:          "284882215",
		BundleID:    "com.facebook.Facebook",
		Name:        "Facebook",
		ArtistName:  "Meta Platforms, Inc.",
		Category:    "social_networking",
		GenreID:     6005,
		Price:       0,
		Currency:    "TRY",
		Rating:      4.1,
		RatingCount: 11203944,
		Version:     "471.0",
		URL:         "https://apps.apple.com/tr/app/facebook/id284882215",
		Source:      appstore.SourceAPI,
		CollectedAt: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
	}
}

func scrapeRecord() appstore.Record {
	return appstore.Record{
		ID:          "284882215",
		Name:        "Facebook",
		ChartType:   "top-free",
		ChartRank:   3,
		Country:     "tr",
		Source:      appstore.SourceScrape,
		CollectedAt: time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC),
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    Priority
		wantErr bool
	}{
		{
			name:  "empty uses default",
			input: nil,
			want:  DefaultPriority(),
		},
		{
			name:  "full order",
			input: []string{"dataset", "api", "scrape"},
			want:  Priority{appstore.SourceDataset, appstore.SourceAPI, appstore.SourceScrape},
		},
		{
			name:  "partial list fills remaining in default order",
			input: []string{"scrape"},
			want:  Priority{appstore.SourceScrape, appstore.SourceAPI, appstore.SourceDataset},
		},
		{
			name:    "unknown source",
			input:   []string{"api", "csv"},
			wantErr: true,
		},
		{
			name:    "duplicate source",
			input:   []string{"api", "api"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePriority(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParsePriority(%v) expected error, got %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePriority(%v) unexpected error: %v", tt.input, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("priority length = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("priority[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestApplyFirstContribution(t *testing.T) {
	r, err := NewResolver(nil)
	require.NoError(t, err)

	merged, result, err := r.Apply(nil, datasetRecord())
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, 0, result.Conflicts)

	assert.Equal(t, "284882215", merged.ID)
	assert.Equal(t, []appstore.Source{appstore.SourceDataset}, merged.Sources)
	assert.Equal(t, appstore.SourceDataset, merged.FieldSources["name"])
	assert.Equal(t, appstore.SourceDataset, merged.FieldSources["price"])
	assert.False(t, merged.MergedAt.IsZero())

	// Zero fields carry no attribution.
	_, ok := merged.FieldSources["description"]
	assert.False(t, ok)
}

func TestApplyHigherPrioritySourceOverwrites(t *testing.T) {
	r, err := NewResolver(nil)
	require.NoError(t, err)

	merged, _, err := r.Apply(nil, datasetRecord())
	require.NoError(t, err)

	merged, result, err := r.Apply(merged, apiRecord())
	require.NoError(t, err)
	assert.True(t, result.Changed)

	assert.Equal(t, "471.0", merged.Version)
	assert.Equal(t, 4.1, merged.Rating)
	assert.Equal(t, "TRY", merged.Currency)
	assert.Equal(t, appstore.SourceAPI, merged.FieldSources["version"])
	assert.Equal(t, appstore.SourceAPI, merged.Source)
	assert.Equal(t, []appstore.Source{appstore.SourceAPI, appstore.SourceDataset}, merged.Sources)
}

func TestApplyLowerPrioritySourceFillsGapsOnly(t *testing.T) {
	r, err := NewResolver(nil)
	require.NoError(t, err)

	merged, _, err := r.Apply(nil, apiRecord())
	require.NoError(t, err)

	old := datasetRecord()
	merged, _, err = r.Apply(merged, old)
	require.NoError(t, err)

	// API values survive the lower-priority contribution.
	assert.Equal(t, "471.0", merged.Version)
	assert.Equal(t, int64(11203944), merged.RatingCount)
	assert.Equal(t, appstore.SourceAPI, merged.FieldSources["version"])
	assert.Equal(t, appstore.SourceAPI, merged.Source)
}

func TestApplyOrderIndependent(t *testing.T) {
	records := []appstore.Record{datasetRecord(), apiRecord(), scrapeRecord()}
	orders := [][]int{
		{0, 1, 2},
		{2, 1, 0},
		{1, 0, 2},
		{2, 0, 1},
	}

	var first *Record
	for _, order := range orders {
		r, err := NewResolver(nil)
		require.NoError(t, err)

		var merged *Record
		for _, i := range order {
			merged, _, err = r.Apply(merged, records[i])
			require.NoError(t, err)
		}

		if first == nil {
			first = merged
			continue
		}
		assert.Equal(t, first.Record, merged.Record, "order %v diverged", order)
		assert.Equal(t, first.FieldSources, merged.FieldSources, "order %v diverged", order)
		assert.Equal(t, first.Sources, merged.Sources, "order %v diverged", order)
	}
}

func TestApplyChartPrefersScrape(t *testing.T) {
	r, err := NewResolver(nil)
	require.NoError(t, err)

	rss := apiRecord()
	rss.ChartType = "top-free"
	rss.ChartRank = 7

	merged, _, err := r.Apply(nil, rss)
	require.NoError(t, err)
	assert.Equal(t, 7, merged.ChartRank)

	merged, _, err = r.Apply(merged, scrapeRecord())
	require.NoError(t, err)
	assert.Equal(t, "top-free", merged.ChartType)
	assert.Equal(t, 3, merged.ChartRank)
	assert.Equal(t, appstore.SourceScrape, merged.FieldSources["chart"])

	// A later RSS rank does not displace the scraped one.
	rss.ChartRank = 9
	merged, _, err = r.Apply(merged, rss)
	require.NoError(t, err)
	assert.Equal(t, 3, merged.ChartRank)
}

func TestApplyCountsConflicts(t *testing.T) {
	r, err := NewResolver(nil)
	require.NoError(t, err)

	merged, _, err := r.Apply(nil, datasetRecord())
	require.NoError(t, err)

	_, result, err := r.Apply(merged, apiRecord())
	require.NoError(t, err)

	// version, rating, rating count and price currency disagree.
	assert.Equal(t, 4, result.Conflicts)
	assert.Equal(t, 4, merged.Conflicts)
}

func TestApplySameSourceRefreshWins(t *testing.T) {
	r, err := NewResolver(nil)
	require.NoError(t, err)

	merged, _, err := r.Apply(nil, apiRecord())
	require.NoError(t, err)

	updated := apiRecord()
	updated.Version = "472.0"
	updated.CollectedAt = updated.CollectedAt.Add(24 * time.Hour)

	merged, result, err := r.Apply(merged, updated)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, "472.0", merged.Version)
	assert.Equal(t, updated.CollectedAt, merged.CollectedAt)
}

func TestApplyEmptyPriceDoesNotClobber(t *testing.T) {
	r, err := NewResolver(Priority{appstore.SourceScrape, appstore.SourceAPI, appstore.SourceDataset})
	require.NoError(t, err)

	merged, _, err := r.Apply(nil, apiRecord())
	require.NoError(t, err)

	// Scraped chart entry with a bare "Get" label carries no price.
	merged, _, err = r.Apply(merged, scrapeRecord())
	require.NoError(t, err)
	assert.Equal(t, "TRY", merged.Currency)
	assert.Equal(t, appstore.SourceAPI, merged.FieldSources["price"])
}

func TestApplyRejectsMismatchedID(t *testing.T) {
	r, err := NewResolver(nil)
	require.NoError(t, err)

	merged, _, err := r.Apply(nil, apiRecord())
	require.NoError(t, err)

	other := scrapeRecord()
	other.ID = "999999"
	_, _, err = r.Apply(merged, other)
	assert.Error(t, err)
}

func TestApplyRejectsInvalidRecord(t *testing.T) {
	r, err := NewResolver(nil)
	require.NoError(t, err)

	_, _, err = r.Apply(nil, appstore.Record{Name: "no id", Source: appstore.SourceAPI})
	assert.Error(t, err)
}

func TestNewResolverRejectsPartialPriority(t *testing.T) {
	_, err := NewResolver(Priority{appstore.SourceAPI})
	assert.Error(t, err)

	_, err = NewResolver(Priority{appstore.SourceAPI, appstore.SourceAPI, appstore.SourceDataset})
	assert.Error(t, err)
}
