package itunes

import (
	"context"
	"fmt"
	"time"

	"github.com/c360studio/storewatch/appstore"
)

// rssFeed is the JSON rendering of the RSS top-apps feeds.
type rssFeed struct {
	Feed struct {
		Entry []rssEntry `json:"entry"`
	} `json:"feed"`
}

// rssEntry is a single feed entry. The feed wraps most values in
// objects with a "label" field and per-field attributes.
type rssEntry struct {
	Name struct {
		Label string `json:"label"`
	} `json:"im:name"`
	ID struct {
		Attributes struct {
			IMID string `json:"im:id"`
		} `json:"attributes"`
	} `json:"id"`
	Price struct {
		Label      string `json:"label"`
		Attributes struct {
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		} `json:"attributes"`
	} `json:"im:price"`
	Category struct {
		Attributes struct {
			Label string `json:"label"`
			IMID  string `json:"im:id"`
		} `json:"attributes"`
	} `json:"category"`
	Artist struct {
		Label string `json:"label"`
	} `json:"im:artist"`
	ReleaseDate struct {
		Label string `json:"label"`
	} `json:"im:releaseDate"`
	Link struct {
		Attributes struct {
			Href string `json:"href"`
		} `json:"attributes"`
	} `json:"link"`
	Image []struct {
		Label string `json:"label"`
	} `json:"im:image"`
	Summary struct {
		Label string `json:"label"`
	} `json:"summary"`
}

// RSSOptions controls a TopChartsRSS request.
type RSSOptions struct {
	// GenreID restricts the feed to a store genre; zero fetches the
	// all-apps feed.
	GenreID int

	// Limit caps the number of entries. Values above the feed maximum
	// of 200 are clamped; zero uses 50.
	Limit int

	// Country overrides the client's default storefront.
	Country string
}

// TopChartsRSS fetches a top-apps RSS feed. Rank is assigned by feed
// order starting at 1. Entries without an app ID are skipped and
// counted in the client stats.
func (c *Client) TopChartsRSS(ctx context.Context, chart appstore.ChartType, opts RSSOptions) ([]appstore.Record, error) {
	feedName := chart.RSSFeedName()
	if feedName == "" {
		return nil, fmt.Errorf("unknown chart type: %q", chart)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	country := opts.Country
	if country == "" {
		country = c.country
	}

	feedURL := fmt.Sprintf("%s/%s/rss/%s/limit=%d", c.baseURL, country, feedName, limit)
	if opts.GenreID > 0 {
		feedURL += fmt.Sprintf("/genre=%d", opts.GenreID)
	}
	feedURL += "/json"

	var feed rssFeed
	if err := c.getJSON(ctx, feedURL, &feed); err != nil {
		return nil, fmt.Errorf("fetch %s feed: %w", chart, err)
	}

	records := make([]appstore.Record, 0, len(feed.Feed.Entry))
	for i, entry := range feed.Feed.Entry {
		rec := entry.toRecord(country, chart, i+1)
		if rec.ID == "" {
			c.stats.entriesSkipped.Add(1)
			continue
		}
		records = append(records, rec)
	}
	c.stats.recordsFetched.Add(int64(len(records)))
	return records, nil
}

// toRecord converts a feed entry to the normalized record model.
func (e rssEntry) toRecord(country string, chart appstore.ChartType, rank int) appstore.Record {
	price, currency := appstore.ParsePrice(e.Price.Label)
	if e.Price.Attributes.Currency != "" {
		currency = e.Price.Attributes.Currency
	}

	icon := ""
	if len(e.Image) > 0 {
		// Images are ordered small to large; take the largest.
		icon = e.Image[len(e.Image)-1].Label
	}

	rec := appstore.Record{
		ID:          e.ID.Attributes.IMID,
		Name:        e.Name.Label,
		ArtistName:  e.Artist.Label,
		Category:    e.Category.Attributes.Label,
		Price:       price,
		Currency:    currency,
		Description: e.Summary.Label,
		ReleaseDate: e.ReleaseDate.Label,
		URL:         e.Link.Attributes.Href,
		IconURL:     icon,
		ChartType:   string(chart),
		ChartRank:   rank,
		Country:     country,
		Source:      appstore.SourceAPI,
		CollectedAt: time.Now().UTC(),
	}
	rec.Normalize()
	return rec
}
