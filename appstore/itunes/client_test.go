package itunes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/storewatch/appstore"
)

const searchBody = `{
	"resultCount": 2,
	"results": [
		{
			"trackId": 310633997,
			"trackName": "WhatsApp Messenger",
			"bundleId": "net.whatsapp.WhatsApp",
			"artistName": "WhatsApp Inc.",
			"primaryGenreName": "Social Networking",
			"primaryGenreId": 6005,
			"price": 0,
			"currency": "TRY",
			"averageUserRating": 4.5,
			"userRatingCount": 1500000,
			"version": "24.1.2",
			"releaseDate": "2009-05-04T00:00:00Z",
			"trackViewUrl": "https://apps.apple.com/tr/app/id310633997",
			"artworkUrl512": "https://example-cdn.test/wa512.png"
		},
		{
			"trackId": 0,
			"trackName": "broken entry"
		}
	]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithRequestsPerSecond(1000),
	)
}

func TestSearch(t *testing.T) {
	var gotQuery map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		q := r.URL.Query()
		gotQuery = map[string]string{
			"term":    q.Get("term"),
			"country": q.Get("country"),
			"entity":  q.Get("entity"),
			"limit":   q.Get("limit"),
			"genreId": q.Get("genreId"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searchBody))
	})

	records, err := client.Search(context.Background(), "messaging", SearchOptions{Limit: 500, GenreID: 6005})
	require.NoError(t, err)

	// Limit clamps to the API maximum and the entity is always software.
	assert.Equal(t, "messaging", gotQuery["term"])
	assert.Equal(t, "tr", gotQuery["country"])
	assert.Equal(t, "software", gotQuery["entity"])
	assert.Equal(t, "200", gotQuery["limit"])
	assert.Equal(t, "6005", gotQuery["genreId"])

	// The zero-trackId entry is dropped.
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "310633997", rec.ID)
	assert.Equal(t, "WhatsApp Messenger", rec.Name)
	assert.Equal(t, "net.whatsapp.WhatsApp", rec.BundleID)
	assert.Equal(t, 6005, rec.GenreID)
	assert.True(t, rec.Free)
	assert.Equal(t, appstore.SourceAPI, rec.Source)

	stats := client.Stats()
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.SuccessfulRequests)
	assert.Equal(t, int64(1), stats.RecordsFetched)
}

func TestSearchEmptyTerm(t *testing.T) {
	client := NewClient()
	if _, err := client.Search(context.Background(), "", SearchOptions{}); err == nil {
		t.Error("empty term accepted")
	}
}

func TestSearchCategory(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"resultCount":1,"results":[{"trackId":42,"trackName":"Sudoku"}]}`))
	})

	games, ok := appstore.LookupCategory("games")
	require.True(t, ok)

	records, err := client.SearchCategory(context.Background(), games, 10, "")
	require.NoError(t, err)
	require.Len(t, records, 1)

	// Category metadata is backfilled when the API omits it.
	assert.Equal(t, "games", records[0].Category)
	assert.Equal(t, 6014, records[0].GenreID)
}

func TestLookup(t *testing.T) {
	var gotCountry string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/lookup", r.URL.Path)
		gotCountry = r.URL.Query().Get("country")
		if r.URL.Query().Get("id") == "310633997" {
			_, _ = w.Write([]byte(searchBody))
			return
		}
		_, _ = w.Write([]byte(`{"resultCount":0,"results":[]}`))
	})

	rec, err := client.Lookup(context.Background(), "310633997", "")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "WhatsApp Messenger", rec.Name)
	assert.Equal(t, "tr", gotCountry)

	missing, err := client.Lookup(context.Background(), "999", "us")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Equal(t, "us", gotCountry)
}

func TestGetJSONServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Search(context.Background(), "anything", SearchOptions{})
	require.Error(t, err)

	stats := client.Stats()
	assert.Equal(t, int64(1), stats.FailedRequests)
	assert.Equal(t, int64(0), stats.SuccessfulRequests)
}

const rssBody = `{
	"feed": {
		"entry": [
			{
				"im:name": {"label": "Photo Editor"},
				"id": {"attributes": {"im:id": "101"}},
				"im:price": {"label": "₺24,99", "attributes": {"amount": "24.99", "currency": "TRY"}},
				"category": {"attributes": {"label": "Photo & Video", "im:id": "6008"}},
				"im:artist": {"label": "Acme"},
				"im:releaseDate": {"label": "2024-03-01T00:00:00-07:00"},
				"link": {"attributes": {"href": "https://apps.apple.com/tr/app/id101"}},
				"im:image": [{"label": "small.png"}, {"label": "large.png"}],
				"summary": {"label": "Edit photos."}
			},
			{
				"im:name": {"label": "No ID App"},
				"id": {"attributes": {}}
			},
			{
				"im:name": {"label": "Runner"},
				"id": {"attributes": {"im:id": "102"}},
				"im:price": {"label": "Free"}
			}
		]
	}
}`

func TestTopChartsRSS(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(rssBody))
	})

	records, err := client.TopChartsRSS(context.Background(), appstore.ChartTopPaid, RSSOptions{GenreID: 6008, Limit: 25})
	require.NoError(t, err)

	assert.Equal(t, "/tr/rss/toppaidapplications/limit=25/genre=6008/json", gotPath)

	// The entry without an im:id is skipped and counted; ranks follow
	// feed order.
	assert.Equal(t, int64(1), client.Stats().EntriesSkipped)
	require.Len(t, records, 2)
	first := records[0]
	assert.Equal(t, "101", first.ID)
	assert.Equal(t, "Photo Editor", first.Name)
	assert.Equal(t, 24.99, first.Price)
	assert.Equal(t, "TRY", first.Currency)
	assert.Equal(t, "large.png", first.IconURL)
	assert.Equal(t, string(appstore.ChartTopPaid), first.ChartType)
	assert.Equal(t, 1, first.ChartRank)

	second := records[1]
	assert.Equal(t, "102", second.ID)
	assert.Equal(t, 3, second.ChartRank)
	assert.True(t, second.Free)
}

func TestTopChartsRSSNoGenre(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"feed":{"entry":[]}}`))
	})

	records, err := client.TopChartsRSS(context.Background(), appstore.ChartTopFree, RSSOptions{})
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, "/tr/rss/topfreeapplications/limit=50/json", gotPath)
}

func TestTopChartsRSSCountryOverride(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"feed":{"entry":[]}}`))
	})

	_, err := client.TopChartsRSS(context.Background(), appstore.ChartTopFree, RSSOptions{Country: "us"})
	require.NoError(t, err)
	assert.Equal(t, "/us/rss/topfreeapplications/limit=50/json", gotPath)
}
