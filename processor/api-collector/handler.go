package apicollector

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/c360studio/storewatch/appstore"
	"github.com/c360studio/storewatch/appstore/itunes"
	"github.com/c360studio/storewatch/collect"
)

// Handler translates collection requests into store API calls.
type Handler struct {
	client      *itunes.Client
	searchLimit int
	rssLimit    int
}

// NewHandler creates a request handler around an API client.
func NewHandler(client *itunes.Client, searchLimit, rssLimit int) *Handler {
	return &Handler{
		client:      client,
		searchLimit: searchLimit,
		rssLimit:    rssLimit,
	}
}

// Collect runs one collection request. Requests select harvest modes
// through their params: an id param looks up single apps, a chart param
// harvests chart RSS feeds, a term param runs searches, and a category
// param either scopes the other modes or runs category searches on its
// own. Params take comma-separated lists; the same app reached through
// several categories or terms is published once. The snapshot name
// describes the request for raw archival.
func (h *Handler) Collect(ctx context.Context, req *collect.RequestPayload) ([]appstore.Record, string, error) {
	ids := splitParam(req.Param("id", ""))
	charts := splitParam(req.Param("chart", ""))
	terms := splitParam(req.Param("term", ""))
	categoryNames := splitParam(req.Param("category", ""))
	country := req.Param("country", "")

	categories := make([]appstore.Category, 0, len(categoryNames))
	for _, name := range categoryNames {
		category, ok := appstore.LookupCategory(name)
		if !ok {
			return nil, "", fmt.Errorf("unknown category: %q", name)
		}
		categories = append(categories, category)
	}

	var (
		records   []appstore.Record
		seen      = make(map[string]struct{})
		nameParts []string
	)
	add := func(batch []appstore.Record) {
		for _, rec := range batch {
			if _, dup := seen[rec.ID]; dup {
				continue
			}
			seen[rec.ID] = struct{}{}
			records = append(records, rec)
		}
	}

	for _, id := range ids {
		rec, err := h.client.Lookup(ctx, id, country)
		if err != nil {
			return nil, "", fmt.Errorf("lookup %s: %w", id, err)
		}
		if rec != nil {
			add([]appstore.Record{*rec})
		}
		nameParts = append(nameParts, "lookup_"+id)
	}

	for _, chartParam := range charts {
		chart, err := appstore.ParseChartType(chartParam)
		if err != nil {
			return nil, "", err
		}
		limit := h.limitParam(req, h.rssLimit)
		if len(categories) == 0 {
			batch, err := h.client.TopChartsRSS(ctx, chart, itunes.RSSOptions{Limit: limit, Country: country})
			if err != nil {
				return nil, "", fmt.Errorf("harvest chart feed: %w", err)
			}
			add(batch)
			nameParts = append(nameParts, "rss_"+string(chart))
			continue
		}
		for _, category := range categories {
			batch, err := h.client.TopChartsRSS(ctx, chart, itunes.RSSOptions{
				GenreID: category.GenreID,
				Limit:   limit,
				Country: country,
			})
			if err != nil {
				return nil, "", fmt.Errorf("harvest chart feed: %w", err)
			}
			add(batch)
			nameParts = append(nameParts, "rss_"+string(chart)+"_"+category.Name)
		}
	}

	for _, term := range terms {
		genreID := 0
		if len(categories) > 0 {
			genreID = categories[0].GenreID
		}
		batch, err := h.client.Search(ctx, term, itunes.SearchOptions{
			Limit:   h.limitParam(req, h.searchLimit),
			GenreID: genreID,
			Country: country,
		})
		if err != nil {
			return nil, "", fmt.Errorf("search %q: %w", term, err)
		}
		add(batch)
		nameParts = append(nameParts, "search_"+term)
	}

	// Bare category params run category searches.
	if len(charts) == 0 && len(terms) == 0 {
		for _, category := range categories {
			batch, err := h.client.SearchCategory(ctx, category, h.limitParam(req, h.searchLimit), country)
			if err != nil {
				return nil, "", fmt.Errorf("search category %q: %w", category.Name, err)
			}
			add(batch)
			nameParts = append(nameParts, "category_"+category.Name)
		}
	}

	if len(nameParts) == 0 {
		return nil, "", fmt.Errorf("request needs an id, term, category, or chart param")
	}

	return records, strings.Join(nameParts, "_"), nil
}

// limitParam reads the limit param, falling back to def.
func (h *Handler) limitParam(req *collect.RequestPayload, def int) int {
	v := req.Param("limit", "")
	if v == "" {
		return def
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit <= 0 {
		return def
	}
	return limit
}

// splitParam splits a comma-separated param value, dropping empty entries.
func splitParam(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
