package chartscraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/storewatch/appstore"
	"github.com/c360studio/storewatch/appstore/chart"
	"github.com/c360studio/storewatch/appstore/fetch"
)

// Handler scrapes chart pages and optional app detail pages.
type Handler struct {
	fetcher       *fetch.Fetcher
	logger        *slog.Logger
	scrapeDetails bool
	detailLimit   int
	detailDelay   time.Duration
}

// NewHandler creates a chart scrape handler.
func NewHandler(fetcher *fetch.Fetcher, logger *slog.Logger, scrapeDetails bool, detailLimit int, detailDelay time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		fetcher:       fetcher,
		logger:        logger,
		scrapeDetails: scrapeDetails,
		detailLimit:   detailLimit,
		detailDelay:   detailDelay,
	}
}

// ScrapeChart fetches one chart page and converts its entries to
// records. Detail enrichment failures degrade to the bare chart entry.
func (h *Handler) ScrapeChart(ctx context.Context, chartType appstore.ChartType, country string) ([]appstore.Record, error) {
	pageURL := chartType.PageURL(country)

	result, err := h.fetcher.Get(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetch chart page: %w", err)
	}

	entries, err := chart.ParseChart(result.Body)
	if err != nil {
		return nil, err
	}

	records := make([]appstore.Record, 0, len(entries))
	for _, entry := range entries {
		records = append(records, entry.Record(chartType, country))
	}

	if h.scrapeDetails {
		h.enrichDetails(ctx, records)
	}

	return records, nil
}

// enrichDetails fetches detail pages for the top chart entries and
// fills fields the chart page does not carry.
func (h *Handler) enrichDetails(ctx context.Context, records []appstore.Record) {
	limit := h.detailLimit
	if limit > len(records) {
		limit = len(records)
	}

	for i := 0; i < limit; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(h.detailDelay):
			}
		}

		rec := &records[i]
		if rec.URL == "" {
			continue
		}

		result, err := h.fetcher.Get(ctx, rec.URL)
		if err != nil {
			h.logger.Warn("Failed to fetch detail page", "app_id", rec.ID, "error", err)
			continue
		}

		details, err := chart.ParseAppDetails(rec.URL, result.Body)
		if err != nil {
			h.logger.Warn("Failed to parse detail page", "app_id", rec.ID, "error", err)
			continue
		}

		applyDetails(rec, details)
	}
}

// applyDetails fills record gaps from a scraped detail page. Detail
// values win over chart entry values for the fields only the detail
// page carries.
func applyDetails(rec *appstore.Record, details *chart.Details) {
	if details.Description != "" {
		rec.Description = details.Description
	}
	if details.Version != "" {
		rec.Version = details.Version
	}
	if details.Category != "" && rec.Category == "" {
		rec.Category = details.Category
	}
	if details.RatingCount > 0 {
		rec.RatingCount = details.RatingCount
	}
	if details.Rating > 0 && rec.Rating == 0 {
		rec.Rating = details.Rating
	}
	if details.Price > 0 && rec.Price == 0 {
		rec.Price = details.Price
		rec.Currency = details.Currency
	}
	rec.Normalize()
}
