// Package chart parses App Store chart and app detail pages.
package chart

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/c360studio/storewatch/appstore"
)

// appIDPattern extracts the numeric app ID from a store URL path.
var appIDPattern = regexp.MustCompile(`/id(\d+)`)

// ratingPattern extracts the leading decimal from a rating aria-label
// such as "4.5 out of 5".
var ratingPattern = regexp.MustCompile(`(\d+(?:[.,]\d+)?)`)

// Entry is a single app entry on a chart page.
type Entry struct {
	AppID      string
	Title      string
	Subtitle   string
	PriceLabel string
	Rating     float64
	Rank       int
	URL        string
}

// ParseChart extracts chart entries from a chart page. The store
// renders each app as an anchor with the we-lockup class. Entries
// without an app ID in their href are skipped. An empty page yields
// zero entries, not an error.
func ParseChart(htmlBody []byte) ([]Entry, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBody))
	if err != nil {
		return nil, fmt.Errorf("parse chart page: %w", err)
	}

	var entries []Entry
	doc.Find("a.we-lockup").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		m := appIDPattern.FindStringSubmatch(href)
		if m == nil {
			return
		}

		entry := Entry{
			AppID:      m[1],
			Title:      cleanText(s.Find(".we-lockup__title").First().Text()),
			Subtitle:   cleanText(s.Find(".we-lockup__subtitle").First().Text()),
			PriceLabel: cleanText(s.Find(".we-lockup__price").First().Text()),
			URL:        href,
			Rank:       i + 1,
		}

		if rankText := cleanText(s.Find(".we-lockup__rank").First().Text()); rankText != "" {
			if rank, err := strconv.Atoi(strings.TrimSuffix(rankText, ".")); err == nil && rank > 0 {
				entry.Rank = rank
			}
		}

		if label, ok := s.Find(".we-rating").First().Attr("aria-label"); ok {
			entry.Rating = parseRatingLabel(label)
		}

		entries = append(entries, entry)
	})

	return entries, nil
}

// Record converts a chart entry to the normalized record model.
func (e Entry) Record(chart appstore.ChartType, country string) appstore.Record {
	price, currency := appstore.ParsePrice(e.PriceLabel)

	rec := appstore.Record{
		ID:          e.AppID,
		Name:        e.Title,
		ArtistName:  e.Subtitle,
		Price:       price,
		Currency:    currency,
		Rating:      e.Rating,
		URL:         e.URL,
		ChartType:   string(chart),
		ChartRank:   e.Rank,
		Country:     country,
		Source:      appstore.SourceScrape,
		CollectedAt: time.Now().UTC(),
	}
	rec.Normalize()
	return rec
}

// parseRatingLabel pulls the rating value out of an aria-label.
func parseRatingLabel(label string) float64 {
	m := ratingPattern.FindStringSubmatch(label)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil || v < 0 || v > 5 {
		return 0
	}
	return v
}

// cleanText collapses whitespace in scraped text.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
