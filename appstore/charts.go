package appstore

import (
	"fmt"
	"strings"
)

// ChartType identifies a top-apps chart.
type ChartType string

// Supported chart types.
const (
	ChartTopFree     ChartType = "top-free"
	ChartTopPaid     ChartType = "top-paid"
	ChartTopGrossing ChartType = "top-grossing"
)

// AllChartTypes lists every supported chart.
func AllChartTypes() []ChartType {
	return []ChartType{ChartTopFree, ChartTopPaid, ChartTopGrossing}
}

// ParseChartType parses a chart type string.
func ParseChartType(s string) (ChartType, error) {
	switch ChartType(strings.ToLower(strings.TrimSpace(s))) {
	case ChartTopFree:
		return ChartTopFree, nil
	case ChartTopPaid:
		return ChartTopPaid, nil
	case ChartTopGrossing:
		return ChartTopGrossing, nil
	default:
		return "", fmt.Errorf("unknown chart type: %q", s)
	}
}

// pageSlug returns the chart's path segment on the store website.
func (c ChartType) pageSlug() string {
	switch c {
	case ChartTopFree:
		return "top-free-apps"
	case ChartTopPaid:
		return "top-paid-apps"
	case ChartTopGrossing:
		return "top-grossing-apps"
	default:
		return ""
	}
}

// RSSFeedName returns the chart's feed name in the RSS top-apps feeds.
func (c ChartType) RSSFeedName() string {
	switch c {
	case ChartTopFree:
		return "topfreeapplications"
	case ChartTopPaid:
		return "toppaidapplications"
	case ChartTopGrossing:
		return "topgrossingapplications"
	default:
		return ""
	}
}

// allAppsGenre is the genre segment covering every category on the
// store's chart pages.
const allAppsGenre = "36"

// PageURL returns the public chart page URL for a country code.
func (c ChartType) PageURL(country string) string {
	country = strings.ToLower(strings.TrimSpace(country))
	if country == "" {
		country = "tr"
	}
	return fmt.Sprintf("https://apps.apple.com/%s/charts/iphone/%s/%s", country, c.pageSlug(), allAppsGenre)
}
