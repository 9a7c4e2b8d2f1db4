package chart

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// maxScreenshots caps how many screenshot URLs are kept per app.
const maxScreenshots = 5

// Details holds fields scraped from an app detail page.
type Details struct {
	Name           string
	Description    string
	Category       string
	Version        string
	Rating         float64
	RatingCount    int64
	Price          float64
	Currency       string
	ScreenshotURLs []string
}

// jsonLDApp is the subset of the page's JSON-LD block we read.
// The store is loose about numeric types, so numbers are decoded
// through any and coerced.
type jsonLDApp struct {
	Name                string `json:"name"`
	Description         string `json:"description"`
	ApplicationCategory string `json:"applicationCategory"`
	AggregateRating     struct {
		RatingValue any `json:"ratingValue"`
		ReviewCount any `json:"reviewCount"`
	} `json:"aggregateRating"`
	Offers struct {
		Price         any    `json:"price"`
		PriceCurrency string `json:"priceCurrency"`
	} `json:"offers"`
}

// ParseAppDetails extracts app details from a detail page. The JSON-LD
// block is the primary source; when it has no description the page
// body is run through readability extraction and converted to
// markdown.
func ParseAppDetails(pageURL string, htmlBody []byte) (*Details, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBody))
	if err != nil {
		return nil, fmt.Errorf("parse detail page: %w", err)
	}

	details := &Details{}

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var app jsonLDApp
		if err := json.Unmarshal([]byte(s.Text()), &app); err != nil {
			return true
		}
		if app.Name == "" {
			return true
		}
		details.Name = app.Name
		details.Description = strings.TrimSpace(app.Description)
		details.Category = app.ApplicationCategory
		details.Rating = toFloat(app.AggregateRating.RatingValue)
		details.RatingCount = toInt(app.AggregateRating.ReviewCount)
		details.Price = toFloat(app.Offers.Price)
		details.Currency = app.Offers.PriceCurrency
		return false
	})

	if versionText := cleanText(doc.Find(".whats-new__latest__version").First().Text()); versionText != "" {
		details.Version = strings.TrimSpace(strings.TrimPrefix(versionText, "Version"))
	}

	doc.Find("picture.we-screenshot source").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		srcset, ok := s.Attr("srcset")
		if !ok {
			return true
		}
		if u := firstSrcsetURL(srcset); u != "" {
			details.ScreenshotURLs = append(details.ScreenshotURLs, u)
		}
		return len(details.ScreenshotURLs) < maxScreenshots
	})

	if details.Description == "" {
		details.Description = extractDescription(pageURL, htmlBody)
	}

	return details, nil
}

// extractDescription runs readability extraction over the page and
// converts the resulting article HTML to markdown.
func extractDescription(pageURL string, htmlBody []byte) string {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		parsedURL = &url.URL{}
	}

	article, err := readability.FromReader(bytes.NewReader(htmlBody), parsedURL)
	if err != nil || article.Content == "" {
		return ""
	}

	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(article.Content)
	if err != nil {
		return strings.TrimSpace(article.TextContent)
	}
	return strings.TrimSpace(markdown)
}

// firstSrcsetURL returns the first URL in a srcset attribute.
func firstSrcsetURL(srcset string) string {
	first := strings.SplitN(srcset, ",", 2)[0]
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// toFloat coerces a JSON-LD numeric value.
func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(n, ",", "."), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// toInt coerces a JSON-LD integer value.
func toInt(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}
