package appstore

import (
	"testing"
	"time"
)

func TestParseSource(t *testing.T) {
	tests := []struct {
		in      string
		want    Source
		wantErr bool
	}{
		{"api", SourceAPI, false},
		{"  Scrape ", SourceScrape, false},
		{"dataset", SourceDataset, false},
		{"kaggle", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseSource(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSource(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSource(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRecordValidate(t *testing.T) {
	r := Record{ID: "1081510322", Name: "App", Source: SourceAPI}
	if err := r.Validate(); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}

	r.ID = "   "
	if err := r.Validate(); err == nil {
		t.Error("record without ID accepted")
	}

	r = Record{ID: "1", Source: "unknown"}
	if err := r.Validate(); err == nil {
		t.Error("record with unknown source accepted")
	}
}

func TestRecordNormalize(t *testing.T) {
	r := Record{
		ID:      " 42 ",
		Name:    "  Maps  ",
		Price:   0,
		Rating:  7.5,
		Country: " TR ",
		Source:  SourceScrape,
	}
	r.Normalize()

	if r.ID != "42" {
		t.Errorf("ID = %q, want %q", r.ID, "42")
	}
	if r.Name != "Maps" {
		t.Errorf("Name = %q, want %q", r.Name, "Maps")
	}
	if !r.Free {
		t.Error("zero-price record not marked free")
	}
	if r.Rating != 5 {
		t.Errorf("Rating = %v, want clamped to 5", r.Rating)
	}
	if r.Country != "tr" {
		t.Errorf("Country = %q, want %q", r.Country, "tr")
	}
	if r.CollectedAt.IsZero() {
		t.Error("CollectedAt not defaulted")
	}

	paid := Record{ID: "1", Price: 3.99, Source: SourceAPI, CollectedAt: time.Now()}
	paid.Normalize()
	if paid.Free {
		t.Error("paid record marked free")
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		label        string
		wantAmount   float64
		wantCurrency string
	}{
		{"Free", 0, ""},
		{"Ücretsiz", 0, ""},
		{"$3.99", 3.99, "USD"},
		{"₺24,99", 24.99, "TRY"},
		{"€1.099,00", 1099, "EUR"},
		{"1,299.50", 1299.5, ""},
		{"Get", 0, ""},
		{"", 0, ""},
	}

	for _, tt := range tests {
		amount, currency := ParsePrice(tt.label)
		if amount != tt.wantAmount || currency != tt.wantCurrency {
			t.Errorf("ParsePrice(%q) = (%v, %q), want (%v, %q)",
				tt.label, amount, currency, tt.wantAmount, tt.wantCurrency)
		}
	}
}

func TestCategories(t *testing.T) {
	games, ok := LookupCategory("games")
	if !ok || games.GenreID != 6014 {
		t.Fatalf("LookupCategory(games) = %+v, %v", games, ok)
	}

	if _, ok := LookupCategory("astrology"); ok {
		t.Error("unknown category found")
	}

	all := AllCategories()
	if len(all) != 25 {
		t.Errorf("AllCategories() returned %d categories, want 25", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Name >= all[i].Name {
			t.Fatalf("categories not sorted at %d: %q >= %q", i, all[i-1].Name, all[i].Name)
		}
	}
}

func TestChartTypes(t *testing.T) {
	ct, err := ParseChartType("Top-Free")
	if err != nil || ct != ChartTopFree {
		t.Fatalf("ParseChartType(Top-Free) = %q, %v", ct, err)
	}
	if _, err := ParseChartType("top-trending"); err == nil {
		t.Error("unknown chart type accepted")
	}

	url := ChartTopGrossing.PageURL("tr")
	want := "https://apps.apple.com/tr/charts/iphone/top-grossing-apps/36"
	if url != want {
		t.Errorf("PageURL = %q, want %q", url, want)
	}

	if ChartTopPaid.RSSFeedName() != "toppaidapplications" {
		t.Errorf("RSSFeedName = %q", ChartTopPaid.RSSFeedName())
	}
}
