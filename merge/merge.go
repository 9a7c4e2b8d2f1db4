// Package merge resolves app records collected from multiple sources
// into one merged record per app.
//
// Resolution is field-level: for every field the value from the
// highest-priority source that supplied one wins. Each merged record
// carries per-field source attribution, which makes the outcome
// independent of the order batches arrive in.
package merge

import (
	"fmt"
	"time"

	"github.com/c360studio/storewatch/appstore"
)

// Priority orders sources from most to least authoritative.
type Priority []appstore.Source

// DefaultPriority prefers the structured API over scraped pages over
// historical bulk datasets.
func DefaultPriority() Priority {
	return Priority{appstore.SourceAPI, appstore.SourceScrape, appstore.SourceDataset}
}

// ParsePriority parses a source priority list. Every element must be a
// known source and appear at most once; sources left out rank below
// all listed ones in their default order.
func ParsePriority(names []string) (Priority, error) {
	if len(names) == 0 {
		return DefaultPriority(), nil
	}

	seen := make(map[appstore.Source]bool)
	var p Priority
	for _, name := range names {
		src, err := appstore.ParseSource(name)
		if err != nil {
			return nil, err
		}
		if seen[src] {
			return nil, fmt.Errorf("duplicate source in priority: %q", src)
		}
		seen[src] = true
		p = append(p, src)
	}
	for _, src := range DefaultPriority() {
		if !seen[src] {
			p = append(p, src)
		}
	}
	return p, nil
}

// chartPriority orders sources for the chart fields. Chart position is
// scraped live from the store pages, so the scrape source outranks the
// API's RSS feeds there regardless of the configured priority.
var chartPriority = Priority{appstore.SourceScrape, appstore.SourceAPI, appstore.SourceDataset}

// Record is a merged app record with provenance.
type Record struct {
	appstore.Record

	// Sources lists every source that contributed, in priority order.
	Sources []appstore.Source `json:"sources"`

	// FieldSources attributes each resolved field to the source that
	// supplied its value.
	FieldSources map[string]appstore.Source `json:"field_sources"`

	// Conflicts counts disagreements observed between sources on
	// non-empty field values.
	Conflicts int `json:"conflicts"`

	// MergedAt is the time of the last merge that changed the record.
	MergedAt time.Time `json:"merged_at"`
}

// ApplyResult reports what a merge changed.
type ApplyResult struct {
	Changed   bool
	Conflicts int
}

// Resolver merges incoming records under a source priority.
type Resolver struct {
	priority  Priority
	rank      map[appstore.Source]int
	chartRank map[appstore.Source]int
}

// NewResolver creates a Resolver for the given priority.
func NewResolver(priority Priority) (*Resolver, error) {
	if len(priority) == 0 {
		priority = DefaultPriority()
	}

	rank := make(map[appstore.Source]int, len(priority))
	for i, src := range priority {
		if _, err := appstore.ParseSource(string(src)); err != nil {
			return nil, err
		}
		if _, dup := rank[src]; dup {
			return nil, fmt.Errorf("duplicate source in priority: %q", src)
		}
		rank[src] = i
	}
	if len(rank) != len(DefaultPriority()) {
		return nil, fmt.Errorf("priority must rank all %d sources", len(DefaultPriority()))
	}

	chartRank := make(map[appstore.Source]int, len(chartPriority))
	for i, src := range chartPriority {
		chartRank[src] = i
	}

	return &Resolver{priority: priority, rank: rank, chartRank: chartRank}, nil
}

// Priority returns the resolver's source order.
func (r *Resolver) Priority() Priority {
	return r.priority
}

// Apply merges an incoming record into the current merged state.
// A nil current starts a new merged record. The incoming record must
// validate; invalid records never reach merged state.
func (r *Resolver) Apply(current *Record, incoming appstore.Record) (*Record, ApplyResult, error) {
	incoming.Normalize()
	if err := incoming.Validate(); err != nil {
		return current, ApplyResult{}, fmt.Errorf("invalid record: %w", err)
	}

	if current == nil {
		merged := r.newRecord(incoming)
		return merged, ApplyResult{Changed: true}, nil
	}

	if current.ID != incoming.ID {
		return current, ApplyResult{}, fmt.Errorf("record ID mismatch: %s vs %s", current.ID, incoming.ID)
	}

	m := &merger{
		resolver: r,
		current:  current,
		source:   incoming.Source,
	}

	m.mergeString("name", &current.Name, incoming.Name)
	m.mergeString("bundle_id", &current.BundleID, incoming.BundleID)
	m.mergeString("artist_name", &current.ArtistName, incoming.ArtistName)
	m.mergeString("category", &current.Category, incoming.Category)
	m.mergeInt("genre_id", &current.GenreID, incoming.GenreID)
	m.mergePrice(&incoming)
	m.mergeFloat("rating", &current.Rating, incoming.Rating)
	m.mergeInt64("rating_count", &current.RatingCount, incoming.RatingCount)
	m.mergeString("description", &current.Description, incoming.Description)
	m.mergeString("version", &current.Version, incoming.Version)
	m.mergeString("release_date", &current.ReleaseDate, incoming.ReleaseDate)
	m.mergeString("url", &current.URL, incoming.URL)
	m.mergeString("icon_url", &current.IconURL, incoming.IconURL)
	m.mergeString("country", &current.Country, incoming.Country)
	m.mergeChart(&incoming)

	if r.addSource(current, incoming.Source) {
		m.changed = true
	}

	result := ApplyResult{Changed: m.changed, Conflicts: m.conflicts}
	if m.changed {
		current.Conflicts += m.conflicts
		current.MergedAt = time.Now().UTC()
		if incoming.CollectedAt.After(current.CollectedAt) {
			current.CollectedAt = incoming.CollectedAt
		}
		current.Free = current.Price == 0
		// The record-level Source reflects the highest-priority
		// contributor.
		current.Source = current.Sources[0]
	}

	return current, result, nil
}

// newRecord builds merged state from a first contribution.
func (r *Resolver) newRecord(incoming appstore.Record) *Record {
	merged := &Record{
		Record:       incoming,
		Sources:      []appstore.Source{incoming.Source},
		FieldSources: make(map[string]appstore.Source),
		MergedAt:     time.Now().UTC(),
	}

	attr := func(field string, present bool) {
		if present {
			merged.FieldSources[field] = incoming.Source
		}
	}
	attr("name", incoming.Name != "")
	attr("bundle_id", incoming.BundleID != "")
	attr("artist_name", incoming.ArtistName != "")
	attr("category", incoming.Category != "")
	attr("genre_id", incoming.GenreID != 0)
	attr("price", priceIsPresent(incoming))
	attr("rating", incoming.Rating != 0)
	attr("rating_count", incoming.RatingCount != 0)
	attr("description", incoming.Description != "")
	attr("version", incoming.Version != "")
	attr("release_date", incoming.ReleaseDate != "")
	attr("url", incoming.URL != "")
	attr("icon_url", incoming.IconURL != "")
	attr("country", incoming.Country != "")
	attr("chart", incoming.ChartType != "" && incoming.ChartRank > 0)

	return merged
}

// addSource records a contributing source, keeping the list in
// priority order. Returns true when the source is new.
func (r *Resolver) addSource(current *Record, src appstore.Source) bool {
	for _, s := range current.Sources {
		if s == src {
			return false
		}
	}
	current.Sources = append(current.Sources, src)
	sources := current.Sources
	for i := 1; i < len(sources); i++ {
		for j := i; j > 0 && r.rank[sources[j]] < r.rank[sources[j-1]]; j-- {
			sources[j], sources[j-1] = sources[j-1], sources[j]
		}
	}
	return true
}

// priceIsPresent reports whether a record carries price information.
// A bare zero price with no currency means the source did not see a
// price (chart pages label free apps without a currency), so it never
// overwrites a priced field.
func priceIsPresent(rec appstore.Record) bool {
	return rec.Price > 0 || rec.Currency != ""
}

// merger tracks one Apply pass.
type merger struct {
	resolver  *Resolver
	current   *Record
	source    appstore.Source
	changed   bool
	conflicts int
}

// wins reports whether the incoming source may overwrite a field
// currently attributed to owner. Equal-priority refreshes win so a
// source can update its own values.
func (m *merger) wins(field string, rank map[appstore.Source]int) bool {
	owner, attributed := m.current.FieldSources[field]
	if !attributed {
		return true
	}
	return rank[m.source] <= rank[owner]
}

func (m *merger) take(field string) {
	m.current.FieldSources[field] = m.source
	m.changed = true
}

func (m *merger) noteConflict(field string) {
	if owner, ok := m.current.FieldSources[field]; ok && owner != m.source {
		m.conflicts++
	}
}

func (m *merger) mergeString(field string, cur *string, inc string) {
	if inc == "" {
		return
	}
	if *cur != "" && *cur != inc {
		m.noteConflict(field)
	}
	if !m.wins(field, m.resolver.rank) {
		return
	}
	if *cur != inc || m.current.FieldSources[field] != m.source {
		*cur = inc
		m.take(field)
	}
}

func (m *merger) mergeInt(field string, cur *int, inc int) {
	if inc == 0 {
		return
	}
	if *cur != 0 && *cur != inc {
		m.noteConflict(field)
	}
	if !m.wins(field, m.resolver.rank) {
		return
	}
	if *cur != inc || m.current.FieldSources[field] != m.source {
		*cur = inc
		m.take(field)
	}
}

func (m *merger) mergeInt64(field string, cur *int64, inc int64) {
	if inc == 0 {
		return
	}
	if *cur != 0 && *cur != inc {
		m.noteConflict(field)
	}
	if !m.wins(field, m.resolver.rank) {
		return
	}
	if *cur != inc || m.current.FieldSources[field] != m.source {
		*cur = inc
		m.take(field)
	}
}

func (m *merger) mergeFloat(field string, cur *float64, inc float64) {
	if inc == 0 {
		return
	}
	if *cur != 0 && *cur != inc {
		m.noteConflict(field)
	}
	if !m.wins(field, m.resolver.rank) {
		return
	}
	if *cur != inc || m.current.FieldSources[field] != m.source {
		*cur = inc
		m.take(field)
	}
}

// mergePrice resolves price and currency as one unit.
func (m *merger) mergePrice(incoming *appstore.Record) {
	if !priceIsPresent(*incoming) {
		return
	}
	cur := m.current
	if priceIsPresent(cur.Record) && (cur.Price != incoming.Price || cur.Currency != incoming.Currency) {
		m.noteConflict("price")
	}
	if !m.wins("price", m.resolver.rank) {
		return
	}
	if cur.Price != incoming.Price || cur.Currency != incoming.Currency || cur.FieldSources["price"] != m.source {
		cur.Price = incoming.Price
		cur.Currency = incoming.Currency
		m.take("price")
	}
}

// mergeChart resolves chart type and rank as one unit under the chart
// priority, where the scrape source outranks all others.
func (m *merger) mergeChart(incoming *appstore.Record) {
	if incoming.ChartType == "" || incoming.ChartRank <= 0 {
		return
	}
	cur := m.current
	if cur.ChartType != "" && (cur.ChartType != incoming.ChartType || cur.ChartRank != incoming.ChartRank) {
		m.noteConflict("chart")
	}
	if !m.wins("chart", m.resolver.chartRank) {
		return
	}
	if cur.ChartType != incoming.ChartType || cur.ChartRank != incoming.ChartRank || cur.FieldSources["chart"] != m.source {
		cur.ChartType = incoming.ChartType
		cur.ChartRank = incoming.ChartRank
		m.take("chart")
	}
}
