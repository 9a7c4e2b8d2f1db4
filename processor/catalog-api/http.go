package catalogapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/c360studio/semstreams/message"

	"github.com/c360studio/storewatch/appstore"
	"github.com/c360studio/storewatch/collect"
	"github.com/c360studio/storewatch/export"
	"github.com/c360studio/storewatch/merge"
	"github.com/c360studio/storewatch/storage"
)

// maxRequestBodySize limits POST body sizes to prevent DoS.
const maxRequestBodySize = 1 << 20 // 1 MB

// collectSubjectPrefix prefixes per-source collection request subjects.
const collectSubjectPrefix = "collect.request."

// RegisterHTTPHandlers registers all catalog-api HTTP handlers under the given prefix.
// The prefix should be the path segment without a trailing slash (e.g. "api/catalog").
// Handlers are registered as:
//
//	POST <prefix>/collect/{source}
//	GET  <prefix>/jobs
//	GET  <prefix>/jobs/{id}
//	GET  <prefix>/apps
//	GET  <prefix>/apps/{id}
//	GET  <prefix>/export
//	GET  <prefix>/stats
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	// Normalise: ensure leading slash and trailing slash.
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}

	mux.HandleFunc(prefix+"collect/", c.instrument("collect", c.handleCollect(prefix+"collect/")))
	mux.HandleFunc(prefix+"jobs", c.instrument("jobs", c.handleJobs))
	mux.HandleFunc(prefix+"jobs/", c.instrument("job", c.handleJob(prefix+"jobs/")))
	mux.HandleFunc(prefix+"apps", c.instrument("apps", c.handleApps))
	mux.HandleFunc(prefix+"apps/", c.instrument("app", c.handleApp(prefix+"apps/")))
	mux.HandleFunc(prefix+"export", c.instrument("export", c.handleExport))
	mux.HandleFunc(prefix+"stats", c.instrument("stats", c.handleStats))
}

// statusRecorder captures the response status for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument counts requests per route when a metrics collector is
// wired.
func (c *Component) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		if c.collector != nil {
			c.collector.RecordHTTPRequest(route, strconv.Itoa(rec.status))
		}
	}
}

// backend returns the store and publisher, or false before Start.
func (c *Component) backend() (catalogStore, requestPublisher, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store, c.publisher, c.store != nil
}

// ----------------------------------------------------------------------------
// POST /api/catalog/collect/{source}
// ----------------------------------------------------------------------------

// CollectRequest is the optional request body for POST /collect/{source}.
type CollectRequest struct {
	// Params carry source-specific options such as term, category,
	// chart, country, name, or limit.
	Params map[string]string `json:"params,omitempty"`
}

// handleCollect creates a collection job and publishes the request to
// the matching collector.
func (c *Component) handleCollect(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		store, publisher, ok := c.backend()
		if !ok {
			http.Error(w, "Catalog not ready", http.StatusServiceUnavailable)
			return
		}

		source, err := appstore.ParseSource(strings.TrimPrefix(r.URL.Path, prefix))
		if err != nil {
			http.Error(w, "source must be one of: api, scrape, dataset", http.StatusBadRequest)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req CollectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			// An empty or missing body means default params.
			req.Params = nil
		}

		job := &storage.Job{
			Source: source,
			Params: req.Params,
		}
		jobID, err := store.CreateJob(r.Context(), job)
		if err != nil {
			c.logger.Error("Failed to create job", "source", source, "error", err)
			http.Error(w, "Failed to create job", http.StatusInternalServerError)
			return
		}

		payload := &collect.RequestPayload{
			JobID:       jobID,
			Source:      source,
			Params:      req.Params,
			RequestedAt: time.Now().UTC(),
		}
		msg := message.NewBaseMessage(collect.RequestType, payload, "storewatch")
		data, err := json.Marshal(msg)
		if err == nil {
			err = publisher.PublishToStream(r.Context(), collectSubjectPrefix+string(source), data)
		}
		if err != nil {
			c.logger.Error("Failed to publish collection request", "job_id", jobID, "error", err)
			if failErr := store.FailJob(r.Context(), jobID, "publish failed: "+err.Error()); failErr != nil {
				c.logger.Warn("Failed to fail job", "job_id", jobID, "error", failErr)
			}
			http.Error(w, "Failed to publish collection request", http.StatusInternalServerError)
			return
		}

		if c.collector != nil {
			c.collector.RecordJobCreated(string(source))
		}
		c.logger.Info("Collection job created", "job_id", jobID, "source", source)

		writeJSON(w, http.StatusAccepted, job)
	}
}

// ----------------------------------------------------------------------------
// GET /api/catalog/jobs and /api/catalog/jobs/{id}
// ----------------------------------------------------------------------------

// handleJobs lists all collection jobs, newest first.
func (c *Component) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	store, _, ok := c.backend()
	if !ok {
		http.Error(w, "Catalog not ready", http.StatusServiceUnavailable)
		return
	}

	jobs, err := store.ListJobs(r.Context())
	if err != nil {
		c.logger.Error("Failed to list jobs", "error", err)
		http.Error(w, "Failed to list jobs", http.StatusInternalServerError)
		return
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	writeJSON(w, http.StatusOK, jobs)
}

// handleJob returns a single job by ID.
func (c *Component) handleJob(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		store, _, ok := c.backend()
		if !ok {
			http.Error(w, "Catalog not ready", http.StatusServiceUnavailable)
			return
		}

		id := strings.TrimPrefix(r.URL.Path, prefix)
		job, err := store.GetJob(r.Context(), id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				http.Error(w, "Job not found", http.StatusNotFound)
			} else {
				http.Error(w, "Invalid job ID", http.StatusBadRequest)
			}
			return
		}

		writeJSON(w, http.StatusOK, job)
	}
}

// ----------------------------------------------------------------------------
// GET /api/catalog/apps and /api/catalog/apps/{id}
// ----------------------------------------------------------------------------

// appFilter holds the supported app listing filters.
type appFilter struct {
	category string
	chart    string
	country  string
	source   string
	free     *bool
}

func (f appFilter) matches(rec *merge.Record) bool {
	if f.category != "" && !strings.EqualFold(rec.Category, f.category) {
		return false
	}
	if f.chart != "" && rec.ChartType != f.chart {
		return false
	}
	if f.country != "" && !strings.EqualFold(rec.Country, f.country) {
		return false
	}
	if f.source != "" {
		found := false
		for _, src := range rec.Sources {
			if string(src) == f.source {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.free != nil && rec.Free != *f.free {
		return false
	}
	return true
}

// handleApps lists catalog apps with optional filters. Results are
// ordered by chart rank when filtering a chart, by ID otherwise.
func (c *Component) handleApps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	store, _, ok := c.backend()
	if !ok {
		http.Error(w, "Catalog not ready", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	filter := appFilter{
		category: q.Get("category"),
		country:  q.Get("country"),
	}
	if chart := q.Get("chart"); chart != "" {
		chartType, err := appstore.ParseChartType(chart)
		if err != nil {
			http.Error(w, "Invalid chart type", http.StatusBadRequest)
			return
		}
		filter.chart = string(chartType)
	}
	if src := q.Get("source"); src != "" {
		source, err := appstore.ParseSource(src)
		if err != nil {
			http.Error(w, "Invalid source", http.StatusBadRequest)
			return
		}
		filter.source = string(source)
	}
	if free := q.Get("free"); free != "" {
		v, err := strconv.ParseBool(free)
		if err != nil {
			http.Error(w, "Invalid free flag", http.StatusBadRequest)
			return
		}
		filter.free = &v
	}

	limit := 100
	if l := q.Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = v
	}
	if maxLimit := c.config.GetMaxListLimit(); limit > maxLimit {
		limit = maxLimit
	}

	records, err := store.ListApps(r.Context())
	if err != nil {
		c.logger.Error("Failed to list apps", "error", err)
		http.Error(w, "Failed to list apps", http.StatusInternalServerError)
		return
	}

	filtered := make([]*merge.Record, 0, len(records))
	for _, rec := range records {
		if filter.matches(rec) {
			filtered = append(filtered, rec)
		}
	}

	if filter.chart != "" {
		sort.Slice(filtered, func(i, j int) bool {
			return filtered[i].ChartRank < filtered[j].ChartRank
		})
	} else {
		sort.Slice(filtered, func(i, j int) bool {
			return filtered[i].ID < filtered[j].ID
		})
	}

	if len(filtered) > limit {
		filtered = filtered[:limit]
	}

	writeJSON(w, http.StatusOK, filtered)
}

// handleApp returns a single merged app record by ID.
func (c *Component) handleApp(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		store, _, ok := c.backend()
		if !ok {
			http.Error(w, "Catalog not ready", http.StatusServiceUnavailable)
			return
		}

		id := strings.TrimPrefix(r.URL.Path, prefix)
		rec, err := store.GetApp(r.Context(), id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				http.Error(w, "App not found", http.StatusNotFound)
			} else {
				c.logger.Error("Failed to load app", "app_id", id, "error", err)
				http.Error(w, "Failed to load app", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusOK, rec)
	}
}

// ----------------------------------------------------------------------------
// GET /api/catalog/export
// ----------------------------------------------------------------------------

// handleExport streams the whole catalog in the requested format and
// profile.
func (c *Component) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	store, _, ok := c.backend()
	if !ok {
		http.Error(w, "Catalog not ready", http.StatusServiceUnavailable)
		return
	}

	formatParam := r.URL.Query().Get("format")
	if formatParam == "" {
		formatParam = c.config.DefaultFormat
	}
	format, err := export.ParseFormat(formatParam)
	if err != nil {
		http.Error(w, "Invalid export format", http.StatusBadRequest)
		return
	}

	profileParam := r.URL.Query().Get("profile")
	if profileParam == "" {
		profileParam = c.config.DefaultProfile
	}
	profile, err := export.ParseProfile(profileParam)
	if err != nil {
		http.Error(w, "Invalid export profile", http.StatusBadRequest)
		return
	}

	records, err := store.ListApps(r.Context())
	if err != nil {
		c.logger.Error("Failed to list apps for export", "error", err)
		http.Error(w, "Failed to export catalog", http.StatusInternalServerError)
		return
	}

	info, ok := export.GetFormatInfo(format)
	if !ok {
		http.Error(w, "Invalid export format", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", info.MIMEType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "catalog"+info.Extension))

	if err := export.Write(w, format, profile, records); err != nil {
		// Headers are already out; log only.
		c.logger.Error("Failed to write export", "format", format, "error", err)
		return
	}

	if c.collector != nil {
		c.collector.RecordExport(string(format))
	}
	c.logger.Info("Catalog exported", "format", format, "profile", profile, "records", len(records))
}

// ----------------------------------------------------------------------------
// GET /api/catalog/stats
// ----------------------------------------------------------------------------

// CatalogStats summarizes the catalog and its collection jobs.
type CatalogStats struct {
	Apps      int            `json:"apps"`
	Conflicts int            `json:"conflicts"`
	Sources   map[string]int `json:"sources"`
	Charts    map[string]int `json:"charts"`
	Jobs      map[string]int `json:"jobs"`
}

// handleStats computes catalog statistics from the stored records.
func (c *Component) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	store, _, ok := c.backend()
	if !ok {
		http.Error(w, "Catalog not ready", http.StatusServiceUnavailable)
		return
	}

	records, err := store.ListApps(r.Context())
	if err != nil {
		c.logger.Error("Failed to list apps for stats", "error", err)
		http.Error(w, "Failed to compute stats", http.StatusInternalServerError)
		return
	}
	jobs, err := store.ListJobs(r.Context())
	if err != nil {
		c.logger.Error("Failed to list jobs for stats", "error", err)
		http.Error(w, "Failed to compute stats", http.StatusInternalServerError)
		return
	}

	stats := CatalogStats{
		Apps:    len(records),
		Sources: make(map[string]int),
		Charts:  make(map[string]int),
		Jobs:    make(map[string]int),
	}
	for _, rec := range records {
		stats.Conflicts += rec.Conflicts
		for _, src := range rec.Sources {
			stats.Sources[string(src)]++
		}
		if rec.ChartType != "" {
			stats.Charts[rec.ChartType]++
		}
	}
	for _, job := range jobs {
		stats.Jobs[string(job.Status)]++
	}

	if c.collector != nil {
		c.collector.SetAppsTotal(stats.Apps)
	}

	writeJSON(w, http.StatusOK, stats)
}

// writeJSON marshals v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response is already partially written; nothing to do.
		_ = err
	}
}
