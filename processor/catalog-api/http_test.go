package catalogapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/c360studio/storewatch/appstore"
	"github.com/c360studio/storewatch/collect"
	"github.com/c360studio/storewatch/merge"
	"github.com/c360studio/storewatch/storage"
)

// fakeStore is an in-memory catalogStore for handler tests.
type fakeStore struct {
	apps map[string]*merge.Record
	jobs map[string]*storage.Job
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		apps: make(map[string]*merge.Record),
		jobs: make(map[string]*storage.Job),
	}
}

func (s *fakeStore) CreateJob(_ context.Context, j *storage.Job) (string, error) {
	j.ID = storage.NewJobID()
	j.Status = storage.JobStatusPending
	j.CreatedAt = time.Now()
	j.UpdatedAt = j.CreatedAt
	s.jobs[j.ID] = j
	return j.ID, nil
}

func (s *fakeStore) GetJob(_ context.Context, id string) (*storage.Job, error) {
	if !strings.HasPrefix(id, "job:") {
		return nil, errors.New("invalid job ID format")
	}
	job, ok := s.jobs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return job, nil
}

func (s *fakeStore) ListJobs(_ context.Context) ([]*storage.Job, error) {
	jobs := make([]*storage.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *fakeStore) FailJob(_ context.Context, id string, errMsg string) error {
	if job, ok := s.jobs[id]; ok {
		job.Status = storage.JobStatusFailed
		job.Error = errMsg
	}
	return nil
}

func (s *fakeStore) GetApp(_ context.Context, id string) (*merge.Record, error) {
	rec, ok := s.apps[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

func (s *fakeStore) ListApps(_ context.Context) ([]*merge.Record, error) {
	records := make([]*merge.Record, 0, len(s.apps))
	for _, rec := range s.apps {
		records = append(records, rec)
	}
	return records, nil
}

func (s *fakeStore) CountApps(_ context.Context) (int, error) {
	return len(s.apps), nil
}

// fakePublisher records published collection requests.
type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) PublishToStream(_ context.Context, subject string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

// setupTestComponent creates a Component wired to in-memory fakes.
func setupTestComponent(t *testing.T) (*Component, *fakeStore, *fakePublisher) {
	t.Helper()
	store := newFakeStore()
	publisher := &fakePublisher{}
	c := &Component{
		name:      "catalog-api",
		config:    DefaultConfig(),
		logger:    slog.Default(),
		store:     store,
		publisher: publisher,
	}
	return c, store, publisher
}

// registerHandlers wires the component's handlers into a fresh mux and returns a test server.
func registerHandlers(t *testing.T, c *Component) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	c.RegisterHTTPHandlers("api/catalog", mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func catalogRecord(id, name, category string, chartRank int) *merge.Record {
	rec := &merge.Record{
		Record: appstore.Record{
			ID:          id,
			Name:        name,
			Category:    category,
			Country:     "tr",
			Source:      appstore.SourceAPI,
			Free:        true,
			CollectedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		},
		Sources:      []appstore.Source{appstore.SourceAPI},
		FieldSources: map[string]appstore.Source{"name": appstore.SourceAPI},
		MergedAt:     time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	if chartRank > 0 {
		rec.ChartType = string(appstore.ChartTopFree)
		rec.ChartRank = chartRank
	}
	return rec
}

func TestHandleCollectCreatesJob(t *testing.T) {
	c, store, publisher := setupTestComponent(t)
	srv := registerHandlers(t, c)

	body := bytes.NewBufferString(`{"params":{"term":"notes","country":"tr"}}`)
	resp, err := http.Post(srv.URL+"/api/catalog/collect/api", "application/json", body)
	if err != nil {
		t.Fatalf("POST collect: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var job storage.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Source != appstore.SourceAPI || job.Status != storage.JobStatusPending {
		t.Errorf("job = %+v", job)
	}
	if _, ok := store.jobs[job.ID]; !ok {
		t.Error("job not stored")
	}

	if len(publisher.subjects) != 1 || publisher.subjects[0] != "collect.request.api" {
		t.Fatalf("published subjects = %v", publisher.subjects)
	}
	payload, err := collect.ParsePayload[collect.RequestPayload](publisher.payloads[0])
	if err != nil {
		t.Fatalf("parse published payload: %v", err)
	}
	if payload.JobID != job.ID || payload.Param("term", "") != "notes" {
		t.Errorf("published payload = %+v", payload)
	}
}

func TestHandleCollectRejectsUnknownSource(t *testing.T) {
	c, _, _ := setupTestComponent(t)
	srv := registerHandlers(t, c)

	resp, err := http.Post(srv.URL+"/api/catalog/collect/rss", "application/json", nil)
	if err != nil {
		t.Fatalf("POST collect: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleCollectFailsJobWhenPublishFails(t *testing.T) {
	c, store, publisher := setupTestComponent(t)
	publisher.err = errors.New("nats down")
	srv := registerHandlers(t, c)

	resp, err := http.Post(srv.URL+"/api/catalog/collect/scrape", "application/json", nil)
	if err != nil {
		t.Fatalf("POST collect: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	for _, job := range store.jobs {
		if job.Status != storage.JobStatusFailed {
			t.Errorf("job status = %s, want failed", job.Status)
		}
	}
}

func TestHandleJobs(t *testing.T) {
	c, store, _ := setupTestComponent(t)
	srv := registerHandlers(t, c)

	for range 3 {
		if _, err := store.CreateJob(context.Background(), &storage.Job{Source: appstore.SourceAPI}); err != nil {
			t.Fatalf("seed job: %v", err)
		}
	}

	resp, err := http.Get(srv.URL + "/api/catalog/jobs")
	if err != nil {
		t.Fatalf("GET jobs: %v", err)
	}
	defer resp.Body.Close()

	var jobs []storage.Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		t.Fatalf("decode jobs: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("jobs = %d, want 3", len(jobs))
	}
	if !sort.SliceIsSorted(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	}) {
		t.Error("jobs not sorted newest first")
	}
}

func TestHandleJobNotFound(t *testing.T) {
	c, _, _ := setupTestComponent(t)
	srv := registerHandlers(t, c)

	resp, err := http.Get(srv.URL + "/api/catalog/jobs/job:missing")
	if err != nil {
		t.Fatalf("GET job: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}

	resp2, err := http.Get(srv.URL + "/api/catalog/jobs/bogus")
	if err != nil {
		t.Fatalf("GET job: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp2.StatusCode)
	}
}

func TestHandleAppsFilters(t *testing.T) {
	c, store, _ := setupTestComponent(t)
	srv := registerHandlers(t, c)

	store.apps["1"] = catalogRecord("1", "Alpha", "Games", 2)
	store.apps["2"] = catalogRecord("2", "Beta", "Games", 1)
	store.apps["3"] = catalogRecord("3", "Gamma", "Productivity", 0)

	// Category filter
	resp, err := http.Get(srv.URL + "/api/catalog/apps?category=games")
	if err != nil {
		t.Fatalf("GET apps: %v", err)
	}
	defer resp.Body.Close()

	var records []merge.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatalf("decode apps: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}

	// Chart filter orders by rank
	resp2, err := http.Get(srv.URL + "/api/catalog/apps?chart=top-free")
	if err != nil {
		t.Fatalf("GET apps: %v", err)
	}
	defer resp2.Body.Close()
	records = nil
	if err := json.NewDecoder(resp2.Body).Decode(&records); err != nil {
		t.Fatalf("decode apps: %v", err)
	}
	if len(records) != 2 || records[0].ID != "2" || records[1].ID != "1" {
		ids := make([]string, len(records))
		for i, r := range records {
			ids[i] = r.ID
		}
		t.Errorf("chart order = %v, want [2 1]", ids)
	}

	// Unknown chart type
	resp3, err := http.Get(srv.URL + "/api/catalog/apps?chart=trending")
	if err != nil {
		t.Fatalf("GET apps: %v", err)
	}
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp3.StatusCode)
	}
}

func TestHandleAppsLimit(t *testing.T) {
	c, store, _ := setupTestComponent(t)
	srv := registerHandlers(t, c)

	store.apps["1"] = catalogRecord("1", "Alpha", "Games", 0)
	store.apps["2"] = catalogRecord("2", "Beta", "Games", 0)

	resp, err := http.Get(srv.URL + "/api/catalog/apps?limit=1")
	if err != nil {
		t.Fatalf("GET apps: %v", err)
	}
	defer resp.Body.Close()

	var records []merge.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatalf("decode apps: %v", err)
	}
	if len(records) != 1 || records[0].ID != "1" {
		t.Errorf("records = %+v, want just app 1", records)
	}
}

func TestHandleApp(t *testing.T) {
	c, store, _ := setupTestComponent(t)
	srv := registerHandlers(t, c)

	store.apps["1"] = catalogRecord("1", "Alpha", "Games", 0)

	resp, err := http.Get(srv.URL + "/api/catalog/apps/1")
	if err != nil {
		t.Fatalf("GET app: %v", err)
	}
	defer resp.Body.Close()

	var rec merge.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode app: %v", err)
	}
	if rec.Name != "Alpha" {
		t.Errorf("app = %+v", rec)
	}

	resp2, err := http.Get(srv.URL + "/api/catalog/apps/999")
	if err != nil {
		t.Fatalf("GET app: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp2.StatusCode)
	}
}

func TestHandleExportCSV(t *testing.T) {
	c, store, _ := setupTestComponent(t)
	srv := registerHandlers(t, c)

	store.apps["1"] = catalogRecord("1", "Alpha", "Games", 0)

	resp, err := http.Get(srv.URL + "/api/catalog/export?format=csv&profile=core")
	if err != nil {
		t.Fatalf("GET export: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "catalog.csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) != 2 {
		t.Fatalf("csv lines = %d, want header plus one row", len(lines))
	}
	if !strings.HasPrefix(lines[0], "id,name") {
		t.Errorf("csv header = %q", lines[0])
	}
}

func TestHandleExportRejectsUnknownFormat(t *testing.T) {
	c, _, _ := setupTestComponent(t)
	srv := registerHandlers(t, c)

	resp, err := http.Get(srv.URL + "/api/catalog/export?format=xml")
	if err != nil {
		t.Fatalf("GET export: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleStats(t *testing.T) {
	c, store, _ := setupTestComponent(t)
	srv := registerHandlers(t, c)

	rec := catalogRecord("1", "Alpha", "Games", 1)
	rec.Sources = append(rec.Sources, appstore.SourceScrape)
	rec.Conflicts = 3
	store.apps["1"] = rec
	store.apps["2"] = catalogRecord("2", "Beta", "Games", 0)

	job := &storage.Job{Source: appstore.SourceAPI}
	if _, err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/catalog/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	defer resp.Body.Close()

	var stats CatalogStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}

	if stats.Apps != 2 || stats.Conflicts != 3 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Sources["api"] != 2 || stats.Sources["scrape"] != 1 {
		t.Errorf("sources = %v", stats.Sources)
	}
	if stats.Charts["top-free"] != 1 {
		t.Errorf("charts = %v", stats.Charts)
	}
	if stats.Jobs["pending"] != 1 {
		t.Errorf("jobs = %v", stats.Jobs)
	}
}

func TestHandlersBeforeStart(t *testing.T) {
	c := &Component{
		name:   "catalog-api",
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	srv := registerHandlers(t, c)

	resp, err := http.Get(srv.URL + "/api/catalog/apps")
	if err != nil {
		t.Fatalf("GET apps: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestStopLifecycle(t *testing.T) {
	c, _, _ := setupTestComponent(t)

	// Stopping an already-stopped component is a no-op.
	if err := c.Stop(time.Second); err != nil {
		t.Errorf("Stop while stopped: %v", err)
	}

	c.state.Store(stateRunning)
	c.startTime = time.Now()
	if err := c.Stop(time.Second); err != nil {
		t.Errorf("Stop while running: %v", err)
	}
	if h := c.Health(); h.Healthy || h.Status != "stopped" {
		t.Errorf("health after stop = %+v", h)
	}
}
