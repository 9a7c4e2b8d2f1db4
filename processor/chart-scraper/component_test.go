package chartscraper

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/storewatch/appstore"
	"github.com/c360studio/storewatch/collect"
	"github.com/c360studio/storewatch/storage"
)

// fakeMsg is an in-memory jetstream.Msg for handler tests.
type fakeMsg struct {
	data  []byte
	acked bool
	naked bool
}

func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) { return &jetstream.MsgMetadata{}, nil }
func (m *fakeMsg) Data() []byte                              { return m.data }
func (m *fakeMsg) Headers() nats.Header                      { return nil }
func (m *fakeMsg) Subject() string                           { return requestFilterSubject }
func (m *fakeMsg) Reply() string                             { return "" }
func (m *fakeMsg) Ack() error                                { m.acked = true; return nil }
func (m *fakeMsg) DoubleAck(context.Context) error           { m.acked = true; return nil }
func (m *fakeMsg) Nak() error                                { m.naked = true; return nil }
func (m *fakeMsg) NakWithDelay(time.Duration) error          { m.naked = true; return nil }
func (m *fakeMsg) InProgress() error                         { return nil }
func (m *fakeMsg) Term() error                               { return nil }
func (m *fakeMsg) TermWithReason(string) error               { return nil }

// fakeJobStore records job lifecycle calls.
type fakeJobStore struct {
	statuses  map[string]storage.JobStatus
	completed map[string]int
	failed    map[string]string
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		statuses:  make(map[string]storage.JobStatus),
		completed: make(map[string]int),
		failed:    make(map[string]string),
	}
}

func (s *fakeJobStore) UpdateJobStatus(_ context.Context, id string, status storage.JobStatus) error {
	s.statuses[id] = status
	return nil
}

func (s *fakeJobStore) CompleteJob(_ context.Context, id string, records int) error {
	s.completed[id] = records
	return nil
}

func (s *fakeJobStore) FailJob(_ context.Context, id string, errMsg string) error {
	s.failed[id] = errMsg
	return nil
}

// fakeScraper returns canned records for every chart.
type fakeScraper struct {
	records []appstore.Record
	err     error
}

func (f *fakeScraper) ScrapeChart(context.Context, appstore.ChartType, string) ([]appstore.Record, error) {
	return f.records, f.err
}

// fakeSnapshots discards raw snapshots.
type fakeSnapshots struct{}

func (fakeSnapshots) Write(appstore.Source, string, any) (string, error) { return "", nil }

func newTestComponent(scraper chartScraper, store jobStore) *Component {
	return &Component{
		name:     "chart-scraper",
		config:   DefaultConfig(),
		logger:   slog.Default(),
		handler:  scraper,
		store:    store,
		rawStore: fakeSnapshots{},
	}
}

func scrapeRequest(t *testing.T, jobID string, params map[string]string) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"payload": collect.RequestPayload{
			JobID:       jobID,
			Source:      appstore.SourceScrape,
			Params:      params,
			RequestedAt: time.Now().UTC(),
		},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return data
}

func TestHandleMessageCompletesEmptyScrape(t *testing.T) {
	store := newFakeJobStore()
	c := newTestComponent(&fakeScraper{}, store)

	msg := &fakeMsg{data: scrapeRequest(t, "job:empty", nil)}
	c.handleMessage(context.Background(), msg)

	if !msg.acked || msg.naked {
		t.Errorf("acked = %v, naked = %v, want acked only", msg.acked, msg.naked)
	}
	if records, ok := store.completed["job:empty"]; !ok || records != 0 {
		t.Errorf("completed = %v, want job:empty with 0 records", store.completed)
	}
	if len(store.failed) != 0 {
		t.Errorf("failed = %v, want none", store.failed)
	}
}

func TestHandleMessageFailsJobOnUnknownChart(t *testing.T) {
	store := newFakeJobStore()
	c := newTestComponent(&fakeScraper{}, store)

	msg := &fakeMsg{data: scrapeRequest(t, "job:bad", map[string]string{"chart": "trending"})}
	c.handleMessage(context.Background(), msg)

	// Bad requests never succeed on redelivery, so the message is acked.
	if !msg.acked || msg.naked {
		t.Errorf("acked = %v, naked = %v, want acked only", msg.acked, msg.naked)
	}
	if _, ok := store.failed["job:bad"]; !ok {
		t.Errorf("failed = %v, want job:bad", store.failed)
	}
}

func TestHandleMessageNaksUnparseablePayload(t *testing.T) {
	store := newFakeJobStore()
	c := newTestComponent(&fakeScraper{}, store)

	msg := &fakeMsg{data: []byte("not json")}
	c.handleMessage(context.Background(), msg)

	if msg.acked || !msg.naked {
		t.Errorf("acked = %v, naked = %v, want naked only", msg.acked, msg.naked)
	}
}
