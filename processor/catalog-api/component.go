// Package catalogapi provides the HTTP surface of the app catalog.
// It exposes collection triggers, job tracking, app lookups, and
// catalog exports.
package catalogapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"

	"github.com/c360studio/storewatch/merge"
	"github.com/c360studio/storewatch/metrics"
	"github.com/c360studio/storewatch/storage"
)

// catalogStore is the subset of the catalog store the API serves from.
type catalogStore interface {
	CreateJob(ctx context.Context, j *storage.Job) (string, error)
	GetJob(ctx context.Context, id string) (*storage.Job, error)
	ListJobs(ctx context.Context) ([]*storage.Job, error)
	FailJob(ctx context.Context, id string, errMsg string) error
	GetApp(ctx context.Context, id string) (*merge.Record, error)
	ListApps(ctx context.Context) ([]*merge.Record, error)
	CountApps(ctx context.Context) (int, error)
}

// requestPublisher publishes collection requests.
type requestPublisher interface {
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// Component implements the catalog-api component.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	store     catalogStore
	publisher requestPublisher
	collector *metrics.Collector

	// Lifecycle state machine
	// States: 0=stopped, 1=starting, 2=running, 3=stopping
	state     atomic.Int32
	startTime time.Time
	mu        sync.RWMutex
}

const (
	stateStopped  = 0
	stateStarting = 1
	stateRunning  = 2
	stateStopping = 3
)

// NewComponent constructs a catalog-api Component from raw JSON config and deps.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	config := DefaultConfig()
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "catalog-api",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
	}, nil
}

// SetMetricsCollector wires the shared pipeline metrics collector.
// Optional; the API works without one.
func (c *Component) SetMetricsCollector(collector *metrics.Collector) {
	c.collector = collector
}

// Initialize prepares the component for startup.
func (c *Component) Initialize() error {
	return nil
}

// Start connects the component to the catalog store. Until Start
// succeeds, the HTTP handlers answer 503.
func (c *Component) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(stateStopped, stateStarting) {
		current := c.state.Load()
		if current == stateRunning || current == stateStarting {
			return fmt.Errorf("component already running or starting")
		}
		return fmt.Errorf("component in invalid state: %d", current)
	}

	defer func() {
		if c.state.Load() == stateStarting {
			c.state.Store(stateStopped)
		}
	}()

	if c.natsClient == nil {
		return fmt.Errorf("NATS client required")
	}

	js, err := c.natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get JetStream context: %w", err)
	}
	store, err := storage.NewStore(ctx, js)
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}

	// No background work runs here; request handling borrows each
	// request's own context.
	c.mu.Lock()
	c.store = store
	c.publisher = c.natsClient
	c.startTime = time.Now()
	c.mu.Unlock()

	c.state.Store(stateRunning)
	c.logger.Info("catalog-api started")
	return nil
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	if !c.state.CompareAndSwap(stateRunning, stateStopping) {
		current := c.state.Load()
		if current == stateStopped || current == stateStopping {
			return nil
		}
		return fmt.Errorf("component in unexpected state: %d", current)
	}

	c.state.Store(stateStopped)
	c.logger.Info("catalog-api stopped")
	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "catalog-api",
		Type:        "processor",
		Description: "HTTP endpoints for collection jobs, app lookups, and exports",
		Version:     "0.1.0",
	}
}

// InputPorts returns an empty port list. The API has no NATS inputs.
func (c *Component) InputPorts() []component.Port {
	return []component.Port{}
}

// OutputPorts returns an empty port list. Collection requests go out
// through the core NATS client.
func (c *Component) OutputPorts() []component.Port {
	return []component.Port{}
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return catalogAPISchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	state := c.state.Load()
	running := state == stateRunning

	c.mu.RLock()
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	switch state {
	case stateStarting:
		status = "starting"
	case stateRunning:
		status = "running"
	case stateStopping:
		status = "stopping"
	}

	return component.HealthStatus{
		Healthy:   running,
		LastCheck: time.Now(),
		Uptime:    time.Since(startTime),
		Status:    status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{}
}
