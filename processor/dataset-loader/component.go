// Package datasetloader provides a component that loads bulk app
// records from public dataset archives and dropped CSV files.
package datasetloader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/storewatch/appstore"
	"github.com/c360studio/storewatch/appstore/dataset"
	"github.com/c360studio/storewatch/collect"
	"github.com/c360studio/storewatch/storage"
)

// datasetLoaderSchema defines the configuration schema.
var datasetLoaderSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// recordsSubject is the subject for dataset record batches.
const recordsSubject = "records.batch.dataset"

// requestFilterSubject selects dataset collection requests.
const requestFilterSubject = "collect.request.dataset"

// loadSnapshot is the archived summary of one dataset load.
type loadSnapshot struct {
	Dataset string   `json:"dataset"`
	Files   []string `json:"files"`
	Rows    int      `json:"rows"`
	Decoded int      `json:"decoded"`
	Skipped int      `json:"skipped"`
}

// Component implements the dataset-loader processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger
	platform   component.PlatformMeta
	handler    *Handler
	store      *storage.Store
	rawStore   *storage.RawStore
	watcher    *DropWatcher

	// Lifecycle management
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// Metrics
	datasetsLoaded atomic.Int64
	recordsLoaded  atomic.Int64
	errors         atomic.Int64
	lastActivityMu sync.RWMutex
	lastActivity   time.Time
}

// NewComponent creates a new dataset-loader processor component.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Use default config if ports not set
	if config.Ports == nil {
		config = DefaultConfig()
		// Re-unmarshal to get user-provided values
		if err := json.Unmarshal(rawConfig, &config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Component{
		name:       "dataset-loader",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		platform:   deps.Platform,
	}

	return c, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	return nil
}

// Start begins processing dataset collection requests.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}
	c.running = true
	c.startTime = time.Now()
	c.mu.Unlock()

	fail := func(err error) error {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return err
	}

	js, err := c.natsClient.JetStream()
	if err != nil {
		return fail(fmt.Errorf("get JetStream context: %w", err))
	}

	store, err := storage.NewStore(ctx, js)
	if err != nil {
		return fail(fmt.Errorf("create store: %w", err))
	}
	c.store = store

	rawStore, err := storage.NewRawStore(c.config.GetDataDir())
	if err != nil {
		return fail(fmt.Errorf("create raw store: %w", err))
	}
	c.rawStore = rawStore

	manifest := dataset.DefaultManifest()
	if path := c.config.ManifestPath; path != "" {
		manifest, err = dataset.LoadManifest(path)
		if err != nil {
			return fail(fmt.Errorf("load manifest: %w", err))
		}
	}

	downloader := dataset.NewDownloader(&http.Client{Timeout: c.config.GetDownloadTimeout()})
	workDir := filepath.Join(c.config.GetDataDir(), "datasets")
	c.handler = NewHandler(manifest, downloader, workDir, c.logger)

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consumeMessages(runCtx)
	}()

	if c.config.Watch.Enabled {
		watcher, err := NewDropWatcher(c.config.Watch, c.logger)
		if err != nil {
			cancel()
			return fail(fmt.Errorf("create drop watcher: %w", err))
		}
		c.watcher = watcher
		if err := watcher.Start(runCtx); err != nil {
			cancel()
			return fail(fmt.Errorf("start drop watcher: %w", err))
		}

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.consumeDropEvents(runCtx)
		}()
	}

	c.logger.Info("Dataset loader started",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"manifest", c.config.ManifestPath,
		"watch", c.config.Watch.Enabled)

	return nil
}

// consumeDropEvents loads dropped CSV files and publishes their
// records without a job.
func (c *Component) consumeDropEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-c.watcher.Events():
			if !ok {
				return
			}
			c.updateLastActivity()

			result, err := c.handler.LoadFile(event.Path, event.AbsPath)
			if err != nil {
				c.logger.Warn("Failed to load dropped file", "path", event.Path, "error", err)
				c.errors.Add(1)
				continue
			}
			if len(result.Records) == 0 {
				c.logger.Warn("Dropped file decoded no records", "path", event.Path)
				continue
			}

			c.archiveSnapshot(result)

			if err := c.publishBatches(ctx, "", result.Records); err != nil {
				c.logger.Error("Failed to publish dropped file batches", "path", event.Path, "error", err)
				c.errors.Add(1)
				continue
			}

			c.datasetsLoaded.Add(1)
			c.recordsLoaded.Add(int64(len(result.Records)))
			c.logger.Info("Dropped file ingested",
				"path", event.Path,
				"dataset", result.Dataset,
				"records", len(result.Records))
		}
	}
}

// consumeMessages processes incoming dataset collection requests.
func (c *Component) consumeMessages(ctx context.Context) {
	js, err := c.natsClient.JetStream()
	if err != nil {
		c.logger.Error("Failed to get JetStream context", "error", err)
		return
	}

	stream, err := js.Stream(ctx, c.config.StreamName)
	if err != nil {
		c.logger.Error("Failed to get stream", "error", err, "stream", c.config.StreamName)
		return
	}

	consumerConfig := jetstream.ConsumerConfig{
		Durable:       c.config.ConsumerName,
		FilterSubject: requestFilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Minute,
		MaxDeliver:    3,
	}
	consumer, err := stream.CreateOrUpdateConsumer(ctx, consumerConfig)
	if err != nil {
		c.logger.Error("Failed to create consumer", "error", err, "stream", c.config.StreamName, "consumer", c.config.ConsumerName)
		return
	}

	c.logger.Info("Consumer connected", "stream", c.config.StreamName, "consumer", c.config.ConsumerName)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue // Timeout, try again
		}

		for msg := range msgs.Messages() {
			select {
			case <-ctx.Done():
				// NAK the message so it can be redelivered
				_ = msg.Nak()
				return
			default:
				c.handleMessage(ctx, msg)
			}
		}
	}
}

// handleMessage processes a single dataset collection request.
func (c *Component) handleMessage(ctx context.Context, msg jetstream.Msg) {
	c.updateLastActivity()

	req, err := collect.ParsePayload[collect.RequestPayload](msg.Data())
	if err != nil {
		c.logger.Warn("Failed to parse dataset request", "error", err)
		c.errors.Add(1)
		_ = msg.Nak()
		return
	}
	if err := req.Validate(); err != nil {
		c.logger.Warn("Invalid dataset request", "error", err)
		c.errors.Add(1)
		// Invalid requests never succeed on redelivery.
		_ = msg.Ack()
		return
	}

	name := req.Param("name", "")
	if name == "" {
		err := fmt.Errorf("dataset request needs a name param")
		c.logger.Warn("Invalid dataset request", "job_id", req.JobID, "error", err)
		c.errors.Add(1)
		c.failJob(ctx, req.JobID, err)
		_ = msg.Ack()
		return
	}

	c.logger.Info("Processing dataset request", "job_id", req.JobID, "dataset", name)

	if err := c.store.UpdateJobStatus(ctx, req.JobID, storage.JobStatusRunning); err != nil {
		c.logger.Warn("Failed to mark job running", "job_id", req.JobID, "error", err)
	}

	var results []*LoadResult
	if name == "all" {
		results, err = c.handler.LoadAll(ctx)
	} else {
		var result *LoadResult
		result, err = c.handler.LoadDataset(ctx, name)
		if result != nil {
			results = append(results, result)
		}
	}
	if err != nil {
		c.logger.Error("Failed to load dataset", "job_id", req.JobID, "dataset", name, "error", err)
		c.errors.Add(1)
		c.failJob(ctx, req.JobID, err)
		_ = msg.Nak()
		return
	}

	var records []appstore.Record
	skipped := 0
	for _, result := range results {
		c.archiveSnapshot(result)
		records = append(records, result.Records...)
		skipped += result.Stats.Skipped
	}
	if len(records) == 0 {
		loadErr := fmt.Errorf("dataset %q decoded no records", name)
		c.logger.Error("Dataset decoded no records", "job_id", req.JobID, "dataset", name)
		c.errors.Add(1)
		c.failJob(ctx, req.JobID, loadErr)
		_ = msg.Nak()
		return
	}

	if err := c.publishBatches(ctx, req.JobID, records); err != nil {
		c.logger.Error("Failed to publish record batches", "job_id", req.JobID, "error", err)
		c.errors.Add(1)
		c.failJob(ctx, req.JobID, err)
		_ = msg.Nak()
		return
	}

	c.datasetsLoaded.Add(int64(len(results)))
	c.recordsLoaded.Add(int64(len(records)))
	c.completeJob(ctx, req.JobID, len(records))
	_ = msg.Ack()

	c.logger.Info("Dataset load complete",
		"job_id", req.JobID,
		"dataset", name,
		"datasets", len(results),
		"records", len(records),
		"skipped", skipped)
}

// archiveSnapshot archives a load summary. The downloaded archives
// themselves stay under the work directory.
func (c *Component) archiveSnapshot(result *LoadResult) {
	snapshot := loadSnapshot{
		Dataset: result.Dataset,
		Files:   result.Files,
		Rows:    result.Stats.Rows,
		Decoded: result.Stats.Decoded,
		Skipped: result.Stats.Skipped,
	}
	name := fmt.Sprintf("dataset_%s", result.Dataset)
	if _, err := c.rawStore.Write(appstore.SourceDataset, name, snapshot); err != nil {
		c.logger.Warn("Failed to archive load snapshot", "name", name, "error", err)
	}
}

// publishBatches publishes records in batch-size chunks so a large
// dataset does not exceed the max message size.
func (c *Component) publishBatches(ctx context.Context, jobID string, records []appstore.Record) error {
	batchSize := c.config.GetBatchSize()
	collectedAt := time.Now().UTC()

	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}

		batch := &collect.RecordBatchPayload{
			JobID:       jobID,
			Source:      appstore.SourceDataset,
			Records:     records[start:end],
			CollectedAt: collectedAt,
		}
		msg := message.NewBaseMessage(collect.RecordBatchType, batch, "storewatch")
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal batch message: %w", err)
		}
		if err := c.natsClient.PublishToStream(ctx, recordsSubject, data); err != nil {
			return fmt.Errorf("publish batch %d..%d: %w", start, end, err)
		}
	}
	return nil
}

func (c *Component) completeJob(ctx context.Context, jobID string, records int) {
	if err := c.store.CompleteJob(ctx, jobID, records); err != nil {
		c.logger.Warn("Failed to complete job", "job_id", jobID, "error", err)
	}
}

func (c *Component) failJob(ctx context.Context, jobID string, cause error) {
	if err := c.store.FailJob(ctx, jobID, cause.Error()); err != nil {
		c.logger.Warn("Failed to fail job", "job_id", jobID, "error", err)
	}
}

// updateLastActivity safely updates the last activity timestamp.
func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

// getLastActivity safely retrieves the last activity timestamp.
func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}

// Stop gracefully stops the component within the given timeout.
func (c *Component) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}

	if c.cancel != nil {
		c.cancel()
	}
	if c.watcher != nil {
		_ = c.watcher.Stop()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		// Graceful shutdown completed
	case <-time.After(timeout):
		err = fmt.Errorf("stop timed out after %v", timeout)
	}

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	c.logger.Info("Dataset loader stopped",
		"datasets_loaded", c.datasetsLoaded.Load(),
		"records_loaded", c.recordsLoaded.Load(),
		"errors", c.errors.Load())

	return err
}

// Discoverable interface implementation

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "dataset-loader",
		Type:        "processor",
		Description: "Bulk dataset archive and CSV drop directory loader",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = buildPort(portDef, component.DirectionInput)
	}
	return ports
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = buildPort(portDef, component.DirectionOutput)
	}
	return ports
}

// buildPort creates a component.Port from a PortDefinition.
func buildPort(portDef component.PortDefinition, direction component.Direction) component.Port {
	port := component.Port{
		Name:        portDef.Name,
		Direction:   direction,
		Required:    portDef.Required,
		Description: portDef.Description,
	}
	if portDef.Type == "jetstream" {
		port.Config = component.JetStreamPort{
			StreamName: portDef.StreamName,
			Subjects:   []string{portDef.Subject},
		}
	} else {
		port.Config = component.NATSPort{
			Subject: portDef.Subject,
		}
	}
	return port
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return datasetLoaderSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(c.errors.Load()),
		Uptime:     time.Since(startTime),
		Status:     c.getStatusString(running),
	}
}

// getStatusString returns a status string based on running state.
func (c *Component) getStatusString(running bool) string {
	if running {
		return "running"
	}
	return "stopped"
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.getLastActivity(),
	}
}
