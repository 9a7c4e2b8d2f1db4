// Package apicollector provides a component that harvests app records
// from the store's REST API on request.
package apicollector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/storewatch/appstore"
	"github.com/c360studio/storewatch/appstore/itunes"
	"github.com/c360studio/storewatch/collect"
	"github.com/c360studio/storewatch/storage"
)

// apiCollectorSchema defines the configuration schema.
var apiCollectorSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// recordsSubject is the subject for harvested record batches.
const recordsSubject = "records.batch.api"

// requestFilterSubject selects API collection requests.
const requestFilterSubject = "collect.request.api"

// Component implements the api-collector processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger
	platform   component.PlatformMeta
	handler    *Handler
	store      *storage.Store
	rawStore   *storage.RawStore

	// Lifecycle management
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// Metrics
	requestsHandled  atomic.Int64
	recordsCollected atomic.Int64
	errors           atomic.Int64
	lastActivityMu   sync.RWMutex
	lastActivity     time.Time
}

// NewComponent creates a new api-collector processor component.
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
		name:       "api-collector",
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

// Start begins processing API collection requests.
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

	clientOpts := []itunes.Option{
		itunes.WithCountry(c.config.GetCountry()),
		itunes.WithRequestsPerSecond(c.config.GetRequestsPerSecond()),
	}
	if c.config.BaseURL != "" {
		clientOpts = append(clientOpts, itunes.WithBaseURL(c.config.BaseURL))
	}
	client := itunes.NewClient(clientOpts...)
	c.handler = NewHandler(client, c.config.GetSearchLimit(), c.config.GetRSSLimit())

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consumeMessages(runCtx)
	}()

	c.logger.Info("API collector started",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"country", c.config.GetCountry())

	return nil
}

// consumeMessages processes incoming collection requests.
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
		AckWait:       5 * time.Minute,
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

// handleMessage processes a single collection request.
func (c *Component) handleMessage(ctx context.Context, msg jetstream.Msg) {
	c.updateLastActivity()

	req, err := collect.ParsePayload[collect.RequestPayload](msg.Data())
	if err != nil {
		c.logger.Warn("Failed to parse collection request", "error", err)
		c.errors.Add(1)
		_ = msg.Nak()
		return
	}
	if err := req.Validate(); err != nil {
		c.logger.Warn("Invalid collection request", "error", err)
		c.errors.Add(1)
		// Invalid requests never succeed on redelivery.
		_ = msg.Ack()
		return
	}

	c.logger.Info("Processing API collection request", "job_id", req.JobID, "params", req.Params)

	if err := c.store.UpdateJobStatus(ctx, req.JobID, storage.JobStatusRunning); err != nil {
		c.logger.Warn("Failed to mark job running", "job_id", req.JobID, "error", err)
	}

	records, snapshotName, err := c.handler.Collect(ctx, req)
	if err != nil {
		c.logger.Error("Collection failed", "job_id", req.JobID, "error", err)
		c.errors.Add(1)
		c.failJob(ctx, req.JobID, err)
		_ = msg.Nak()
		return
	}

	if len(records) == 0 {
		c.logger.Info("Collection returned no records", "job_id", req.JobID)
		c.completeJob(ctx, req.JobID, 0)
		_ = msg.Ack()
		return
	}

	if _, err := c.rawStore.Write(appstore.SourceAPI, snapshotName, records); err != nil {
		c.logger.Warn("Failed to archive raw snapshot", "name", snapshotName, "error", err)
	}

	if err := c.publishBatch(ctx, req.JobID, records); err != nil {
		c.logger.Error("Failed to publish record batch", "job_id", req.JobID, "error", err)
		c.errors.Add(1)
		c.failJob(ctx, req.JobID, err)
		_ = msg.Nak()
		return
	}

	c.requestsHandled.Add(1)
	c.recordsCollected.Add(int64(len(records)))
	c.completeJob(ctx, req.JobID, len(records))
	_ = msg.Ack()

	c.logger.Info("API collection complete",
		"job_id", req.JobID,
		"records", len(records),
		"snapshot", snapshotName)
}

// publishBatch wraps records in a batch payload and publishes them for
// merging.
func (c *Component) publishBatch(ctx context.Context, jobID string, records []appstore.Record) error {
	batch := &collect.RecordBatchPayload{
		JobID:       jobID,
		Source:      appstore.SourceAPI,
		Records:     records,
		CollectedAt: time.Now().UTC(),
	}
	msg := message.NewBaseMessage(collect.RecordBatchType, batch, "storewatch")
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal batch message: %w", err)
	}
	return c.natsClient.PublishToStream(ctx, recordsSubject, data)
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

	c.logger.Info("API collector stopped",
		"requests_handled", c.requestsHandled.Load(),
		"records_collected", c.recordsCollected.Load(),
		"errors", c.errors.Load())

	return err
}

// Discoverable interface implementation

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "api-collector",
		Type:        "processor",
		Description: "Store REST API harvester for app records",
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
	return apiCollectorSchema
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
