// Package merger provides a component that folds record batches from
// all collectors into the merged app catalog.
package merger

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
	"github.com/c360studio/semstreams/natsclient"
	"github.com/c360studio/semstreams/pkg/retry"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/storewatch/collect"
	"github.com/c360studio/storewatch/merge"
	"github.com/c360studio/storewatch/metrics"
	"github.com/c360studio/storewatch/storage"
)

// mergerSchema defines the configuration schema.
var mergerSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// mergedSubjectPrefix prefixes per-app merged record subjects.
const mergedSubjectPrefix = "apps.merged."

// batchFilterSubject selects record batches from every collector.
const batchFilterSubject = "records.batch.>"

// Component implements the merger processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger
	platform   component.PlatformMeta
	handler    *Handler
	store      *storage.Store
	collector  *metrics.Collector

	// Lifecycle management
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// Metrics
	batchesMerged  atomic.Int64
	recordsMerged  atomic.Int64
	conflictsSeen  atomic.Int64
	errors         atomic.Int64
	lastActivityMu sync.RWMutex
	lastActivity   time.Time
}

// NewComponent creates a new merger processor component.
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
		name:       "merger",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		platform:   deps.Platform,
	}

	return c, nil
}

// SetMetricsCollector wires the shared pipeline metrics collector.
// Optional; merging works without one.
func (c *Component) SetMetricsCollector(collector *metrics.Collector) {
	c.collector = collector
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	return nil
}

// Start begins merging record batches.
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

	priority, err := c.config.GetPriority()
	if err != nil {
		return fail(fmt.Errorf("resolve priority: %w", err))
	}
	resolver, err := merge.NewResolver(priority)
	if err != nil {
		return fail(fmt.Errorf("create resolver: %w", err))
	}
	c.handler = NewHandler(resolver, store, c.logger)

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consumeMessages(runCtx)
	}()

	c.logger.Info("Merger started",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"priority", priority)

	return nil
}

// consumeMessages processes incoming record batches.
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
		FilterSubject: batchFilterSubject,
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

// handleMessage merges a single record batch. Merging is idempotent,
// so a redelivered batch converges to the same catalog state.
func (c *Component) handleMessage(ctx context.Context, msg jetstream.Msg) {
	c.updateLastActivity()

	batch, err := collect.ParsePayload[collect.RecordBatchPayload](msg.Data())
	if err != nil {
		c.logger.Warn("Failed to parse record batch", "error", err)
		c.errors.Add(1)
		_ = msg.Nak()
		return
	}
	if err := batch.Validate(); err != nil {
		c.logger.Warn("Invalid record batch", "error", err)
		c.errors.Add(1)
		// Invalid batches never succeed on redelivery.
		_ = msg.Ack()
		return
	}

	outcome, err := c.handler.MergeBatch(ctx, batch)
	if err != nil {
		c.logger.Error("Failed to merge batch",
			"job_id", batch.JobID,
			"source", batch.Source,
			"error", err)
		c.errors.Add(1)
		_ = msg.Nak()
		return
	}

	for _, rec := range outcome.Records {
		if err := c.publishMerged(ctx, rec); err != nil {
			c.logger.Warn("Failed to publish merged record", "app_id", rec.ID, "error", err)
			c.errors.Add(1)
		}
	}

	c.batchesMerged.Add(1)
	c.recordsMerged.Add(int64(outcome.Merged))
	c.conflictsSeen.Add(int64(outcome.Conflicts))
	if c.collector != nil {
		c.collector.RecordBatchMerged(string(batch.Source), outcome.Merged, outcome.Conflicts)
		if total, err := c.store.CountApps(ctx); err == nil {
			c.collector.SetAppsTotal(total)
		}
	}

	_ = msg.Ack()

	c.logger.Info("Batch merged",
		"job_id", batch.JobID,
		"source", batch.Source,
		"records", outcome.Merged,
		"changed", outcome.Changed,
		"conflicts", outcome.Conflicts,
		"skipped", outcome.Skipped)
}

// publishMerged publishes the post-merge catalog record on its per-app
// subject. Publish failures are usually transient, so attempts are
// retried before the caller gives up on the record.
func (c *Component) publishMerged(ctx context.Context, rec *merge.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal merged record: %w", err)
	}
	return retry.Do(ctx, retry.DefaultConfig(), func() error {
		return c.natsClient.PublishToStream(ctx, mergedSubjectPrefix+rec.ID, data)
	})
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

	c.logger.Info("Merger stopped",
		"batches_merged", c.batchesMerged.Load(),
		"records_merged", c.recordsMerged.Load(),
		"conflicts", c.conflictsSeen.Load(),
		"errors", c.errors.Load())

	return err
}

// Discoverable interface implementation

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "merger",
		Type:        "processor",
		Description: "Catalog merger with field-level source priority",
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
	return mergerSchema
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
