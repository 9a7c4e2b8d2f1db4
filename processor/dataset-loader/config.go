package datasetloader

import (
	"fmt"
	"time"

	"github.com/c360studio/semstreams/component"
)

// Config holds the configuration for the dataset-loader processor.
type Config struct {
	// Ports defines the input/output port configuration
	Ports *component.PortConfig `json:"ports,omitempty"`

	// StreamName is the JetStream stream holding collection requests.
	StreamName string `json:"stream_name" schema:"type:string,description:JetStream stream for collection requests,category:advanced,default:COLLECT"`

	// ConsumerName is the durable consumer name.
	ConsumerName string `json:"consumer_name" schema:"type:string,description:Durable consumer name,category:advanced,default:dataset-loader"`

	// ManifestPath points at the dataset manifest YAML. Empty uses
	// the built-in manifest.
	ManifestPath string `json:"manifest_path" schema:"type:string,description:Path to the dataset manifest YAML,category:basic"`

	// DataDir is the root directory for downloads and raw snapshots.
	DataDir string `json:"data_dir" schema:"type:string,description:Root directory for downloads and raw snapshots,category:basic,default:./data"`

	// BatchSize caps records per published batch.
	BatchSize int `json:"batch_size" schema:"type:int,description:Maximum records per published batch,category:advanced,default:500"`

	// DownloadTimeout bounds a single archive download.
	DownloadTimeout string `json:"download_timeout" schema:"type:string,description:Timeout for a single archive download,category:advanced,default:10m"`

	// Watch configures the CSV drop directory watcher.
	Watch WatchConfig `json:"watch"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("stream_name is required")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name is required")
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must be non-negative")
	}
	if c.DownloadTimeout != "" {
		if _, err := time.ParseDuration(c.DownloadTimeout); err != nil {
			return fmt.Errorf("invalid download_timeout format: %w", err)
		}
	}
	if err := c.Watch.Validate(); err != nil {
		return err
	}
	return nil
}

// GetDataDir returns the data directory with default.
func (c *Config) GetDataDir() string {
	if c.DataDir == "" {
		return "./data"
	}
	return c.DataDir
}

// GetBatchSize returns the batch size with default.
func (c *Config) GetBatchSize() int {
	if c.BatchSize <= 0 {
		return 500
	}
	return c.BatchSize
}

// GetDownloadTimeout returns the download timeout as a duration.
func (c *Config) GetDownloadTimeout() time.Duration {
	if c.DownloadTimeout == "" {
		return 10 * time.Minute
	}
	d, err := time.ParseDuration(c.DownloadTimeout)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// DefaultConfig returns default configuration for dataset-loader processor.
func DefaultConfig() Config {
	inputDefs := []component.PortDefinition{
		{
			Name:        "collect.in",
			Type:        "jetstream",
			StreamName:  "COLLECT",
			Subject:     "collect.request.dataset",
			Required:    true,
			Description: "Dataset collection requests",
		},
	}
	outputDefs := []component.PortDefinition{
		{
			Name:        "records.out",
			Type:        "jetstream",
			StreamName:  "RECORDS",
			Subject:     "records.batch.dataset",
			Required:    true,
			Description: "Decoded dataset record batches",
		},
	}

	return Config{
		Ports: &component.PortConfig{
			Inputs:  inputDefs,
			Outputs: outputDefs,
		},
		StreamName:      "COLLECT",
		ConsumerName:    "dataset-loader",
		DataDir:         "./data",
		BatchSize:       500,
		DownloadTimeout: "10m",
		Watch:           DefaultWatchConfig(),
	}
}
