package chartscraper

import (
	"fmt"
	"time"

	"github.com/c360studio/semstreams/component"
)

// Config holds configuration for the chart-scraper processor component.
type Config struct {
	Ports *component.PortConfig `json:"ports" schema:"type:ports,description:Port configuration,category:basic"`

	// StreamName is the JetStream stream for collection requests.
	StreamName string `json:"stream_name" schema:"type:string,description:JetStream stream name,category:basic,default:COLLECT"`

	// ConsumerName is the durable consumer name.
	ConsumerName string `json:"consumer_name" schema:"type:string,description:Durable consumer name,category:basic,default:chart-scraper"`

	// Country is the default storefront country code.
	Country string `json:"country" schema:"type:string,description:Default storefront country code,category:basic,default:tr"`

	// DataDir is the root directory for raw collection snapshots.
	DataDir string `json:"data_dir" schema:"type:string,description:Root directory for raw snapshots,category:basic,default:./data"`

	// FetchTimeout is the maximum time for fetching a store page.
	FetchTimeout string `json:"fetch_timeout" schema:"type:string,description:HTTP fetch timeout,category:advanced,default:30s"`

	// MaxContentSize is the maximum response body size in bytes.
	MaxContentSize int64 `json:"max_content_size" schema:"type:int,description:Maximum content size in bytes,category:advanced,default:10485760"`

	// MaxRetries is how many times a failed page fetch is retried.
	MaxRetries int `json:"max_retries" schema:"type:int,description:Page fetch retry attempts,category:advanced,default:3"`

	// RefreshInterval re-scrapes all charts periodically when set.
	// Empty disables periodic refresh.
	RefreshInterval string `json:"refresh_interval" schema:"type:string,description:Periodic chart refresh interval; empty disables,category:advanced"`

	// ScrapeDetails enables fetching app detail pages for chart entries.
	ScrapeDetails bool `json:"scrape_details" schema:"type:bool,description:Fetch app detail pages for chart entries,category:advanced,default:false"`

	// DetailLimit caps detail page fetches per chart.
	DetailLimit int `json:"detail_limit" schema:"type:int,description:Maximum detail pages per chart,category:advanced,default:10"`

	// DetailDelay is the pause between detail page fetches.
	DetailDelay string `json:"detail_delay" schema:"type:string,description:Delay between detail page fetches,category:advanced,default:1s"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("stream_name is required")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name is required")
	}
	if c.FetchTimeout != "" {
		if _, err := time.ParseDuration(c.FetchTimeout); err != nil {
			return fmt.Errorf("invalid fetch_timeout format: %w", err)
		}
	}
	if c.RefreshInterval != "" {
		if _, err := time.ParseDuration(c.RefreshInterval); err != nil {
			return fmt.Errorf("invalid refresh_interval format: %w", err)
		}
	}
	if c.DetailDelay != "" {
		if _, err := time.ParseDuration(c.DetailDelay); err != nil {
			return fmt.Errorf("invalid detail_delay format: %w", err)
		}
	}
	if c.MaxContentSize < 0 {
		return fmt.Errorf("max_content_size must be non-negative")
	}
	if c.DetailLimit < 0 {
		return fmt.Errorf("detail_limit must be non-negative")
	}
	return nil
}

// parseDurationOrDefault parses a duration string and returns the default if empty or invalid.
func parseDurationOrDefault(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// GetCountry returns the storefront country with default.
func (c *Config) GetCountry() string {
	if c.Country == "" {
		return "tr"
	}
	return c.Country
}

// GetDataDir returns the data directory with default.
func (c *Config) GetDataDir() string {
	if c.DataDir == "" {
		return "./data"
	}
	return c.DataDir
}

// GetFetchTimeout returns the fetch timeout as a duration.
func (c *Config) GetFetchTimeout() time.Duration {
	return parseDurationOrDefault(c.FetchTimeout, 30*time.Second)
}

// GetRefreshInterval returns the refresh interval, zero when disabled.
func (c *Config) GetRefreshInterval() time.Duration {
	return parseDurationOrDefault(c.RefreshInterval, 0)
}

// GetDetailDelay returns the detail fetch delay as a duration.
func (c *Config) GetDetailDelay() time.Duration {
	return parseDurationOrDefault(c.DetailDelay, time.Second)
}

// GetDetailLimit returns the detail page cap with default.
func (c *Config) GetDetailLimit() int {
	if c.DetailLimit <= 0 {
		return 10
	}
	return c.DetailLimit
}

// GetMaxContentSize returns the max content size with default.
func (c *Config) GetMaxContentSize() int64 {
	if c.MaxContentSize <= 0 {
		return 10 * 1024 * 1024 // 10MB default
	}
	return c.MaxContentSize
}

// GetMaxRetries returns the retry count with default.
func (c *Config) GetMaxRetries() int {
	if c.MaxRetries <= 0 {
		return 3
	}
	return c.MaxRetries
}

// DefaultConfig returns default configuration for chart-scraper processor.
func DefaultConfig() Config {
	inputDefs := []component.PortDefinition{
		{
			Name:        "collect.in",
			Type:        "jetstream",
			Subject:     "collect.request.scrape",
			StreamName:  "COLLECT",
			Required:    true,
			Description: "Chart scrape requests",
		},
	}

	outputDefs := []component.PortDefinition{
		{
			Name:        "records.out",
			Type:        "jetstream",
			Subject:     "records.batch.scrape",
			StreamName:  "RECORDS",
			Required:    true,
			Description: "Scraped record batches for merging",
		},
	}

	return Config{
		Ports: &component.PortConfig{
			Inputs:  inputDefs,
			Outputs: outputDefs,
		},
		StreamName:     "COLLECT",
		ConsumerName:   "chart-scraper",
		Country:        "tr",
		DataDir:        "./data",
		FetchTimeout:   "30s",
		MaxContentSize: 10 * 1024 * 1024, // 10MB
		MaxRetries:     3,
		ScrapeDetails:  false,
		DetailLimit:    10,
		DetailDelay:    "1s",
	}
}
