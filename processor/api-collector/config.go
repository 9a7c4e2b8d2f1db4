package apicollector

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// Config holds configuration for the api-collector processor component.
type Config struct {
	Ports *component.PortConfig `json:"ports" schema:"type:ports,description:Port configuration,category:basic"`

	// StreamName is the JetStream stream for collection requests.
	StreamName string `json:"stream_name" schema:"type:string,description:JetStream stream name,category:basic,default:COLLECT"`

	// ConsumerName is the durable consumer name.
	ConsumerName string `json:"consumer_name" schema:"type:string,description:Durable consumer name,category:basic,default:api-collector"`

	// Country is the default storefront country code.
	Country string `json:"country" schema:"type:string,description:Default storefront country code,category:basic,default:tr"`

	// RequestsPerSecond throttles calls to the store API.
	RequestsPerSecond float64 `json:"requests_per_second" schema:"type:float,description:Store API request rate limit,category:advanced,default:2"`

	// SearchLimit is the default number of search results per request.
	SearchLimit int `json:"search_limit" schema:"type:int,description:Default search result limit,category:advanced,default:200"`

	// RSSLimit is the default number of chart feed entries per request.
	RSSLimit int `json:"rss_limit" schema:"type:int,description:Default chart feed entry limit,category:advanced,default:100"`

	// DataDir is the root directory for raw collection snapshots.
	DataDir string `json:"data_dir" schema:"type:string,description:Root directory for raw snapshots,category:basic,default:./data"`

	// BaseURL overrides the store API base URL. Test use only.
	BaseURL string `json:"base_url" schema:"type:string,description:Store API base URL override,category:advanced"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("stream_name is required")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name is required")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must be non-negative")
	}
	if c.SearchLimit < 0 || c.SearchLimit > 200 {
		return fmt.Errorf("search_limit must be between 0 and 200")
	}
	if c.RSSLimit < 0 {
		return fmt.Errorf("rss_limit must be non-negative")
	}
	return nil
}

// GetCountry returns the storefront country with default.
func (c *Config) GetCountry() string {
	if c.Country == "" {
		return "tr"
	}
	return c.Country
}

// GetRequestsPerSecond returns the request rate with default.
func (c *Config) GetRequestsPerSecond() float64 {
	if c.RequestsPerSecond <= 0 {
		return 2
	}
	return c.RequestsPerSecond
}

// GetSearchLimit returns the search limit with default.
func (c *Config) GetSearchLimit() int {
	if c.SearchLimit <= 0 {
		return 200
	}
	return c.SearchLimit
}

// GetRSSLimit returns the chart feed limit with default.
func (c *Config) GetRSSLimit() int {
	if c.RSSLimit <= 0 {
		return 100
	}
	return c.RSSLimit
}

// GetDataDir returns the data directory with default.
func (c *Config) GetDataDir() string {
	if c.DataDir == "" {
		return "./data"
	}
	return c.DataDir
}

// DefaultConfig returns default configuration for api-collector processor.
func DefaultConfig() Config {
	inputDefs := []component.PortDefinition{
		{
			Name:        "collect.in",
			Type:        "jetstream",
			Subject:     "collect.request.api",
			StreamName:  "COLLECT",
			Required:    true,
			Description: "Store API collection requests",
		},
	}

	outputDefs := []component.PortDefinition{
		{
			Name:        "records.out",
			Type:        "jetstream",
			Subject:     "records.batch.api",
			StreamName:  "RECORDS",
			Required:    true,
			Description: "Harvested record batches for merging",
		},
	}

	return Config{
		Ports: &component.PortConfig{
			Inputs:  inputDefs,
			Outputs: outputDefs,
		},
		StreamName:        "COLLECT",
		ConsumerName:      "api-collector",
		Country:           "tr",
		RequestsPerSecond: 2,
		SearchLimit:       200,
		RSSLimit:          100,
		DataDir:           "./data",
	}
}
