package merger

import (
	"fmt"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/storewatch/merge"
)

// Config holds the configuration for the merger processor.
type Config struct {
	// Ports defines the input/output port configuration
	Ports *component.PortConfig `json:"ports,omitempty"`

	// StreamName is the JetStream stream holding record batches.
	StreamName string `json:"stream_name" schema:"type:string,description:JetStream stream for record batches,category:advanced,default:RECORDS"`

	// ConsumerName is the durable consumer name.
	ConsumerName string `json:"consumer_name" schema:"type:string,description:Durable consumer name,category:advanced,default:merger"`

	// Priority lists collection sources from most to least trusted.
	// Empty uses the built-in order.
	Priority []string `json:"priority" schema:"type:array,description:Collection sources ordered from most to least trusted,category:basic,default:[api,scrape,dataset]"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("stream_name is required")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name is required")
	}
	if len(c.Priority) > 0 {
		if _, err := merge.ParsePriority(c.Priority); err != nil {
			return fmt.Errorf("invalid priority: %w", err)
		}
	}
	return nil
}

// GetPriority returns the configured source priority.
func (c *Config) GetPriority() (merge.Priority, error) {
	if len(c.Priority) == 0 {
		return merge.DefaultPriority(), nil
	}
	return merge.ParsePriority(c.Priority)
}

// DefaultConfig returns default configuration for merger processor.
func DefaultConfig() Config {
	inputDefs := []component.PortDefinition{
		{
			Name:        "records.in",
			Type:        "jetstream",
			StreamName:  "RECORDS",
			Subject:     "records.batch.>",
			Required:    true,
			Description: "Record batches from all collectors",
		},
	}
	outputDefs := []component.PortDefinition{
		{
			Name:        "apps.out",
			Type:        "jetstream",
			StreamName:  "APPS",
			Subject:     "apps.merged.>",
			Required:    true,
			Description: "Merged catalog records",
		},
	}

	return Config{
		Ports: &component.PortConfig{
			Inputs:  inputDefs,
			Outputs: outputDefs,
		},
		StreamName:   "RECORDS",
		ConsumerName: "merger",
	}
}
