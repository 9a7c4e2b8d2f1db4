package catalogapi

import (
	"fmt"
	"reflect"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/storewatch/export"
)

// catalogAPISchema holds the configuration schema generated from Config.
var catalogAPISchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the catalog-api component.
type Config struct {
	// Ports declares optional HTTP port configuration.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Port configuration,category:basic"`

	// DefaultFormat is the export format used when none is requested.
	DefaultFormat string `json:"default_format" schema:"type:string,description:Export format used when none is requested,category:basic,default:json"`

	// DefaultProfile is the export profile used when none is requested.
	DefaultProfile string `json:"default_profile" schema:"type:string,description:Export profile used when none is requested,category:basic,default:core"`

	// MaxListLimit caps the limit query parameter on app listings.
	MaxListLimit int `json:"max_list_limit" schema:"type:int,description:Maximum apps returned by one listing request,category:advanced,default:1000"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		DefaultFormat:  "json",
		DefaultProfile: "core",
		MaxListLimit:   1000,
	}
}

// Validate verifies the configuration is consistent.
func (c *Config) Validate() error {
	if c.DefaultFormat != "" {
		if _, err := export.ParseFormat(c.DefaultFormat); err != nil {
			return fmt.Errorf("invalid default_format: %w", err)
		}
	}
	if c.DefaultProfile != "" {
		if _, err := export.ParseProfile(c.DefaultProfile); err != nil {
			return fmt.Errorf("invalid default_profile: %w", err)
		}
	}
	if c.MaxListLimit < 0 {
		return fmt.Errorf("max_list_limit must be non-negative")
	}
	return nil
}

// GetMaxListLimit returns the listing cap with default.
func (c *Config) GetMaxListLimit() int {
	if c.MaxListLimit <= 0 {
		return 1000
	}
	return c.MaxListLimit
}
