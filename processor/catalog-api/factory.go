package catalogapi

import (
	"encoding/json"
	"fmt"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/storewatch/metrics"
)

// RegistryInterface defines the minimal interface required for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the catalog-api component with the given registry.
func Register(registry RegistryInterface) error {
	return registerWithFactory(registry, NewComponent)
}

// RegisterWithCollector registers the catalog-api with a shared metrics
// collector attached to every instance the registry creates.
func RegisterWithCollector(registry RegistryInterface, collector *metrics.Collector) error {
	return registerWithFactory(registry, func(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
		d, err := NewComponent(rawConfig, deps)
		if err != nil {
			return nil, err
		}
		d.(*Component).SetMetricsCollector(collector)
		return d, nil
	})
}

func registerWithFactory(registry RegistryInterface, factory func(json.RawMessage, component.Dependencies) (component.Discoverable, error)) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "catalog-api",
		Factory:     factory,
		Schema:      catalogAPISchema,
		Type:        "processor",
		Protocol:    "http",
		Domain:      "appstore",
		Description: "HTTP endpoints for collection jobs, app lookups, and exports",
		Version:     "0.1.0",
	})
}
