package merger

import (
	"encoding/json"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/storewatch/metrics"
)

// RegistryInterface defines the component registration contract.
type RegistryInterface interface {
	RegisterWithConfig(config component.RegistrationConfig) error
}

// Register registers the merger component with the registry.
func Register(registry RegistryInterface) error {
	return registerWithFactory(registry, NewComponent)
}

// RegisterWithCollector registers the merger with a shared metrics collector
// attached to every instance the registry creates.
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
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:     "merger",
		Factory:  factory,
		Schema:   mergerSchema,
		Type:     "processor",
		Protocol: "nats",
		Domain:   "appstore",
		Version:  "0.1.0",
	})
}
