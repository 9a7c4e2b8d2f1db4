package datasetloader

import (
	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the component registration contract.
type RegistryInterface interface {
	RegisterWithConfig(config component.RegistrationConfig) error
}

// Register registers the dataset-loader component with the registry.
func Register(registry RegistryInterface) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:     "dataset-loader",
		Factory:  NewComponent,
		Schema:   datasetLoaderSchema,
		Type:     "processor",
		Protocol: "nats",
		Domain:   "appstore",
		Version:  "0.1.0",
	})
}
