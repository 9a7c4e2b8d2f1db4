package apicollector

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the api-collector processor component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "api-collector",
		Factory:     NewComponent,
		Schema:      apiCollectorSchema,
		Type:        "processor",
		Protocol:    "nats",
		Domain:      "appstore",
		Description: "Store REST API harvester for app records",
		Version:     "0.1.0",
	})
}
