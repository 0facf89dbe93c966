package registry

import (
	"fmt"
	"sync"

	"github.com/opsmind/opsmind/pkg/config"
	"github.com/opsmind/opsmind/pkg/connector/core"
	"github.com/opsmind/opsmind/pkg/errors"
	"github.com/opsmind/opsmind/pkg/logger"
	"go.uber.org/zap"
)

// Registry manages connector registration and instantiation
type Registry struct {
	factories map[string]ConnectorFactory
	mu        sync.RWMutex
	logger    *zap.Logger
}

// ConnectorFactory is a function that creates connector instances.
// It takes a ConnectorConfig and returns a supervised connector or an error.
type ConnectorFactory func(config *config.ConnectorConfig) (core.Connector, error)

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new connector registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]ConnectorFactory),
		logger:    logger.Get().With(zap.String("component", "connector_registry")),
	}
}

// Register registers a connector factory under a type name
func (r *Registry) Register(name string, factory ConnectorFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("connector type %s already registered", name))
	}

	r.factories[name] = factory
	r.logger.Info("connector type registered", zap.String("name", name))
	return nil
}

// Create creates a connector instance for the given type
func (r *Registry) Create(name string, config *config.ConnectorConfig) (core.Connector, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("connector type %s not found", name))
	}

	connector, err := factory(config)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create connector %s", name))
	}

	return connector, nil
}

// List returns the registered connector type names
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// Has checks if a connector type is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[name]
	return exists
}

// Clear removes all registered connectors (mainly for testing)
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories = make(map[string]ConnectorFactory)
}

// Global registry functions

// Register registers a connector factory in the global registry
func Register(name string, factory ConnectorFactory) error {
	return globalRegistry.Register(name, factory)
}

// Create creates a connector from the global registry
func Create(name string, config *config.ConnectorConfig) (core.Connector, error) {
	return globalRegistry.Create(name, config)
}

// List returns registered connector types from the global registry
func List() []string {
	return globalRegistry.List()
}

// Has checks if a connector type is registered in the global registry
func Has(name string) bool {
	return globalRegistry.Has(name)
}

// GetRegistry returns the global registry instance.
// This is the primary way to access the connector registry.
func GetRegistry() *Registry {
	return globalRegistry
}
