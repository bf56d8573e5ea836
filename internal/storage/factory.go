// factory.go maps backend names (local, s3, azure, gcs) to constructors and
// builds the backend selected by storage.default_backend.
package storage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/uilm/uilm-service/internal/config"
)

// FactoryFunc builds a backend from the application config
type FactoryFunc func(*config.Config) (Storage, error)

var factories = make(map[string]FactoryFunc)

// Register registers a storage backend factory
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// Registered returns the names of the registered backends, sorted
func Registered() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewStorage creates the storage backend selected by configuration
func NewStorage(cfg *config.Config) (Storage, error) {
	factory, ok := factories[cfg.Storage.DefaultBackend]
	if !ok {
		return nil, fmt.Errorf("unsupported storage backend: %s (registered: %s)",
			cfg.Storage.DefaultBackend, strings.Join(Registered(), ", "))
	}

	return factory(cfg)
}
