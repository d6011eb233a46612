package provider

import (
	"fmt"
	"sync"

	"github.com/provisr-io/provisr/pkg/provider"
	"github.com/provisr-io/provisr/providers/aws"
	"github.com/provisr-io/provisr/providers/kubernetes"
	"github.com/provisr-io/provisr/providers/static"
)

// Registry manages the lifecycle of provider capabilities.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[string]provider.Capability
}

func NewRegistry() *Registry {
	return &Registry{
		capabilities: make(map[string]provider.Capability),
	}
}

// Load initializes and registers a built-in capability by provider name.
func (r *Registry) Load(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.capabilities[name]; exists {
		return nil
	}

	var c provider.Capability
	switch name {
	case "static":
		c = static.New()
	case "aws":
		c = aws.New()
	case "kubernetes":
		c = kubernetes.New()
	default:
		return fmt.Errorf("unknown provider: %s", name)
	}

	r.capabilities[name] = c
	return nil
}

// Register adds a capability under a provider name, replacing any existing
// one. Tests use this to install fakes.
func (r *Registry) Register(name string, c provider.Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities[name] = c
}

// Get returns a registered capability.
func (r *Registry) Get(name string) (provider.Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.capabilities[name]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return c, nil
}
