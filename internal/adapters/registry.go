package adapters

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/profitlens/exsync/config"
	"github.com/profitlens/exsync/internal/schema"
)

// Factory constructs an adapter for one (account, exchange) pair.
type Factory func(settings config.ExchangeSettings, creds schema.Credentials, log zerolog.Logger) (Adapter, error)

// Registry maintains adapter factories keyed by lowercase exchange key.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty factory registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs a factory for the given exchange key.
func (r *Registry) Register(exchange string, factory Factory) {
	if factory == nil {
		panic("adapter factory required")
	}
	key := config.NormalizeExchangeName(exchange)
	r.mu.Lock()
	r.factories[key] = factory
	r.mu.Unlock()
}

// Create builds an adapter for the exchange. An unknown key is a
// configuration error, not a silent no-op.
func (r *Registry) Create(exchange string, settings config.ExchangeSettings, creds schema.Credentials, log zerolog.Logger) (Adapter, error) {
	key := config.NormalizeExchangeName(exchange)
	r.mu.RLock()
	factory, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("exchange %q not registered", exchange)
	}
	adapter, err := factory(settings, creds, log)
	if err != nil {
		return nil, fmt.Errorf("instantiate %s adapter: %w", key, err)
	}
	return adapter, nil
}

// Known lists registered exchange keys in stable order.
func (r *Registry) Known() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for key := range r.factories {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
