package venue

import (
	"fmt"
	"sort"

	"github.com/quantfarm/hedged/internal/domain"
)

// Registry resolves venue names to clients. It is populated once at wire
// time and read-only afterwards, so no locking is needed.
type Registry struct {
	clients map[string]domain.VenueClient
}

// NewRegistry builds a registry from the given clients.
func NewRegistry(clients ...domain.VenueClient) *Registry {
	r := &Registry{clients: make(map[string]domain.VenueClient, len(clients))}
	for _, c := range clients {
		r.clients[c.Name()] = c
	}
	return r
}

// Get returns the client for name or domain.ErrVenueUnknown.
func (r *Registry) Get(name string) (domain.VenueClient, error) {
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("venue %q: %w", name, domain.ErrVenueUnknown)
	}
	return c, nil
}

// All returns every registered client in stable name order.
func (r *Registry) All() []domain.VenueClient {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]domain.VenueClient, 0, len(names))
	for _, name := range names {
		out = append(out, r.clients[name])
	}
	return out
}

// Names returns the registered venue names in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
