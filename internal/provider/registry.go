package provider

import (
	"github.com/dispatchctl/notifyd/internal/domain"
)

// Registry is the Provider Registry (C4): a lookup from notification
// type to the adapter responsible for it. It does not itself retry or
// fail over between adapters of the same type — one adapter per type is
// the only topology SPEC_FULL.md describes.
type Registry struct {
	adapters []domain.Adapter
}

func NewRegistry(adapters ...domain.Adapter) *Registry {
	return &Registry{adapters: adapters}
}

func (r *Registry) For(t domain.NotificationType) (domain.Adapter, error) {
	for _, a := range r.adapters {
		if a.Supports(t) {
			return a, nil
		}
	}
	return nil, domain.ErrNoProviderForType
}

func (r *Registry) All() []domain.Adapter {
	return r.adapters
}
