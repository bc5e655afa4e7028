package schema

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Registry is the model access point for the rest of the engine. First
// access to a table triggers catalog discovery; concurrent first access for
// the same table shares one in-flight discovery instead of issuing
// duplicate metadata queries.
type Registry struct {
	catalog *Catalog
	group   singleflight.Group
}

// NewRegistry wraps a catalog.
func NewRegistry(catalog *Catalog) *Registry {
	return &Registry{catalog: catalog}
}

// GetModel returns the table's model, discovering it on first access.
func (r *Registry) GetModel(ctx context.Context, table string) (*Model, error) {
	if m, ok := r.catalog.Cached(table); ok {
		return m, nil
	}
	v, err, _ := r.group.Do(table, func() (interface{}, error) {
		return r.catalog.Discover(ctx, table)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Model), nil
}

// Invalidate drops the cached model so the next access rediscovers it.
func (r *Registry) Invalidate(table string) {
	r.catalog.Invalidate(table)
}

// Refresh rediscovers a table's model immediately.
func (r *Registry) Refresh(ctx context.Context, table string) (*Model, error) {
	r.catalog.Invalidate(table)
	return r.GetModel(ctx, table)
}
