package index

import (
	"fmt"

	"github.com/beam-cloud/indexsync/pkg/types"
)

// RowScanner is satisfied by *sql.Rows
type RowScanner interface {
	Scan(dest ...any) error
}

// Descriptor ties an entity stream to its index schema and source query.
// Query must select rows changed at or after $1, ordered by primary key.
type Descriptor struct {
	Stream string
	Schema IndexSchema
	Query  string
	Scan   func(row RowScanner) (Document, error)
}

// Index returns the name of the target index
func (d *Descriptor) Index() string {
	return d.Schema.Name
}

// Registry holds descriptors in registration order
type Registry struct {
	descriptors map[string]*Descriptor
	order       []string
}

// NewRegistry creates an empty descriptor registry
func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[string]*Descriptor),
	}
}

// Register adds a descriptor, replacing any previous one for the same stream
func (r *Registry) Register(d *Descriptor) {
	if _, ok := r.descriptors[d.Stream]; !ok {
		r.order = append(r.order, d.Stream)
	}
	r.descriptors[d.Stream] = d
}

// Get returns the descriptor for a stream
func (r *Registry) Get(stream string) (*Descriptor, error) {
	d, ok := r.descriptors[stream]
	if !ok {
		return nil, &types.ErrStreamNotFound{Stream: stream}
	}
	return d, nil
}

// Has returns true if a descriptor is registered for the stream
func (r *Registry) Has(stream string) bool {
	_, ok := r.descriptors[stream]
	return ok
}

// List returns all descriptors in registration order
func (r *Registry) List() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.order))
	for _, stream := range r.order {
		out = append(out, r.descriptors[stream])
	}
	return out
}

// Select returns the descriptors for the given streams in the given order.
// An empty selection means every registered stream.
func (r *Registry) Select(streams []string) ([]*Descriptor, error) {
	if len(streams) == 0 {
		return r.List(), nil
	}

	out := make([]*Descriptor, 0, len(streams))
	seen := make(map[string]bool, len(streams))
	for _, stream := range streams {
		if seen[stream] {
			continue
		}
		seen[stream] = true

		d, err := r.Get(stream)
		if err != nil {
			return nil, fmt.Errorf("select streams: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}
