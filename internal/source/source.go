// Package source implements the upstream connectors that fetch raw payloads
// for the Bronze store.
package source

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pumpcast/internal/config"
	"github.com/sells-group/pumpcast/internal/fetcher"
	"github.com/sells-group/pumpcast/internal/model"
)

// Cadence describes how often a source publishes.
type Cadence string

const (
	Daily  Cadence = "daily"
	Weekly Cadence = "weekly"
	Annual Cadence = "annual"
)

// Source fetches one or more Bronze datasets from an upstream API.
type Source interface {
	// Name returns the unique identifier for this source (e.g., "eia").
	Name() string

	// Datasets lists the Bronze datasets this source writes.
	Datasets() []string

	// Cadence returns how often the source is updated upstream.
	Cadence() Cadence

	// ShouldRun decides if the source needs fetching given the current time
	// and the time of the last successful ingest (nil if never ingested).
	ShouldRun(now time.Time, lastRun *time.Time) bool

	// Fetch downloads raw payloads. Records fetched before a failure are
	// returned together with the error.
	Fetch(ctx context.Context, f fetcher.Fetcher) ([]model.RawRecord, error)
}

// Registry maps source names to their implementations.
type Registry struct {
	sources  map[string]Source
	order    []string // insertion order for deterministic iteration
	disabled []Source
}

// NewRegistry creates a registry of every configured source. The EIA key
// is mandatory. NOAA is disabled without a token.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	if err := cfg.RequireEIA(); err != nil {
		return nil, err
	}

	r := &Registry{sources: make(map[string]Source)}
	r.Register(NewFutures(cfg.Sources))
	r.Register(NewEIA(cfg.Sources))
	if cfg.Sources.NOAA.Token != "" {
		r.Register(NewNOAA(cfg.Sources))
	} else {
		r.disabled = append(r.disabled, NewNOAA(cfg.Sources))
	}
	r.Register(NewHURDAT(cfg.Sources))
	return r, nil
}

// NewEmptyRegistry creates a registry with no sources.
func NewEmptyRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds a source to the registry.
func (r *Registry) Register(s Source) {
	name := s.Name()
	if _, ok := r.sources[name]; !ok {
		r.order = append(r.order, name)
	}
	r.sources[name] = s
}

// Get returns a source by name.
func (r *Registry) Get(name string) (Source, error) {
	s, ok := r.sources[name]
	if !ok {
		return nil, eris.Errorf("source: unknown source %q", name)
	}
	return s, nil
}

// Select returns the named sources, or all sources when names is empty.
func (r *Registry) Select(names []string) ([]Source, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	result := make([]Source, 0, len(names))
	for _, name := range names {
		s, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, nil
}

// All returns all sources in registration order.
func (r *Registry) All() []Source {
	result := make([]Source, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.sources[name])
	}
	return result
}

// AllNames returns all registered source names in registration order.
func (r *Registry) AllNames() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Disabled lists sources skipped for missing credentials.
func (r *Registry) Disabled() []string {
	out := make([]string, len(r.disabled))
	for i, s := range r.disabled {
		out[i] = s.Name()
	}
	return out
}

// DisabledDatasets lists the Bronze datasets of disabled sources.
func (r *Registry) DisabledDatasets() []string {
	var out []string
	for _, s := range r.disabled {
		out = append(out, s.Datasets()...)
	}
	return out
}

// DatasetOwner returns the source that writes dataset.
func (r *Registry) DatasetOwner(dataset string) (Source, bool) {
	for _, name := range r.order {
		for _, ds := range r.sources[name].Datasets() {
			if ds == dataset {
				return r.sources[name], true
			}
		}
	}
	return nil, false
}

func newRecord(dataset, schema, contentType string, payload []byte, now time.Time) model.RawRecord {
	return model.RawRecord{
		Dataset:       dataset,
		RetrievedAt:   now.UTC(),
		SchemaVersion: schema,
		ContentType:   contentType,
		Payload:       payload,
	}
}
