// Package store persists external lookup results in a local SQLite database
// so repeat runs avoid repeat network calls.
package store

import (
	"context"
	"time"

	"github.com/geografi/enrich-cli/internal/model"
)

// LookupState distinguishes a cached value, a cached "looked up and found
// nothing", and a key never seen before.
type LookupState int

const (
	// Miss means the key has never been looked up.
	Miss LookupState = iota
	// Hit means a value is cached for the key.
	Hit
	// NegativeHit means the key was looked up before and found nothing.
	NegativeHit
)

// Lookup is the three-way result of a cache read. Value is meaningful only
// when State is Hit.
type Lookup[T any] struct {
	State LookupState
	Value T
}

// Cache is the read-through/write-through store consulted by both external
// service clients. Passing a nil payload to a Put records a negative entry.
type Cache interface {
	GetCEP(ctx context.Context, cep string) (Lookup[model.Address], error)
	PutCEP(ctx context.Context, cep string, addr *model.Address) error

	GetGeocode(ctx context.Context, key string) (Lookup[model.Coordinates], error)
	PutGeocode(ctx context.Context, key, query string, coords *model.Coordinates) error
}

// Stats summarizes cache contents for reporting.
type Stats struct {
	CEPEntries     int
	GeocodeEntries int
	CompletedRuns  int
}

// Store is the full persistence surface: the lookup cache plus maintenance
// and the processing-run log.
type Store interface {
	Cache

	// Migrate creates the schema if it does not exist yet.
	Migrate(ctx context.Context) error

	// Purge deletes cache entries older than the given age from both cache
	// tables and returns the number of rows removed.
	Purge(ctx context.Context, olderThan time.Duration) (int, error)

	Stats(ctx context.Context) (Stats, error)

	StartRun(ctx context.Context, filename string) (string, error)
	FinishRun(ctx context.Context, id string, stats model.RunStatistics, status model.RunStatus) error
	ListRuns(ctx context.Context, limit int) ([]model.ProcessingRun, error)

	Close() error
}
