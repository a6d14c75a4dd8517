// Package store persists deduplicated vehicle observations, one table
// per fleet brand, keyed by (vehicle id, latitude, longitude).
package store

import (
	"context"
)

// Brand names the fleet operator categories. Storage is partitioned by
// brand; everything that is not ofo lands in the mobike table.
const (
	BrandOfo    = "ofo"
	BrandMobike = "mobike"
)

// Brands lists every brand table, in export order.
var Brands = []string{BrandOfo, BrandMobike}

// BrandFor classifies a raw provider brand string into a table.
func BrandFor(providerBrand string) string {
	if providerBrand == BrandOfo {
		return BrandOfo
	}
	return BrandMobike
}

// Record is one persisted observation.
type Record struct {
	CapturedAt int64 // epoch milliseconds
	BikeID     string
	Lat        float64
	Lon        float64
}

// Store is the deduplicating observation store. Implementations
// serialize every call under a single lock: the backing engine is not
// assumed to be safe for concurrent writers, and the crawl bottleneck
// is network latency rather than write throughput.
type Store interface {
	// Reset drops any brand tables left over from a prior sweep and
	// recreates them empty.
	Reset(ctx context.Context) error

	// InsertIfAbsent inserts a row unless one with the same
	// (bike id, lat, lon) already exists in the brand's table. It does
	// not report whether the insert took effect; dedup is observable
	// only through export counts.
	InsertIfAbsent(ctx context.Context, brand string, capturedAt int64, bikeID string, lat, lon float64) error

	// ReadAll returns every record in the brand's table in natural
	// scan order. Used only by export.
	ReadAll(ctx context.Context, brand string) ([]Record, error)

	Close() error
}
