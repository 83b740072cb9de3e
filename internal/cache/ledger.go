package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"contextcache/pkg/types"
)

// ErrSchemaMismatch means persisted records were written by an incompatible
// cache version and must be discarded, not parsed.
var ErrSchemaMismatch = errors.New("cache schema version mismatch")

// Metadata is the persisted ledger shared across sessions.
type Metadata struct {
	Version     string    `json:"version"`
	LastCleanup time.Time `json:"lastCleanup"`
	TotalHits   int64     `json:"totalHits"`
	TotalMisses int64     `json:"totalMisses"`
}

func freshMetadata(version string, now time.Time) Metadata {
	return Metadata{Version: version, LastCleanup: now}
}

// decodeMetadata parses a stored ledger and checks its version.
func decodeMetadata(data []byte, version string) (Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("%w: metadata: %w", errCorruptRecord, err)
	}
	if m.Version != version {
		return Metadata{}, fmt.Errorf("%w: stored %q, current %q", ErrSchemaMismatch, m.Version, version)
	}
	return m, nil
}

// HitRate is hits / (hits + misses), or 0 before any lookup.
func (m Metadata) HitRate() float64 {
	total := m.TotalHits + m.TotalMisses
	if total == 0 {
		return 0
	}
	return float64(m.TotalHits) / float64(total)
}

func (m Metadata) statistics(indexSize, live int) types.Statistics {
	return types.Statistics{
		Version:        m.Version,
		HitRate:        math.Round(m.HitRate()*100) / 100,
		TotalHits:      m.TotalHits,
		TotalMisses:    m.TotalMisses,
		LastCleanup:    m.LastCleanup.UTC().Format(time.RFC3339),
		IndexSize:      indexSize,
		LiveEntryCount: live,
	}
}

func encodeMetadata(m Metadata) ([]byte, error) {
	return json.Marshal(m)
}
