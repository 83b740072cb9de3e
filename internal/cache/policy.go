package cache

import (
	"sort"
	"time"
)

const (
	hitBonusPerHit = 0.1
	hitBonusCap    = 0.5
)

// Policy decides when an entry is stale and which entries survive a
// capacity trim.
type Policy struct {
	BaseMaxAge time.Duration
	// HitWeight is the recency credit one hit is worth when ranking for
	// eviction.
	HitWeight time.Duration
}

// MaxAge extends BaseMaxAge by 10% per hit, up to +50%.
func (p Policy) MaxAge(e *Entry) time.Duration {
	bonus := float64(e.Hits) * hitBonusPerHit
	if bonus > hitBonusCap {
		bonus = hitBonusCap
	}
	return time.Duration(float64(p.BaseMaxAge) * (1 + bonus))
}

// IsStale reports whether e has gone unused longer than its MaxAge.
func (p Policy) IsStale(e *Entry, now time.Time) bool {
	return now.Sub(e.LastAccess) > p.MaxAge(e)
}

// Rank is the eviction score: higher survives. Milliseconds of last access
// plus hits worth of HitWeight.
func (p Policy) Rank(e *Entry) int64 {
	return e.LastAccess.UnixMilli() + int64(e.Hits)*p.HitWeight.Milliseconds()
}

type rankedKey struct {
	key  string
	rank int64
}

// Evictions returns the keys to drop so that at most limit entries remain.
// Lowest rank goes first; equal ranks keep the lexically smaller key.
func (p Policy) Evictions(entries map[string]*Entry, limit int) []string {
	if limit < 0 {
		limit = 0
	}
	if len(entries) <= limit {
		return nil
	}

	ranked := make([]rankedKey, 0, len(entries))
	for key, e := range entries {
		ranked = append(ranked, rankedKey{key: key, rank: p.Rank(e)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].rank != ranked[j].rank {
			return ranked[i].rank > ranked[j].rank
		}
		return ranked[i].key < ranked[j].key
	})

	out := make([]string, 0, len(ranked)-limit)
	for _, r := range ranked[limit:] {
		out = append(out, r.key)
	}
	return out
}
