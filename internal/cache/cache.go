package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"contextcache/internal/fingerprint"
	"contextcache/internal/metrics"
	"contextcache/internal/store"
	"contextcache/pkg/logging/logging"
	"contextcache/pkg/types"
)

const (
	DefaultNamespace         = "message_cache"
	DefaultVersion           = "2.0.0"
	DefaultMaxEntries        = 100
	DefaultBaseMaxAge        = 24 * time.Hour
	DefaultCleanupInterval   = time.Hour
	DefaultHitWeight         = time.Second
	DefaultPersistSampleRate = 0.1
)

// Invalidation reasons, used as metric labels and log fields.
const (
	reasonStale    = "stale"
	reasonCapacity = "capacity"
	reasonPurge    = "purge"
	reasonSchema   = "schema"
	reasonCorrupt  = "corrupt"
)

type Config struct {
	Namespace  string // record key namespace in the backend
	Version    string // ledger schema version; a mismatch discards stored entries
	MaxEntries int    // live entries kept after a cleanup pass

	BaseMaxAge      time.Duration // lifetime of an entry with no hits
	HitWeight       time.Duration // recency credit per hit when ranking for eviction
	CleanupInterval time.Duration

	// PersistSampleRate is the fraction of writes sent to the durable
	// backend immediately. 1 persists every write.
	PersistSampleRate float64

	// Clock and randomness, injectable for tests.
	Now  func() time.Time
	Rand func() float64
}

// WithDefaults returns a copy of Config with defaults applied.
func (c Config) WithDefaults() Config {
	cfg := c
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.BaseMaxAge <= 0 {
		cfg.BaseMaxAge = DefaultBaseMaxAge
	}
	if cfg.HitWeight <= 0 {
		cfg.HitWeight = DefaultHitWeight
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.PersistSampleRate == 0 {
		cfg.PersistSampleRate = DefaultPersistSampleRate
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	return cfg
}

// Validate checks values WithDefaults cannot repair.
func (c Config) Validate() error {
	if c.PersistSampleRate < 0 || c.PersistSampleRate > 1 {
		return fmt.Errorf("persist sample rate %v outside [0,1]", c.PersistSampleRate)
	}
	if strings.ContainsAny(c.Namespace, ":*") {
		return fmt.Errorf("namespace %q must not contain ':' or '*'", c.Namespace)
	}
	return nil
}

// Cache is the contextual message cache. One instance per process, built by
// the composition root and shared by reference.
//
// mu serializes every read-modify-write over live entries, the tag index and
// the ledger counters, including the per-entry steps of a cleanup pass.
type Cache struct {
	cfg     Config
	policy  Policy
	backend store.Backend
	logger  *zap.Logger

	mu     sync.Mutex
	live   map[string]*Entry
	index  *TagIndex
	ledger Metadata

	// dropped holds fingerprints invalidated in memory whose backend delete
	// failed. They read as absent until a cleanup pass deletes the record or
	// a Set replaces it.
	dropped map[string]struct{}

	stop      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	closed    bool
	wg        sync.WaitGroup
}

// Open loads the ledger and rebuilds the tag index from backend. Backend
// failures during open are logged and leave the cache empty; only an
// invalid configuration is an error.
func Open(ctx context.Context, backend store.Backend, cfg Config, logger *zap.Logger) (*Cache, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Cache{
		cfg: cfg,
		policy: Policy{
			BaseMaxAge: cfg.BaseMaxAge,
			HitWeight:  cfg.HitWeight,
		},
		backend: backend,
		logger:  logger.Named("contextcache"),
		live:    make(map[string]*Entry),
		index:   NewTagIndex(),
		dropped: make(map[string]struct{}),
		stop:    make(chan struct{}),
	}

	ctx = c.withLogger(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadLedgerLocked(ctx)
	c.rebuildIndexLocked(ctx)
	c.updateGaugesLocked()

	c.logger.Info("cache opened",
		zap.String("version", c.ledger.Version),
		zap.Int("live_entries", len(c.live)),
		zap.Int("index_tags", c.index.Size()),
		zap.Int64("total_hits", c.ledger.TotalHits),
		zap.Int64("total_misses", c.ledger.TotalMisses),
	)
	return c, nil
}

// Get returns the cached message for uc: the exact entry when fresh, else the
// best similar entry found through the tag index. A malformed context, a
// backend failure or an empty candidate pool are all plain misses.
func (c *Cache) Get(ctx context.Context, uc types.UserContext) (*types.Message, bool) {
	ctx = c.withLogger(ctx)
	start := time.Now()

	key, err := fingerprint.Of(uc)
	if err != nil {
		metrics.LookupsTotal.WithLabelValues("invalid").Inc()
		c.logger.Debug("cache_get_invalid_context", zap.Error(err))
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.cfg.Now()

	if e, _ := c.loadLocked(ctx, key); e != nil {
		if !c.policy.IsStale(e, now) {
			c.touchLocked(ctx, key, e, now)
			c.ledger.TotalHits++
			c.logLookup(key, key, "exact_hit", start)
			msg := cloneMessage(e.Message)
			return &msg, true
		}
		c.invalidateLocked(ctx, key, reasonStale)
	}

	if servedKey, e := c.findSimilarLocked(ctx, uc, key, now); e != nil {
		c.touchLocked(ctx, servedKey, e, now)
		c.ledger.TotalHits++
		c.logLookup(key, servedKey, "fuzzy_hit", start)
		msg := cloneMessage(e.Message)
		return &msg, true
	}

	c.ledger.TotalMisses++
	c.logLookup(key, "", "miss", start)
	return nil, false
}

// findSimilarLocked ranks the fresh entries sharing at least one tag with uc
// by similarity times stored score. exclude is never considered.
func (c *Cache) findSimilarLocked(ctx context.Context, uc types.UserContext, exclude string, now time.Time) (string, *Entry) {
	tags, err := fingerprint.Tags(uc)
	if err != nil {
		return "", nil
	}

	var (
		bestKey   string
		bestEntry *Entry
		bestScore float64
	)
	// Candidates come back sorted, so strict > keeps the smallest key on ties.
	for _, key := range c.index.Candidates(tags) {
		if key == exclude {
			continue
		}
		e, _ := c.loadLocked(ctx, key)
		if e == nil || c.policy.IsStale(e, now) {
			continue
		}
		score := fingerprint.Similarity(uc, e.Context) * e.Score
		if bestEntry == nil || score > bestScore {
			bestKey, bestEntry, bestScore = key, e, score
		}
	}
	return bestKey, bestEntry
}

// Set records msg for uc, replacing any entry under the same fingerprint
// (its hits start over). The index is updated before Set returns; the
// durable write is sampled and its failure only logged.
func (c *Cache) Set(ctx context.Context, uc types.UserContext, msg types.Message) {
	ctx = c.withLogger(ctx)

	key, err := fingerprint.Of(uc)
	if err != nil {
		c.logger.Warn("cache_set_invalid_context", zap.Error(err))
		return
	}
	tags, err := fingerprint.Tags(uc)
	if err != nil {
		c.logger.Warn("cache_set_invalid_context", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := newEntry(uc, msg, c.cfg.Now())
	c.live[key] = e
	delete(c.dropped, key)
	c.index.Put(key, tags)
	c.persistLocked(ctx, key, e)
	c.updateGaugesLocked()

	c.logger.Debug("cache_set",
		zap.String("fingerprint", key),
		zap.Int("tag_count", len(tags)),
		zap.Float64("score", e.Score),
	)
}

// Peek returns a copy of the exact entry for uc without counting a hit.
func (c *Cache) Peek(ctx context.Context, uc types.UserContext) (*Entry, bool) {
	ctx = c.withLogger(ctx)

	key, err := fingerprint.Of(uc)
	if err != nil {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, _ := c.loadLocked(ctx, key)
	if e == nil {
		return nil, false
	}
	return e.clone(), true
}

// Purge removes every entry, returning how many were removed. Counters are
// kept.
func (c *Cache) Purge(ctx context.Context) int {
	ctx = c.withLogger(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.entryKeysLocked(ctx)
	for _, key := range keys {
		c.invalidateLocked(ctx, key, reasonPurge)
	}
	c.logger.Info("cache purged", zap.Int("entries", len(keys)))
	return len(keys)
}

// Statistics returns a snapshot of the ledger and index.
func (c *Cache) Statistics(ctx context.Context) types.Statistics {
	ctx = c.withLogger(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ledger.statistics(c.index.Size(), len(c.entryKeysLocked(ctx)))
}

// IndexedTags returns a copy of the tag index: tag -> sorted fingerprints.
func (c *Cache) IndexedTags() map[string][]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string][]string, c.index.Size())
	for _, tag := range c.index.Tags() {
		out[tag] = c.index.Members(tag)
	}
	return out
}

// IndexLookups counts approximate-match searches run against the index.
func (c *Cache) IndexLookups() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Lookups()
}

// Close stops the cleanup scheduler and persists the ledger. Safe to call
// more than once.
func (c *Cache) Close(ctx context.Context) error {
	ctx = c.withLogger(ctx)

	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.stop)
		c.wg.Wait()

		c.mu.Lock()
		err = c.saveLedgerLocked(ctx)
		c.mu.Unlock()

		c.logger.Info("cache closed", zap.Error(err))
	})
	return err
}

// ----- entry store: live map in front of the durable backend -----

func (c *Cache) recordKey(fp string) string {
	return c.cfg.Namespace + ":" + fp
}

func (c *Cache) entryPrefix() string {
	return c.cfg.Namespace + ":"
}

func (c *Cache) metadataKey() string {
	return c.cfg.Namespace + "_metadata"
}

// loadLocked returns the live entry for key, reading it from the backend
// (and indexing it) when this process has not seen it yet. A nil entry with
// nil error is a clean miss.
func (c *Cache) loadLocked(ctx context.Context, key string) (*Entry, error) {
	if e, ok := c.live[key]; ok {
		return e, nil
	}
	if _, ok := c.dropped[key]; ok {
		return nil, nil
	}

	data, ok, err := c.backend.Get(ctx, c.recordKey(key))
	if err != nil {
		c.logger.Warn("cache_load_failed", zap.String("fingerprint", key), zap.Error(err))
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	e, err := decodeEntry(data)
	if err != nil {
		c.logger.Warn("cache_load_corrupt", zap.String("fingerprint", key), zap.Error(err))
		return nil, err
	}

	c.live[key] = e
	c.index.Put(key, fingerprint.SnapshotTags(e.Context))
	c.updateGaugesLocked()
	return e, nil
}

func (c *Cache) touchLocked(ctx context.Context, key string, e *Entry, now time.Time) {
	e.Hits++
	if now.After(e.LastAccess) {
		e.LastAccess = now
	}
	c.persistLocked(ctx, key, e)
}

func (c *Cache) persistLocked(ctx context.Context, key string, e *Entry) {
	if c.cfg.PersistSampleRate < 1 && c.cfg.Rand() >= c.cfg.PersistSampleRate {
		metrics.PersistTotal.WithLabelValues("sampled_out").Inc()
		return
	}

	data, err := encodeEntry(e)
	if err != nil {
		metrics.PersistTotal.WithLabelValues("failed").Inc()
		c.logger.Warn("cache_persist_encode_failed", zap.String("fingerprint", key), zap.Error(err))
		return
	}
	if err := c.backend.Set(ctx, c.recordKey(key), data); err != nil {
		metrics.PersistTotal.WithLabelValues("failed").Inc()
		c.logger.Warn("cache_persist_failed", zap.String("fingerprint", key), zap.Error(err))
		return
	}
	metrics.PersistTotal.WithLabelValues("persisted").Inc()
}

func (c *Cache) invalidateLocked(ctx context.Context, key, reason string) {
	delete(c.live, key)
	c.index.Remove(key)

	if err := c.backend.Delete(ctx, c.recordKey(key)); err != nil {
		c.dropped[key] = struct{}{}
		c.logger.Warn("cache_invalidate_failed",
			zap.String("fingerprint", key),
			zap.String("reason", reason),
			zap.Error(err),
		)
	} else {
		delete(c.dropped, key)
	}
	metrics.InvalidationsTotal.WithLabelValues(reason).Inc()
	c.updateGaugesLocked()

	c.logger.Debug("cache_invalidate", zap.String("fingerprint", key), zap.String("reason", reason))
}

// entryKeysLocked lists every entry fingerprint known to this process or the
// backend, sorted, leaving out dropped ones. A failing backend scan falls
// back to the live set.
func (c *Cache) entryKeysLocked(ctx context.Context) []string {
	seen := make(map[string]struct{}, len(c.live))
	for key := range c.live {
		seen[key] = struct{}{}
	}

	stored, err := c.backend.Keys(ctx, c.entryPrefix())
	if err != nil {
		c.logger.Warn("cache_keys_failed", zap.Error(err))
	}
	for _, rk := range stored {
		key := strings.TrimPrefix(rk, c.entryPrefix())
		if _, ok := c.dropped[key]; ok {
			continue
		}
		seen[key] = struct{}{}
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// rebuildIndexLocked loads every stored entry into the live map and indexes
// it from its snapshot. Undecodable records are deleted.
func (c *Cache) rebuildIndexLocked(ctx context.Context) {
	stored, err := c.backend.Keys(ctx, c.entryPrefix())
	if err != nil {
		c.logger.Warn("cache_index_rebuild_failed", zap.Error(err))
		return
	}
	for _, rk := range stored {
		key := strings.TrimPrefix(rk, c.entryPrefix())
		if _, err := c.loadLocked(ctx, key); errors.Is(err, errCorruptRecord) {
			c.invalidateLocked(ctx, key, reasonCorrupt)
		}
	}
	c.logger.Info("index built", zap.Int("tags", c.index.Size()), zap.Int("entries", len(c.live)))
}

// ----- ledger persistence -----

func (c *Cache) loadLedgerLocked(ctx context.Context) {
	c.ledger = freshMetadata(c.cfg.Version, c.cfg.Now())

	data, ok, err := c.backend.Get(ctx, c.metadataKey())
	if err != nil {
		c.logger.Warn("cache_metadata_load_failed", zap.Error(err))
		return
	}
	if !ok {
		_ = c.saveLedgerLocked(ctx)
		return
	}

	m, err := decodeMetadata(data, c.cfg.Version)
	switch {
	case err == nil:
		c.ledger = m
	case errors.Is(err, ErrSchemaMismatch):
		c.logger.Warn("cache_schema_mismatch", zap.Error(err))
		c.discardStoredEntriesLocked(ctx)
		_ = c.saveLedgerLocked(ctx)
	default:
		c.logger.Warn("cache_metadata_corrupt", zap.Error(err))
		_ = c.saveLedgerLocked(ctx)
	}
}

// discardStoredEntriesLocked deletes every stored entry without parsing it.
// Records that cannot be deleted are marked dropped so they are never loaded.
func (c *Cache) discardStoredEntriesLocked(ctx context.Context) {
	stored, err := c.backend.Keys(ctx, c.entryPrefix())
	if err != nil {
		c.logger.Warn("cache_schema_discard_failed", zap.Error(err))
		return
	}
	for _, rk := range stored {
		if err := c.backend.Delete(ctx, rk); err != nil {
			c.dropped[strings.TrimPrefix(rk, c.entryPrefix())] = struct{}{}
			c.logger.Warn("cache_schema_discard_failed", zap.String("record_key", rk), zap.Error(err))
			continue
		}
		metrics.InvalidationsTotal.WithLabelValues(reasonSchema).Inc()
	}
	c.logger.Info("discarded entries from previous schema", zap.Int("entries", len(stored)))
}

func (c *Cache) saveLedgerLocked(ctx context.Context) error {
	data, err := encodeMetadata(c.ledger)
	if err != nil {
		return err
	}
	if err := c.backend.Set(ctx, c.metadataKey(), data); err != nil {
		c.logger.Warn("cache_metadata_save_failed", zap.Error(err))
		return err
	}
	return nil
}

// ----- observability helpers -----

func (c *Cache) withLogger(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := logging.Attached(ctx); ok {
		return ctx
	}
	return logging.WithLogger(ctx, c.logger)
}

func (c *Cache) updateGaugesLocked() {
	metrics.LiveEntries.Set(float64(len(c.live)))
	metrics.IndexTags.Set(float64(c.index.Size()))
}

func (c *Cache) logLookup(key, served, result string, start time.Time) {
	metrics.LookupsTotal.WithLabelValues(result).Inc()

	fields := []zap.Field{
		zap.String("fingerprint", key),
		zap.String("cache_result", result), // exact_hit | fuzzy_hit | miss
		zap.Float64("latency_ms", float64(time.Since(start).Microseconds())/1000.0),
	}
	if served != "" && served != key {
		fields = append(fields, zap.String("served_fingerprint", served))
	}
	c.logger.Debug("cache_get", fields...)
}
