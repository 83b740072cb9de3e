package cache

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"contextcache/internal/fingerprint"
	"contextcache/internal/metrics"
)

// CleanupReport summarizes one cleanup pass.
type CleanupReport struct {
	Scanned   int           `json:"scanned"`
	Stale     int           `json:"stale"`
	Corrupt   int           `json:"corrupt"`
	Evicted   int           `json:"evicted"`
	Purged    int           `json:"purged"` // earlier failed deletes completed
	Remaining int           `json:"remaining"`
	Duration  time.Duration `json:"duration"`
}

// StartCleanup launches the periodic cleanup goroutine. Calling it again, or
// after Close, does nothing.
func (c *Cache) StartCleanup() {
	// Add happens under mu so Close, which marks closed under mu before
	// waiting, never races it.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.cleanupLoop()
	})
}

func (c *Cache) cleanupLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.safeCleanup()
		case <-c.stop:
			return
		}
	}
}

// safeCleanup runs a pass and keeps the scheduler alive if it panics.
func (c *Cache) safeCleanup() {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("cleanup panic recovered",
				zap.Any("error", rec),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	c.RunCleanup(context.Background())
}

// RunCleanup purges stale entries, trims the cache to MaxEntries and stamps
// the ledger. A record that fails to load is logged and skipped; the pass
// always completes.
func (c *Cache) RunCleanup(ctx context.Context) CleanupReport {
	ctx = c.withLogger(ctx)
	start := time.Now()
	c.logger.Info("cleanup started")

	c.mu.Lock()
	report := CleanupReport{Purged: c.retryDroppedLocked(ctx)}
	keys := c.entryKeysLocked(ctx)
	c.mu.Unlock()

	report.Scanned = len(keys)

	// Per entry, so lookups interleave with a long pass.
	for _, key := range keys {
		c.mu.Lock()
		c.sweepEntryLocked(ctx, key, &report)
		c.mu.Unlock()
	}

	c.mu.Lock()
	// Ranks are taken from live state under the lock, so a concurrent hit
	// cannot be lost between ranking and eviction.
	for _, key := range c.policy.Evictions(c.live, c.cfg.MaxEntries) {
		c.invalidateLocked(ctx, key, reasonCapacity)
		report.Evicted++
	}
	for _, key := range c.index.Keys() {
		if _, ok := c.live[key]; !ok {
			c.index.Remove(key)
		}
	}
	c.updateGaugesLocked()

	c.ledger.LastCleanup = c.cfg.Now()
	_ = c.saveLedgerLocked(ctx)
	report.Remaining = len(c.live)
	c.mu.Unlock()

	report.Duration = time.Since(start)
	metrics.CleanupDurationSeconds.Observe(report.Duration.Seconds())

	c.logger.Info("cleanup finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("stale", report.Stale),
		zap.Int("corrupt", report.Corrupt),
		zap.Int("evicted", report.Evicted),
		zap.Int("purged", report.Purged),
		zap.Int("remaining", report.Remaining),
		zap.Duration("duration", report.Duration),
	)
	return report
}

func (c *Cache) sweepEntryLocked(ctx context.Context, key string, report *CleanupReport) {
	e, err := c.loadLocked(ctx, key)
	switch {
	case errors.Is(err, errCorruptRecord):
		c.invalidateLocked(ctx, key, reasonCorrupt)
		report.Corrupt++
		return
	case err != nil, e == nil:
		return
	}

	if c.policy.IsStale(e, c.cfg.Now()) {
		c.invalidateLocked(ctx, key, reasonStale)
		report.Stale++
		return
	}

	// Repair an entry that fell out of the index.
	if !c.index.Has(key) {
		c.index.Put(key, fingerprint.SnapshotTags(e.Context))
	}
}

// retryDroppedLocked deletes the records of dropped fingerprints again,
// forgetting each one whose delete now succeeds.
func (c *Cache) retryDroppedLocked(ctx context.Context) int {
	purged := 0
	for key := range c.dropped {
		if err := c.backend.Delete(ctx, c.recordKey(key)); err != nil {
			c.logger.Warn("cache_delete_retry_failed", zap.String("fingerprint", key), zap.Error(err))
			continue
		}
		delete(c.dropped, key)
		purged++
	}
	return purged
}
