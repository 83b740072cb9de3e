package cache

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextcache/internal/fingerprint"
	"contextcache/internal/store"
	"contextcache/pkg/types"
)

func TestSetThenGetReturnsMessage(t *testing.T) {
	c := openTestCache(t, store.NewMemoryBackend(), newFakeClock(), nil)
	ctx := context.Background()

	c.Set(ctx, ctxA(), message("msg1", 0.8))

	got, ok := c.Get(ctx, ctxA())
	require.True(t, ok)
	assert.Equal(t, "msg1", got.ID)
	assert.JSONEq(t, `{"text":"msg1"}`, string(got.Content))
	assert.InDelta(t, 0.8, *got.QualityScore, 1e-9)
}

func TestSameDecadeServedByExactKey(t *testing.T) {
	c := openTestCache(t, store.NewMemoryBackend(), newFakeClock(), nil)
	ctx := context.Background()

	c.Set(ctx, ctxA(), message("msg1", 0))

	b := ctxA()
	b.ScriptsCount = 4

	got, ok := c.Get(ctx, b)
	require.True(t, ok)
	assert.Equal(t, "msg1", got.ID)
	assert.Zero(t, c.IndexLookups(), "exact hit must not search the tag index")
}

func TestFuzzySearchOnlyOnMiss(t *testing.T) {
	c := openTestCache(t, store.NewMemoryBackend(), newFakeClock(), nil)
	ctx := context.Background()

	c.Set(ctx, ctxA(), message("msg1", 1))
	for i := 0; i < 3; i++ {
		_, ok := c.Get(ctx, ctxA())
		require.True(t, ok)
	}
	assert.Zero(t, c.IndexLookups())

	other := ctxA()
	other.Tone = "casual"
	_, _ = c.Get(ctx, other)
	assert.Equal(t, 1, c.IndexLookups())
}

func TestOverwriteResetsHits(t *testing.T) {
	c := openTestCache(t, store.NewMemoryBackend(), newFakeClock(), nil)
	ctx := context.Background()

	c.Set(ctx, ctxA(), message("msg1", 0))
	for i := 0; i < 4; i++ {
		_, ok := c.Get(ctx, ctxA())
		require.True(t, ok)
	}
	e, ok := c.Peek(ctx, ctxA())
	require.True(t, ok)
	assert.Equal(t, 4, e.Hits)

	c.Set(ctx, ctxA(), message("msg2", 0))

	e, ok = c.Peek(ctx, ctxA())
	require.True(t, ok)
	assert.Zero(t, e.Hits)
	assert.Equal(t, "msg2", e.Message.ID)
}

func TestOverwriteReindexesChangedTags(t *testing.T) {
	c := openTestCache(t, store.NewMemoryBackend(), newFakeClock(), nil)
	ctx := context.Background()

	c.Set(ctx, ctxA(), message("msg1", 0))

	moved := ctxA()
	moved.DayOfWeek = types.Sunday // same fingerprint, different day tag
	c.Set(ctx, moved, message("msg2", 0))

	tags := c.IndexedTags()
	assert.NotContains(t, tags, "day:monday")
	key, _ := fingerprint.Of(moved)
	assert.Equal(t, []string{key}, tags["day:sunday"])
}

func TestStaleExactEntryIsInvalidated(t *testing.T) {
	clock := newFakeClock()
	backend := store.NewMemoryBackend()
	c := openTestCache(t, backend, clock, nil)
	ctx := context.Background()

	c.Set(ctx, ctxA(), message("msg1", 1))
	clock.Advance(24*time.Hour + time.Second)

	_, ok := c.Get(ctx, ctxA())
	assert.False(t, ok)

	_, ok = c.Peek(ctx, ctxA())
	assert.False(t, ok)

	key, _ := fingerprint.Of(ctxA())
	_, stored, err := backend.Get(ctx, "message_cache:"+key)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.Empty(t, c.IndexedTags())

	stats := c.Statistics(ctx)
	assert.EqualValues(t, 0, stats.TotalHits)
	assert.EqualValues(t, 1, stats.TotalMisses)
}

func TestFreshEntryWithinBaseAgeIsServed(t *testing.T) {
	clock := newFakeClock()
	c := openTestCache(t, store.NewMemoryBackend(), clock, nil)
	ctx := context.Background()

	c.Set(ctx, ctxA(), message("msg1", 1))
	clock.Advance(24 * time.Hour)

	_, ok := c.Get(ctx, ctxA())
	assert.True(t, ok, "age equal to max age is not stale")
}

func TestFuzzyFallbackPicksBestCandidate(t *testing.T) {
	c := openTestCache(t, store.NewMemoryBackend(), newFakeClock(), nil)
	ctx := context.Background()

	// Shares level:expert and time:morning with the query; similarity 8/12.
	d := types.UserContext{
		SkillLevel:        types.SkillExpert,
		ScriptsCount:      3,
		TimeOfDay:         types.Morning,
		DayOfWeek:         types.Friday,
		Tone:              "casual",
		ProductivityTrend: types.TrendStable,
		ConsecutiveDays:   1,
		EngagementScore:   10,
	}
	// Also similarity 8/12 to the query.
	e := types.UserContext{
		SkillLevel:        types.SkillExpert,
		IsFirstLogin:      true,
		ScriptsCount:      15,
		TimeOfDay:         types.Morning,
		DayOfWeek:         types.Monday,
		Tone:              "professional",
		ProductivityTrend: types.TrendIncreasing,
		ConsecutiveDays:   2,
		EngagementScore:   30,
	}

	c.Set(ctx, d, message("msgD", 0.9))
	c.Set(ctx, e, message("msgE", 0.5))

	got, ok := c.Get(ctx, ctxExpert())
	require.True(t, ok)
	assert.Equal(t, "msgD", got.ID)

	// A higher scoring candidate takes over.
	c.Set(ctx, e, message("msgE", 1.0))
	got, ok = c.Get(ctx, ctxExpert())
	require.True(t, ok)
	assert.Equal(t, "msgE", got.ID)
}

func TestFuzzyHitDoesNotPromote(t *testing.T) {
	c := openTestCache(t, store.NewMemoryBackend(), newFakeClock(), nil)
	ctx := context.Background()

	d := ctxExpert()
	d.Tone = "casual"
	c.Set(ctx, d, message("msgD", 0.7))

	got, ok := c.Get(ctx, ctxExpert())
	require.True(t, ok)
	assert.Equal(t, "msgD", got.ID)

	_, ok = c.Peek(ctx, ctxExpert())
	assert.False(t, ok, "fuzzy hit must not write under the query fingerprint")

	served, ok := c.Peek(ctx, d)
	require.True(t, ok)
	assert.Equal(t, 1, served.Hits)

	stats := c.Statistics(ctx)
	assert.EqualValues(t, 1, stats.TotalHits)
	assert.Equal(t, 1, stats.LiveEntryCount)
}

func TestFuzzySkipsStaleCandidates(t *testing.T) {
	clock := newFakeClock()
	c := openTestCache(t, store.NewMemoryBackend(), clock, nil)
	ctx := context.Background()

	old := ctxExpert()
	old.Tone = "casual"
	c.Set(ctx, old, message("old", 1))

	clock.Advance(25 * time.Hour)

	fresh := ctxExpert()
	fresh.Tone = "humorous"
	c.Set(ctx, fresh, message("fresh", 0.1))

	got, ok := c.Get(ctx, ctxExpert())
	require.True(t, ok)
	assert.Equal(t, "fresh", got.ID)
}

func TestMissWhenCandidatePoolEmpty(t *testing.T) {
	c := openTestCache(t, store.NewMemoryBackend(), newFakeClock(), nil)
	ctx := context.Background()

	c.Set(ctx, ctxA(), message("msg1", 1))

	query := ctxExpert()
	query.TimeOfDay = types.Evening
	query.DayOfWeek = types.Sunday

	_, ok := c.Get(ctx, query)
	assert.False(t, ok)
	assert.EqualValues(t, 1, c.Statistics(ctx).TotalMisses)
}

func TestInvalidContextIsSilent(t *testing.T) {
	backend := store.NewMemoryBackend()
	c := openTestCache(t, backend, newFakeClock(), nil)
	ctx := context.Background()

	bad := ctxA()
	bad.SkillLevel = "wizard"

	c.Set(ctx, bad, message("never", 1))
	_, ok := c.Get(ctx, bad)
	assert.False(t, ok)

	stats := c.Statistics(ctx)
	assert.Zero(t, stats.LiveEntryCount)
	assert.Zero(t, stats.IndexSize)
	assert.Zero(t, c.IndexLookups())
}

func TestSampledOutWriteIsStillReadable(t *testing.T) {
	backend := store.NewMemoryBackend()
	c := openTestCache(t, backend, newFakeClock(), func(cfg *Config) {
		cfg.PersistSampleRate = 0.1
		cfg.Rand = func() float64 { return 0.99 }
	})
	ctx := context.Background()

	c.Set(ctx, ctxA(), message("msg1", 0))

	keys, err := backend.Keys(ctx, "message_cache:")
	require.NoError(t, err)
	assert.Empty(t, keys, "write should have been sampled out")

	got, ok := c.Get(ctx, ctxA())
	require.True(t, ok)
	assert.Equal(t, "msg1", got.ID)
	assert.Equal(t, 1, c.Statistics(ctx).LiveEntryCount)
}

func TestReopenRebuildsIndexAndLedger(t *testing.T) {
	clock := newFakeClock()
	backend := store.NewMemoryBackend()
	ctx := context.Background()

	first := openTestCache(t, backend, clock, nil)
	first.Set(ctx, ctxA(), message("msg1", 0.4))
	first.Set(ctx, ctxExpert(), message("msg2", 0.6))
	_, ok := first.Get(ctx, ctxA())
	require.True(t, ok)
	_, _ = first.Get(ctx, types.UserContext{
		SkillLevel: types.SkillAdvanced, TimeOfDay: types.Night, DayOfWeek: types.Sunday,
		Tone: "calm", ProductivityTrend: types.TrendDecreasing,
	})
	wantTags := first.IndexedTags()
	require.NoError(t, first.Close(ctx))

	second := openTestCache(t, backend, clock, nil)
	assert.Equal(t, wantTags, second.IndexedTags())

	e, ok := second.Peek(ctx, ctxA())
	require.True(t, ok)
	assert.Equal(t, 1, e.Hits)
	assert.Equal(t, "msg1", e.Message.ID)

	stats := second.Statistics(ctx)
	assert.EqualValues(t, 1, stats.TotalHits)
	assert.EqualValues(t, 1, stats.TotalMisses)
	assert.Equal(t, 0.5, stats.HitRate)
	assert.Equal(t, 2, stats.LiveEntryCount)
}

func TestSchemaMismatchDiscardsStoredEntries(t *testing.T) {
	backend := store.NewMemoryBackend()
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "message_cache_metadata", []byte(`{"version":"1.0.0","totalHits":9,"totalMisses":1}`)))
	require.NoError(t, backend.Set(ctx, "message_cache:msg_legacy_layout", []byte(`{"msg":"old shape"}`)))

	c := openTestCache(t, backend, newFakeClock(), nil)

	keys, err := backend.Keys(ctx, "message_cache:")
	require.NoError(t, err)
	assert.Empty(t, keys)

	stats := c.Statistics(ctx)
	assert.Equal(t, DefaultVersion, stats.Version)
	assert.Zero(t, stats.TotalHits)
	assert.Zero(t, stats.TotalMisses)

	raw, ok, err := backend.Get(ctx, "message_cache_metadata")
	require.NoError(t, err)
	require.True(t, ok)
	m, err := decodeMetadata(raw, DefaultVersion)
	require.NoError(t, err)
	assert.Equal(t, DefaultVersion, m.Version)
}

func TestCorruptRecordTreatedAsAbsent(t *testing.T) {
	backend := store.NewMemoryBackend()
	ctx := context.Background()

	key, _ := fingerprint.Of(ctxA())
	require.NoError(t, backend.Set(ctx, "message_cache:"+key, []byte(`{"message":`)))

	c := openTestCache(t, backend, newFakeClock(), nil)

	_, ok := c.Get(ctx, ctxA())
	assert.False(t, ok)

	_, stored, err := backend.Get(ctx, "message_cache:"+key)
	require.NoError(t, err)
	assert.False(t, stored, "corrupt record should be dropped on open")
}

func TestBackendFailuresAreSwallowed(t *testing.T) {
	backend := &flakyBackend{Backend: store.NewMemoryBackend()}
	backend.set(func(f *flakyBackend) {
		f.failGet, f.failSet, f.failDelete, f.failKeys = true, true, true, true
	})

	clock := newFakeClock()
	c := openTestCache(t, backend, clock, nil)
	ctx := context.Background()

	c.Set(ctx, ctxA(), message("msg1", 0))

	got, ok := c.Get(ctx, ctxA())
	require.True(t, ok, "in-memory state survives a failing backend")
	assert.Equal(t, "msg1", got.ID)

	miss := ctxExpert()
	miss.TimeOfDay = types.Night
	_, ok = c.Get(ctx, miss)
	assert.False(t, ok)

	clock.Advance(48 * time.Hour)
	report := c.RunCleanup(ctx)
	assert.Equal(t, 1, report.Stale)

	stats := c.Statistics(ctx)
	assert.Zero(t, stats.LiveEntryCount)
	assert.Error(t, c.Close(ctx))
}

func TestPurgeRemovesEverything(t *testing.T) {
	backend := store.NewMemoryBackend()
	c := openTestCache(t, backend, newFakeClock(), nil)
	ctx := context.Background()

	c.Set(ctx, ctxA(), message("a", 0))
	c.Set(ctx, ctxExpert(), message("b", 0))
	_, _ = c.Get(ctx, ctxA())

	assert.Equal(t, 2, c.Purge(ctx))

	stats := c.Statistics(ctx)
	assert.Zero(t, stats.LiveEntryCount)
	assert.Zero(t, stats.IndexSize)
	assert.EqualValues(t, 1, stats.TotalHits)
}

func TestStatisticsHitRate(t *testing.T) {
	c := openTestCache(t, store.NewMemoryBackend(), newFakeClock(), nil)
	ctx := context.Background()

	stats := c.Statistics(ctx)
	assert.Zero(t, stats.HitRate)
	assert.Equal(t, "2025-03-10T09:00:00Z", stats.LastCleanup)

	c.Set(ctx, ctxA(), message("a", 0))
	_, _ = c.Get(ctx, ctxA())

	miss := ctxExpert()
	miss.TimeOfDay = types.Night
	miss.DayOfWeek = types.Sunday
	_, _ = c.Get(ctx, miss)
	_, _ = c.Get(ctx, miss)

	stats = c.Statistics(ctx)
	assert.Equal(t, 0.33, stats.HitRate)
	assert.Equal(t, 4, stats.IndexSize)
}

func TestOpenValidatesConfig(t *testing.T) {
	_, err := Open(context.Background(), store.NewMemoryBackend(), Config{PersistSampleRate: 2}, nil)
	assert.Error(t, err)

	_, err = Open(context.Background(), store.NewMemoryBackend(), Config{Namespace: "a:b"}, nil)
	assert.Error(t, err)

	_, err = Open(context.Background(), nil, Config{}, nil)
	assert.Error(t, err)
}

func TestReturnedMessageIsACopy(t *testing.T) {
	c := openTestCache(t, store.NewMemoryBackend(), newFakeClock(), nil)
	ctx := context.Background()

	c.Set(ctx, ctxA(), message("msg1", 0.5))

	got, ok := c.Get(ctx, ctxA())
	require.True(t, ok)
	got.Content[0] = 'X'
	*got.QualityScore = 9

	again, ok := c.Get(ctx, ctxA())
	require.True(t, ok)
	assert.JSONEq(t, `{"text":"msg1"}`, string(again.Content))
	assert.InDelta(t, 0.5, *again.QualityScore, 1e-9)
}

func TestFailedStaleDeleteStaysInvalidated(t *testing.T) {
	backend := &flakyBackend{Backend: store.NewMemoryBackend()}
	clock := newFakeClock()
	c := openTestCache(t, backend, clock, nil)
	ctx := context.Background()

	c.Set(ctx, ctxA(), message("msg1", 1))
	clock.Advance(25 * time.Hour)

	backend.set(func(f *flakyBackend) { f.failDelete = true })
	_, ok := c.Get(ctx, ctxA())
	assert.False(t, ok)
	backend.set(func(f *flakyBackend) { f.failDelete = false })

	_, ok = c.Peek(ctx, ctxA())
	assert.False(t, ok, "stale record left in the backend must read as absent")
	assert.Zero(t, c.Statistics(ctx).LiveEntryCount)

	c.Set(ctx, ctxA(), message("msg2", 1))
	got, ok := c.Get(ctx, ctxA())
	require.True(t, ok)
	assert.Equal(t, "msg2", got.ID)
}

func TestSchemaDiscardFailureHidesOldEntries(t *testing.T) {
	backend := &flakyBackend{Backend: store.NewMemoryBackend()}
	clock := newFakeClock()
	ctx := context.Background()

	key, err := fingerprint.Of(ctxA())
	require.NoError(t, err)
	data, err := encodeEntry(newEntry(ctxA(), message("legacy", 1), clock.Now()))
	require.NoError(t, err)
	require.NoError(t, backend.Set(ctx, "message_cache_metadata", []byte(`{"version":"1.0.0"}`)))
	require.NoError(t, backend.Set(ctx, "message_cache:"+key, data))

	backend.set(func(f *flakyBackend) { f.failDelete = true })
	c := openTestCache(t, backend, clock, nil)

	_, ok := c.Peek(ctx, ctxA())
	assert.False(t, ok)
	assert.Zero(t, c.Statistics(ctx).LiveEntryCount)

	backend.set(func(f *flakyBackend) { f.failDelete = false })
	assert.Equal(t, 1, c.RunCleanup(ctx).Purged)
	keys, err := backend.Keys(ctx, "message_cache:")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestNonFiniteQualityScoreCountsAsZero(t *testing.T) {
	backend := store.NewMemoryBackend()
	c := openTestCache(t, backend, newFakeClock(), nil)
	ctx := context.Background()

	c.Set(ctx, withScripts(10), message("nan", math.NaN()))
	c.Set(ctx, withScripts(20), message("inf", math.Inf(1)))
	c.Set(ctx, withScripts(30), message("good", 0.9))

	got, ok := c.Get(ctx, withScripts(50))
	require.True(t, ok)
	assert.Equal(t, "good", got.ID)

	e, ok := c.Peek(ctx, withScripts(10))
	require.True(t, ok)
	assert.Zero(t, e.Score)
	assert.Nil(t, e.Message.QualityScore)

	// Both entries were encodable and persisted.
	for _, scripts := range []int{10, 20} {
		key, err := fingerprint.Of(withScripts(scripts))
		require.NoError(t, err)
		_, stored, err := backend.Get(ctx, "message_cache:"+key)
		require.NoError(t, err)
		assert.True(t, stored, "scripts=%d", scripts)
	}
}

func TestNonFiniteEngagementScoreRejected(t *testing.T) {
	c := openTestCache(t, store.NewMemoryBackend(), newFakeClock(), nil)
	ctx := context.Background()

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		uc := ctxA()
		uc.EngagementScore = v

		c.Set(ctx, uc, message("never", 1))
		_, ok := c.Peek(ctx, uc)
		assert.False(t, ok, "engagement=%v", v)
	}
	assert.Zero(t, c.Statistics(ctx).LiveEntryCount)
}
