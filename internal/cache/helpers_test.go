package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"contextcache/internal/store"
	"contextcache/pkg/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openTestCache(t *testing.T, backend store.Backend, clock *fakeClock, mutate func(*Config)) *Cache {
	t.Helper()

	cfg := Config{
		PersistSampleRate: 1,
		Now:               clock.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := Open(context.Background(), backend, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func ctxA() types.UserContext {
	return types.UserContext{
		SkillLevel:        types.SkillBeginner,
		IsFirstLogin:      true,
		ScriptsCount:      2,
		TimeOfDay:         types.Morning,
		DayOfWeek:         types.Monday,
		Tone:              "friendly",
		ProductivityTrend: types.TrendStable,
		ConsecutiveDays:   1,
		EngagementScore:   20,
	}
}

func ctxExpert() types.UserContext {
	return types.UserContext{
		SkillLevel:        types.SkillExpert,
		IsFirstLogin:      false,
		ScriptsCount:      120,
		TimeOfDay:         types.Morning,
		DayOfWeek:         types.Tuesday,
		Tone:              "professional",
		ProductivityTrend: types.TrendIncreasing,
		ConsecutiveDays:   12,
		EngagementScore:   85,
	}
}

func message(id string, score float64) types.Message {
	return types.Message{
		ID:           id,
		Content:      []byte(`{"text":"` + id + `"}`),
		QualityScore: &score,
	}
}

var errInjected = errors.New("injected failure")

// flakyBackend fails the selected operations.
type flakyBackend struct {
	store.Backend

	mu         sync.Mutex
	failGet    bool
	failSet    bool
	failDelete bool
	failKeys   bool
}

func (f *flakyBackend) set(fn func(*flakyBackend)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *flakyBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	fail := f.failGet
	f.mu.Unlock()
	if fail {
		return nil, false, errInjected
	}
	return f.Backend.Get(ctx, key)
}

func (f *flakyBackend) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	fail := f.failSet
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Backend.Set(ctx, key, value)
}

func (f *flakyBackend) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	fail := f.failDelete
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Backend.Delete(ctx, key)
}

func (f *flakyBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	fail := f.failKeys
	f.mu.Unlock()
	if fail {
		return nil, errInjected
	}
	return f.Backend.Keys(ctx, prefix)
}
