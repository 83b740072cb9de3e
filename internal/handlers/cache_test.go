package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"contextcache/internal/cache"
	"contextcache/pkg/types"
)

func TestStatsAndCleanup(t *testing.T) {
	c := newTestCache(t)
	c.Set(context.Background(), sampleContext(), types.Message{ID: "m", Content: json.RawMessage(`"x"`)})
	c.Get(context.Background(), sampleContext())

	h := NewCacheHandler(c)

	rr := httptest.NewRecorder()
	h.Stats(rr, httptest.NewRequest(http.MethodGet, "/v1/cache/stats", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var stats types.Statistics
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.Version != cache.DefaultVersion || stats.TotalHits != 1 || stats.LiveEntryCount != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.HitRate != 1 {
		t.Fatalf("expected hit rate 1, got %v", stats.HitRate)
	}

	rr = httptest.NewRecorder()
	h.Cleanup(rr, httptest.NewRequest(http.MethodPost, "/v1/cache/cleanup", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var report cache.CleanupReport
	if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if report.Scanned != 1 || report.Remaining != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}
