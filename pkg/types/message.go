package types

import "encoding/json"

// Message is a produced contextual message. Content is opaque to the cache;
// only QualityScore is read, to rank fuzzy candidates.
type Message struct {
	ID           string          `json:"id,omitempty"`
	Content      json.RawMessage `json:"content,omitempty"`
	QualityScore *float64        `json:"qualityScore,omitempty"`
}

// Score returns the quality score, or 0 when the producer did not set one.
func (m Message) Score() float64 {
	if m.QualityScore == nil {
		return 0
	}
	return *m.QualityScore
}

// Statistics is the read-only snapshot exposed for diagnostics.
type Statistics struct {
	Version        string  `json:"version"`
	HitRate        float64 `json:"hitRate"`
	TotalHits      int64   `json:"totalHits"`
	TotalMisses    int64   `json:"totalMisses"`
	LastCleanup    string  `json:"lastCleanup"`
	IndexSize      int     `json:"indexSize"`
	LiveEntryCount int     `json:"liveEntryCount"`
}
