package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"contextcache/internal/fingerprint"
	"contextcache/pkg/types"
)

// errCorruptRecord marks a stored record that cannot be decoded.
var errCorruptRecord = errors.New("corrupt cache record")

// Entry is one cached message with its popularity bookkeeping.
type Entry struct {
	Message    types.Message        `json:"message"`
	Context    fingerprint.Snapshot `json:"context"`
	Hits       int                  `json:"hits"`
	LastAccess time.Time            `json:"lastAccess"`
	Score      float64              `json:"score"`
}

// newEntry builds a fresh entry. A NaN or infinite quality score counts as
// 0 and is dropped from the stored message, which could not be encoded
// otherwise.
func newEntry(uc types.UserContext, msg types.Message, now time.Time) *Entry {
	e := &Entry{
		Message:    cloneMessage(msg),
		Context:    fingerprint.Capture(uc),
		Hits:       0,
		LastAccess: now,
		Score:      msg.Score(),
	}
	if math.IsNaN(e.Score) || math.IsInf(e.Score, 0) {
		e.Score = 0
		e.Message.QualityScore = nil
	}
	return e
}

func encodeEntry(e *Entry) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEntry(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %w", errCorruptRecord, err)
	}
	if e.Hits < 0 || e.LastAccess.IsZero() {
		return nil, fmt.Errorf("%w: hits=%d last_access=%v", errCorruptRecord, e.Hits, e.LastAccess)
	}
	return &e, nil
}

func cloneMessage(m types.Message) types.Message {
	out := m
	if m.Content != nil {
		out.Content = append(json.RawMessage(nil), m.Content...)
	}
	if m.QualityScore != nil {
		score := *m.QualityScore
		out.QualityScore = &score
	}
	return out
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Message = cloneMessage(e.Message)
	if e.Context.IsFirstLogin != nil {
		first := *e.Context.IsFirstLogin
		c.Context.IsFirstLogin = &first
	}
	return &c
}
