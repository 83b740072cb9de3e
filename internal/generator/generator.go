// Package generator calls the upstream service that composes contextual
// messages. The cache never calls it; the resolve handler does on a miss.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"contextcache/pkg/types"
)

const (
	generatePath    = "/v1/messages/generate"
	maxResponseSize = 1 << 20
)

// ErrEmptyMessage is returned when the upstream answers 2xx without content.
var ErrEmptyMessage = errors.New("generator returned an empty message")

// Generator produces a message for a user context.
type Generator interface {
	Generate(ctx context.Context, uc types.UserContext) (*types.Message, error)
	Close() error
}

// StatusError is a non-2xx upstream answer that was not retried, or was the
// last one seen when retries ran out.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream status %d", e.Status)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
}

type generateRequest struct {
	Context types.UserContext `json:"context"`
}

func (c *client) Generate(parentCtx context.Context, uc types.UserContext) (*types.Message, error) {
	start := time.Now()

	body, err := json.Marshal(generateRequest{Context: uc})
	if err != nil {
		return nil, fmt.Errorf("generator: marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.Timeout)
	defer cancel()

	url := c.cfg.BaseURL + generatePath

	// doOnce builds a fresh *http.Request for each attempt
	doOnce := func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("generator: build HTTP request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}
		return c.httpClient.Do(req)
	}

	resp, err := c.doWithRetry(ctx, doOnce)
	if err != nil {
		c.logger.Error("generate failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		serr := &StatusError{Status: resp.StatusCode, Body: truncate(string(raw), 200)}
		c.logger.Error("generator upstream error", zap.Int("status", resp.StatusCode), zap.String("body", serr.Body))
		return nil, fmt.Errorf("generator: %w", serr)
	}

	var msg types.Message
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&msg); err != nil {
		return nil, fmt.Errorf("generator: decode response: %w", err)
	}
	if len(msg.Content) == 0 || string(msg.Content) == "null" {
		return nil, ErrEmptyMessage
	}

	c.logger.Info("message generated",
		zap.String("message_id", msg.ID),
		zap.Float64("quality_score", msg.Score()),
		zap.Duration("duration", time.Since(start)),
	)
	return &msg, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
