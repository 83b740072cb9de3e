package generator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const maxRetryAfter = 5 * time.Minute

// doWithRetry runs do up to MaxRetries+1 times. Only transient network
// errors, 408, 429 and 5xx are retried, with jittered exponential backoff.
// A Retry-After header replaces the next backoff interval. ctx bounds the
// whole sequence.
func (c *client) doWithRetry(
	ctx context.Context,
	do func(ctx context.Context) (*http.Response, error),
) (*http.Response, error) {
	policy := &retryAfterBackOff{BackOff: c.newBackOff()}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.cfg.MaxRetries)), ctx)

	var (
		resp    *http.Response
		attempt int
	)
	operation := func() error {
		attempt++
		start := time.Now()
		r, err := do(ctx)

		status := 0
		if r != nil {
			status = r.StatusCode
		}
		c.logger.Debug("generator upstream request",
			zap.Int("attempt", attempt),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			if !isTransientNetError(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		if shouldRetryStatus(status) {
			policy.wait = parseRetryAfter(r)
			// close before retrying so the connection can be reused
			r.Body.Close()
			return &StatusError{Status: status}
		}

		resp = r
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Debug("retrying generator request",
			zap.Error(err),
			zap.Duration("backoff", wait),
			zap.Int("next_attempt", attempt+1),
		)
	}

	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		c.logger.Warn("generator request gave up",
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return nil, fmt.Errorf("generator: request failed after %d attempt(s): %w", attempt, err)
	}
	return resp, nil
}

func (c *client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BaseBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	// the request context carries the overall deadline
	b.MaxElapsedTime = 0
	return b
}

// retryAfterBackOff lets a server-provided Retry-After override the next
// interval once.
type retryAfterBackOff struct {
	backoff.BackOff
	wait time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if b.wait > 0 {
		next, b.wait = b.wait, 0
	}
	return next
}

func (b *retryAfterBackOff) Reset() {
	b.wait = 0
	b.BackOff.Reset()
}

// isTransientNetError determines whether a network error is worth retrying.
func isTransientNetError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	// service restarting
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial", "read", "write":
			return true
		}
	}

	// wrapped errors sometimes only keep the text
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"temporary failure",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func shouldRetryStatus(status int) bool {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return true
	case status >= 500 && status <= 599:
		return true
	default:
		return false
	}
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date. Missing, invalid or past values give 0. Capped at 5 minutes.
func parseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}

	var d time.Duration
	if seconds, err := strconv.Atoi(v); err == nil {
		d = time.Duration(seconds) * time.Second
	} else if t, err := http.ParseTime(v); err == nil {
		d = time.Until(t)
	}

	switch {
	case d <= 0:
		return 0
	case d > maxRetryAfter:
		return maxRetryAfter
	default:
		return d
	}
}
