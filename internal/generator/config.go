package generator

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	// required
	BaseURL string
	// sent as a bearer token when set
	APIKey string

	Timeout     time.Duration // per-request timeout across all attempts (default: 10s)
	MaxRetries  int           // retry attempts after the first (default: 2, negative disables)
	BaseBackoff time.Duration // initial backoff (default: 100ms)
	MaxBackoff  time.Duration // backoff cap (default: 5s)

	MaxIdleConns        int // default: 100
	MaxIdleConnsPerHost int // default: 100

	// Custom HTTP client (for testing or special configs)
	HTTPClient *http.Client
}

// Validate checks required fields only.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("BaseURL is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("BaseURL %q must be an http(s) URL", c.BaseURL)
	}
	if c.MaxBackoff < c.BaseBackoff {
		return fmt.Errorf("MaxBackoff %s is below BaseBackoff %s", c.MaxBackoff, c.BaseBackoff)
	}
	return nil
}

// WithDefaults returns a copy of Config with sane defaults applied.
func (c *Config) WithDefaults() Config {
	cfg := *c

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 100
	}
	return cfg
}

type client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an HTTP Generator.
func NewClient(cfg Config, logger *zap.Logger) (Generator, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: defaultTransport(cfg),
		}
	}

	return &client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.Named("generator"),
	}, nil
}

func defaultTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Close releases idle connections.
func (c *client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
