package npm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/webnode/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webnode/internal/infrastructure/resilience"
)

// ClientConfig configures the registry HTTP client.
type ClientConfig struct {
	// BaseURL is the registry root, e.g. https://registry.npmjs.org.
	BaseURL string
	Timeout time.Duration
	// RetryMax bounds transparent retries on transient failures.
	RetryMax int
	// RequestsPerSecond and Burst bound the request rate against the
	// registry across metadata and tarball fetches.
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
	// BreakerThreshold is the consecutive-failure count that trips the
	// circuit breaker; BreakerCooldown is how long it stays open.
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

// DefaultClientConfig returns production-ready client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:           "https://registry.npmjs.org",
		Timeout:           30 * time.Second,
		RetryMax:          3,
		RequestsPerSecond: 20,
		Burst:             40,
		UserAgent:         "webnode/1.0",
		BreakerThreshold:  5,
		BreakerCooldown:   30 * time.Second,
	}
}

// Client talks to an npm-compatible registry over HTTP. It implements
// Registry.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	log     *logging.Logger
}

// NewClient creates a registry client. A nil logger disables logging.
func NewClient(cfg ClientConfig, log *logging.Logger) *Client {
	if log == nil {
		log = logging.NewNop()
	}
	retry := retryablehttp.NewClient()
	retry.RetryMax = cfg.RetryMax
	retry.Logger = nil

	httpClient := resty.NewWithClient(retry.StandardClient()).
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json")

	scoped := log.Named("registry")
	return &Client{
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: resilience.New("registry", resilience.Options{
			FailureThreshold: cfg.BreakerThreshold,
			Cooldown:         cfg.BreakerCooldown,
			OnStateChange: func(name string, from, to resilience.State) {
				scoped.Warn("Circuit breaker state change",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
		log: scoped,
	}
}

// Metadata fetches the full package document.
func (c *Client) Metadata(ctx context.Context, name string) (*PackageMetadata, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	var body []byte
	var notFound bool
	err := c.breaker.Do(func() error {
		resp, err := c.http.R().SetContext(ctx).Get("/" + escapeName(name))
		if err != nil {
			return fmt.Errorf("fetch metadata for %s: %w", name, err)
		}
		// A 404 is a valid registry answer, not an outage.
		if resp.StatusCode() == 404 {
			notFound = true
			return nil
		}
		if resp.IsError() {
			return fmt.Errorf("fetch metadata for %s: registry returned %d", name, resp.StatusCode())
		}
		body = resp.Body()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if notFound {
		return nil, fmt.Errorf("package '%s' not found in registry", name)
	}

	var meta PackageMetadata
	if err := sonic.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", name, err)
	}
	c.log.Debug("Fetched metadata",
		zap.String("package", name),
		zap.Int("versions", len(meta.Versions)),
		zap.Duration("elapsed", time.Since(start)))
	return &meta, nil
}

// Download fetches a tarball by its dist URL.
func (c *Client) Download(ctx context.Context, tarballURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body []byte
	err := c.breaker.Do(func() error {
		resp, err := c.http.R().SetContext(ctx).SetHeader("Accept", "*/*").Get(tarballURL)
		if err != nil {
			return fmt.Errorf("download %s: %w", tarballURL, err)
		}
		if resp.IsError() {
			return fmt.Errorf("download %s: registry returned %d", tarballURL, resp.StatusCode())
		}
		body = resp.Body()
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.log.Debug("Downloaded tarball",
		zap.String("url", tarballURL),
		zap.Int("bytes", len(body)))
	return body, nil
}

// escapeName encodes the scoped-package slash the registry expects.
func escapeName(name string) string {
	return strings.ReplaceAll(name, "/", "%2F")
}
