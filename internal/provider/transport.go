package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/crownking/assistant/internal/config"
)

const (
	maxRetryDelay = 10 * time.Second
	maxErrorBody  = 512
	maxResponse   = 10 * 1024 * 1024
)

// sharedHTTPClient has no client-level timeout; every attempt carries its own deadline.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// Options bound every outbound provider call.
type Options struct {
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	RateLimit    float64
	RateBurst    int
	HTTPClient   *http.Client
}

// OptionsFromConfig copies the call limits out of the LLM configuration.
func OptionsFromConfig(cfg config.LLMConfig) Options {
	return Options{
		Timeout:      cfg.Timeout,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		RateLimit:    cfg.RateLimit,
		RateBurst:    cfg.RateBurst,
	}
}

// caller posts JSON to a provider with per-attempt timeouts, bounded retries and optional rate limiting.
type caller struct {
	name       string
	client     *http.Client
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	limiter    *rate.Limiter
}

func newCaller(name string, opts Options) *caller {
	c := &caller{
		name:       name,
		client:     opts.HTTPClient,
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		backoff:    opts.RetryBackoff,
	}
	if c.client == nil {
		c.client = sharedHTTPClient
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

// postJSON sends payload to url and decodes a 2xx answer into out.
func (c *caller) postJSON(ctx context.Context, url string, headers map[string]string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", c.name, err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay(attempt - 1)):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%s rate limiter: %w", c.name, err)
			}
		}

		lastErr = c.attempt(ctx, url, headers, body, out)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(lastErr) {
			return lastErr
		}
	}

	if c.maxRetries > 0 {
		return fmt.Errorf("max retries exceeded: %w", lastErr)
	}
	return lastErr
}

func (c *caller) attempt(ctx context.Context, url string, headers map[string]string, body []byte, out interface{}) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Provider: c.name, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponse)).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", c.name, err)
	}
	return nil
}

// retryDelay doubles the base backoff per attempt, capped at maxRetryDelay.
func (c *caller) retryDelay(attempt int) time.Duration {
	return backoffDelay(c.backoff, attempt)
}

// backoffDelay stops doubling once the cap is reached so large attempt counts cannot overflow.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if base >= maxRetryDelay {
		return maxRetryDelay
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

// retryable reports whether a failed attempt is worth repeating: rate limiting, 5xx and transport errors.
func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	var netErr *transportError
	return errors.As(err, &netErr)
}

// transportError is a failure to get any response from the endpoint.
type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return "network error: " + e.err.Error()
}

func (e *transportError) Unwrap() error {
	return e.err
}
