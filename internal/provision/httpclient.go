package provision

import (
	"math"
	"net/http"
	"time"

	"github.com/quorick/convoy/internal/logging"
)

// RetryConfig defines retry behavior for cloud API calls.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// RetryableStatus lists HTTP status codes worth retrying.
	RetryableStatus []int
}

// DefaultRetryConfig returns sensible retry defaults: rate limits and server
// errors are retried, everything else surfaces immediately.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        30 * time.Second,
		BackoffFactor:   2.0,
		RetryableStatus: []int{429, 500, 502, 503, 504},
	}
}

// RateLimiter enforces a minimum interval between API calls.
type RateLimiter struct {
	lastCall time.Time
	interval time.Duration
}

func NewRateLimiter(requestsPerSecond float64) *RateLimiter {
	return &RateLimiter{interval: time.Duration(float64(time.Second) / requestsPerSecond)}
}

// Wait blocks until it is safe to make the next call.
func (rl *RateLimiter) Wait() {
	if rl.lastCall.IsZero() {
		rl.lastCall = time.Now()
		return
	}
	if elapsed := time.Since(rl.lastCall); elapsed < rl.interval {
		time.Sleep(rl.interval - elapsed)
	}
	rl.lastCall = time.Now()
}

// RetryableHTTPClient wraps an HTTP client with retries and rate limiting.
type RetryableHTTPClient struct {
	client      *http.Client
	retryConfig RetryConfig
	rateLimiter *RateLimiter
	run         *logging.Run
}

func NewRetryableHTTPClient(timeout time.Duration, requestsPerSecond float64, run *logging.Run) *RetryableHTTPClient {
	return &RetryableHTTPClient{
		client:      &http.Client{Timeout: timeout},
		retryConfig: DefaultRetryConfig(),
		rateLimiter: NewRateLimiter(requestsPerSecond),
		run:         run,
	}
}

// Do executes the request, retrying transient failures with exponential
// backoff. The request body must be replayable (GetBody set or nil body).
func (c *RetryableHTTPClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
		c.rateLimiter.Wait()

		reqClone := req.Clone(req.Context())
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			reqClone.Body = body
		}

		resp, err := c.client.Do(reqClone)
		if err != nil {
			lastErr = err
			if attempt < c.retryConfig.MaxRetries {
				delay := c.calculateDelay(attempt)
				c.run.Detail.Warn().Err(err).Int("attempt", attempt+1).Dur("delay", delay).
					Str("url", req.URL.String()).Msg("request failed, retrying")
				time.Sleep(delay)
				continue
			}
			return nil, lastErr
		}

		if c.retryable(resp.StatusCode) && attempt < c.retryConfig.MaxRetries {
			resp.Body.Close()
			delay := c.calculateDelay(attempt)
			c.run.Detail.Warn().Int("status", resp.StatusCode).Int("attempt", attempt+1).
				Dur("delay", delay).Str("url", req.URL.String()).Msg("retryable status, retrying")
			time.Sleep(delay)
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

func (c *RetryableHTTPClient) retryable(status int) bool {
	for _, s := range c.retryConfig.RetryableStatus {
		if s == status {
			return true
		}
	}
	return false
}

func (c *RetryableHTTPClient) calculateDelay(attempt int) time.Duration {
	delay := float64(c.retryConfig.InitialDelay) * math.Pow(c.retryConfig.BackoffFactor, float64(attempt))
	if delay > float64(c.retryConfig.MaxDelay) {
		delay = float64(c.retryConfig.MaxDelay)
	}
	return time.Duration(delay)
}
