package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"parcelscope/internal/model"
)

const backoffFactor = 1.7

// retrySleep is the backoff wait between attempts (injectable for tests)
var retrySleep = sleepContext

// Client is the retrying fetch layer beneath the query adapter.
// It speaks the service's JSON envelope: f=json on every request,
// errors either as transport status codes or embedded error objects.
type Client struct {
	httpClient *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
}

// NewClient creates a new Client with the given configuration
func NewClient(cfg model.HTTPConfig) *Client {
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 550 * time.Millisecond
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		userAgent:  cfg.UserAgent,
		maxRetries: retries,
		baseDelay:  baseDelay,
	}
}

// Request issues a single request and decodes the JSON envelope.
// A nil form means GET with f=json appended when absent; a non-nil form
// means a URL-encoded POST. No retry happens at this level.
func (c *Client) Request(ctx context.Context, rawURL string, form url.Values) ([]byte, error) {
	var req *http.Request
	var err error

	if form == nil {
		u, perr := url.Parse(rawURL)
		if perr != nil {
			return nil, fmt.Errorf("parse url: %w", perr)
		}
		q := u.Query()
		if q.Get("f") == "" {
			q.Set("f", "json")
			u.RawQuery = q.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	} else {
		if form.Get("f") == "" {
			form.Set("f", "json")
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Surface the caller's cancellation rather than a wrapped transport error
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: rawURL}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if svcErr := decodeServiceError(body); svcErr != nil {
		return nil, svcErr
	}

	return body, nil
}

// RequestWithRetry wraps Request in a bounded retry loop. Only
// transient failures (429/5xx) are retried; the delay before retry n is
// baseDelay * 1.7^n with ±30% jitter. Cancellation fires immediately,
// including mid-backoff, and stops further attempts.
func (c *Client) RequestWithRetry(ctx context.Context, rawURL string, form url.Values) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if attempt > 0 {
			if err := retrySleep(ctx, c.backoffDelay(attempt-1)); err != nil {
				return nil, err
			}
		}

		// Form values may be mutated by Request (f=json); copy per attempt
		body, err := c.Request(ctx, rawURL, cloneForm(form))
		if err == nil {
			return body, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("retries exhausted: %w", lastErr)
}

// backoffDelay computes the wait before retry n (0-indexed), rounded to
// the nearest millisecond
func (c *Client) backoffDelay(n int) time.Duration {
	jitter := 0.7 + rand.Float64()*0.6
	ms := float64(c.baseDelay.Milliseconds()) * math.Pow(backoffFactor, float64(n)) * jitter
	return time.Duration(math.Round(ms)) * time.Millisecond
}

// sleepContext waits for d, releasing the timer early on cancellation
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func cloneForm(form url.Values) url.Values {
	if form == nil {
		return nil
	}
	clone := make(url.Values, len(form))
	for k, v := range form {
		clone[k] = append([]string(nil), v...)
	}
	return clone
}

// decodeServiceError extracts an embedded error object, if any
func decodeServiceError(body []byte) error {
	var envelope struct {
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &envelope); err != nil {
		// Not a JSON object; let the caller's decode report the problem
		return nil
	}
	if envelope.Error == nil {
		return nil
	}

	return &ServiceError{Code: envelope.Error.Code, Message: envelope.Error.Message}
}
