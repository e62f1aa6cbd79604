// Package notify posts ended-game results to an external webhook.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// HeaderProvider supplies extra headers per request, e.g. a shared secret.
type HeaderProvider func() map[string]string

// Client POSTs JSON to one URL. Transport errors and gateway-class statuses
// are retried with exponential backoff; other failures return at once.
type Client struct {
	url     string
	http    *fasthttp.Client
	headers HeaderProvider
	timeout time.Duration
	retry   retryPolicy
}

type Option func(*Client)

// WithTimeout bounds a single attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

// WithRetry sets the total number of attempts.
func WithRetry(attempts int) Option {
	return func(c *Client) { c.retry.attempts = attempts }
}

// WithDial replaces the dialer; tests use an in-memory listener.
func WithDial(d fasthttp.DialFunc) Option {
	return func(c *Client) { c.http.Dial = d }
}

func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url: strings.TrimSpace(url),
		http: &fasthttp.Client{
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxConnsPerHost: 16,
		},
		timeout: 10 * time.Second,
		retry:   retryPolicy{attempts: 3, base: 100 * time.Millisecond, maxShift: 5},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError is a non-2xx webhook response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook error: status=%d body=%s", e.Status, e.Body)
}

// PostJSON marshals in and delivers it.
func (c *Client) PostJSON(ctx context.Context, in any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	var last error
	for attempt := 1; attempt <= c.retry.total(); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		retryable, err := c.once(ctx, payload)
		if err == nil {
			return nil
		}
		last = err
		if !retryable || attempt == c.retry.total() {
			break
		}
		if err := wait(ctx, c.retry.delay(attempt)); err != nil {
			break
		}
	}
	return last
}

// once performs one attempt and reports whether its failure may be retried.
func (c *Client) once(ctx context.Context, payload []byte) (bool, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.url)
	req.Header.SetContentType("application/json")
	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
				continue
			}
			req.Header.Set(k, v)
		}
	}
	req.SetBody(payload)

	if err := c.http.DoDeadline(req, resp, deadline(ctx, c.timeout)); err != nil {
		return true, fmt.Errorf("webhook request: %w", err)
	}
	status := resp.StatusCode()
	if status >= 200 && status < 300 {
		return false, nil
	}
	body := string(resp.Body())
	if len(body) > 512 {
		body = body[:512]
	}
	return gatewayStatus(status), &StatusError{Status: status, Body: body}
}

// deadline is the earlier of ctx's deadline and now+timeout.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	own := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(own) {
		return dl
	}
	return own
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type retryPolicy struct {
	attempts int
	base     time.Duration
	maxShift int
}

func (p retryPolicy) total() int {
	if p.attempts <= 0 {
		return 1
	}
	return p.attempts
}

// delay doubles per attempt: base, 2*base, 4*base, capped at base<<maxShift.
func (p retryPolicy) delay(attempt int) time.Duration {
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > p.maxShift {
		shift = p.maxShift
	}
	return p.base << uint(shift)
}

func gatewayStatus(code int) bool {
	switch code {
	case fasthttp.StatusInternalServerError, fasthttp.StatusBadGateway,
		fasthttp.StatusServiceUnavailable, fasthttp.StatusGatewayTimeout:
		return true
	}
	return false
}
