// Package inflow fetches sales orders from the inFlow Inventory REST API.
package inflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"ordergate/internal/logger"
	"ordergate/pkg/domain"
)

var _ domain.OrderSource = (*Client)(nil)

// ErrOrderNotFound is returned when inFlow answers 404 for an order.
var ErrOrderNotFound = errors.New("inflow: sales order not found")

const (
	DefaultBaseURL = "https://cloudapi.inflowinventory.com"
	// APIVersion is sent in the Accept header; inFlow pins response shapes to it.
	APIVersion = "2025-06-24"

	orderIncludes = "lines.product,customer,location,paymentLines,salesRepTeamMember"
	maxAttempts   = 3
	maxRetryAfter = 60 * time.Second
)

// Config configures the client.
type Config struct {
	APIKey    string
	CompanyID string
	BaseURL   string
	// RequestsPerSecond throttles outbound calls; zero disables throttling.
	RequestsPerSecond float64
	// FetchDelay is waited before each order fetch so inFlow can finish
	// committing the change that fired the webhook.
	FetchDelay time.Duration
}

// Client is an OrderSource over the inFlow API.
type Client struct {
	cfg     Config
	base    string
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(cl *Client) { cl.log = l.WithComponent("inflow") }
}

// New validates cfg and returns a client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" || cfg.CompanyID == "" {
		return nil, errors.New("inflow: api key and company id are required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	c := &Client{
		cfg:     cfg,
		base:    strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Inf, 1),
		log:     logger.Nop(),
		sleep:   sleepCtx,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchOrder returns the current state of a sales order with its lines,
// customer, location, payment lines and sales rep expanded.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (domain.OrderSnapshot, error) {
	if strings.TrimSpace(orderID) == "" {
		return domain.OrderSnapshot{}, errors.New("inflow: order id is required")
	}
	if c.cfg.FetchDelay > 0 {
		if err := c.sleep(ctx, c.cfg.FetchDelay); err != nil {
			return domain.OrderSnapshot{}, err
		}
	}
	endpoint := fmt.Sprintf("sales-orders/%s?include=%s", url.PathEscape(orderID), orderIncludes)
	var raw map[string]any
	if err := c.get(ctx, endpoint, &raw); err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return domain.OrderSnapshot{}, fmt.Errorf("order %s: %w", orderID, err)
		}
		return domain.OrderSnapshot{}, err
	}
	snap := domain.OrderSnapshot{ID: orderID, Raw: raw}
	if id, ok := raw["salesOrderId"].(string); ok && id != "" {
		snap.ID = id
	}
	if n, ok := raw["orderNumber"].(string); ok {
		snap.Number = n
	}
	return snap, nil
}

// get issues a GET against <base>/<company>/<endpoint>. 429 and transport
// errors are retried; 5xx too. Other statuses fail immediately.
func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	target := fmt.Sprintf("%s/%s/%s", c.base, url.PathEscape(c.cfg.CompanyID), strings.TrimLeft(endpoint, "/"))
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		wait, err := c.once(ctx, target, out)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
		if attempt == maxAttempts-1 {
			break
		}
		if wait == 0 {
			wait = time.Duration(1<<attempt) * time.Second
		}
		c.log.Warn("inflow request failed; retrying", "url", target, "attempt", attempt+1, "wait", wait, "error", err)
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("inflow request failed after %d attempts: %w", maxAttempts, lastErr)
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }

// once performs a single request. A non-zero wait asks the caller to back off that long.
func (c *Client) once(ctx context.Context, target string, out any) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, &permanentError{err}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json;version="+APIVersion)
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, &permanentError{ctx.Err()}
		}
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return retryAfter(resp.Header.Get("Retry-After")), fmt.Errorf("rate limited (429)")
	case resp.StatusCode == http.StatusNotFound:
		return 0, &permanentError{ErrOrderNotFound}
	case resp.StatusCode >= 500:
		return 0, fmt.Errorf("status %d: %s", resp.StatusCode, snippet(resp.Body))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return 0, &permanentError{fmt.Errorf("inflow: status %d: %s", resp.StatusCode, snippet(resp.Body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return 0, &permanentError{fmt.Errorf("inflow: decode response: %w", err)}
	}
	return 0, nil
}

// retryAfter parses a Retry-After value in seconds, defaulting to the cap.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return maxRetryAfter
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		return maxRetryAfter
	}
	if d == 0 {
		return time.Millisecond
	}
	return d
}

func snippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
