// Package mfapi is the client for the public mutual-fund NAV API. Every
// request gates on the shared rate limiter before leaving the process; a 429
// from upstream therefore means the limiter is miscalibrated and is treated
// as fatal rather than retried.
package mfapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"
)

const (
	// DefaultBaseURL is the public endpoint serving scheme catalogs and NAV
	// histories.
	DefaultBaseURL = "https://api.mfapi.in/mf"

	// DefaultTimeout bounds a single upstream HTTP exchange.
	DefaultTimeout = 30 * time.Second

	// upstreamDateLayout is the DD-MM-YYYY form the upstream emits.
	upstreamDateLayout = "02-01-2006"
)

// TokenGate blocks until the shared rate limiter admits one request.
type TokenGate interface {
	WaitForToken(ctx context.Context) error
}

// Config configures the client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client fetches and normalizes upstream payloads. It performs no automatic
// retries: transport and 5xx errors propagate, and a later pipeline run
// recovers.
type Client struct {
	baseURL string
	http    *http.Client
	gate    TokenGate
	logger  *slog.Logger
}

// NewClient builds a client around the given rate limiter gate.
func NewClient(cfg Config, gate TokenGate, logger *slog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		gate:    gate,
		logger:  logger,
	}
}

// ListSchemes fetches the full upstream catalog.
func (c *Client) ListSchemes(ctx context.Context) ([]SchemeRef, error) {
	var refs []SchemeRef
	if err := c.getJSON(ctx, c.baseURL, &refs); err != nil {
		return nil, fmt.Errorf("failed to list schemes: %w", err)
	}
	return refs, nil
}

// FetchScheme fetches one scheme's metadata and full NAV history. The
// upstream emits newest-first DD-MM-YYYY rows; the result is ascending ISO
// dates.
func (c *Client) FetchScheme(ctx context.Context, schemeCode string) (*SchemeHistory, error) {
	var payload struct {
		Meta SchemeMeta `json:"meta"`
		Data []struct {
			Date string `json:"date"`
			NAV  string `json:"nav"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/"+schemeCode, &payload); err != nil {
		return nil, fmt.Errorf("failed to fetch scheme %s: %w", schemeCode, err)
	}

	navs := make([]NavPoint, 0, len(payload.Data))
	for _, row := range payload.Data {
		date, err := time.ParseInLocation(upstreamDateLayout, row.Date, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("scheme %s: %w: date %q", schemeCode, ErrMalformedPayload, row.Date)
		}
		nav, err := strconv.ParseFloat(row.NAV, 64)
		if err != nil {
			return nil, fmt.Errorf("scheme %s: %w: nav %q", schemeCode, ErrMalformedPayload, row.NAV)
		}
		if nav <= 0 {
			// The upstream occasionally emits 0.00000 placeholder rows for
			// non-trading days; they carry no price information.
			continue
		}
		navs = append(navs, NavPoint{Date: date, NAV: nav})
	}

	// The upstream contract is newest-first, but sort instead of blindly
	// reversing in case of out-of-order rows.
	sort.Slice(navs, func(i, j int) bool { return navs[i].Date.Before(navs[j].Date) })

	return &SchemeHistory{Meta: payload.Meta, NAVs: navs}, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	if err := c.gate.WaitForToken(ctx); err != nil {
		return fmt.Errorf("rate limiter gate: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues("transport_error").Inc()
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		requestsTotal.WithLabelValues("rate_limited").Inc()
		c.logger.ErrorContext(ctx, "upstream returned 429 despite limiter gate", slog.String("url", url))
		return ErrRateLimitBreach
	case resp.StatusCode == http.StatusNotFound:
		requestsTotal.WithLabelValues("not_found").Inc()
		return ErrSchemeNotFound
	case resp.StatusCode >= 500:
		requestsTotal.WithLabelValues("upstream_error").Inc()
		return fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		requestsTotal.WithLabelValues("unexpected_status").Inc()
		return fmt.Errorf("unexpected upstream status %d", resp.StatusCode)
	}

	requestsTotal.WithLabelValues("ok").Inc()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return nil
}
