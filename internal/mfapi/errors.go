package mfapi

import "errors"

var (
	// ErrRateLimitBreach means the upstream returned 429 even though the
	// request passed the limiter gate. The limiter is miscalibrated; callers
	// must surface this as a pipeline failure, never retry silently.
	ErrRateLimitBreach = errors.New("upstream rate limit breached: limiter drift")

	// ErrSchemeNotFound is returned for an unknown scheme code.
	ErrSchemeNotFound = errors.New("scheme not found upstream")

	// ErrUpstreamUnavailable covers 5xx and transport failures; a later
	// pipeline run retries.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrMalformedPayload is returned when a response cannot be decoded or
	// normalized.
	ErrMalformedPayload = errors.New("malformed upstream payload")
)
