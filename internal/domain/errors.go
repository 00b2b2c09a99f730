package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTransientUpstream marks retryable upstream failures (network, 5xx, 429).
	ErrTransientUpstream = errors.New("transient upstream error")
	// ErrRateLimited is returned once 429 responses exhaust the retry budget.
	ErrRateLimited = errors.New("upstream rate limited")
	// ErrMalformedResponse marks a payload that violates the expected schema.
	ErrMalformedResponse = errors.New("malformed upstream response")
	// ErrParseSkip marks a single listing element that could not be extracted.
	ErrParseSkip = errors.New("listing element skipped")
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
)

// UpstreamError describes a failed call against an external service.
type UpstreamError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s upstream error (%d): %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s upstream error: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
