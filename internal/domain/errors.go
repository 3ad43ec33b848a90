package domain

import "errors"

var (
	// ErrUpstreamUnavailable marks a failed or timed-out call to an external
	// collaborator (identity resolution, post fetch, claim classifier).
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrMalformedResponse marks an upstream answer that could not be understood.
	ErrMalformedResponse = errors.New("malformed upstream response")
)
