package gateway

import "errors"

// Sentinel errors for the gateway domain.
var (
	ErrMissingCredential      = errors.New("missing api key")
	ErrInvalidCredential      = errors.New("invalid api key")
	ErrInsufficientPermission = errors.New("insufficient permission")
	ErrRateLimited            = errors.New("rate limit exceeded")
	ErrModelNotFound          = errors.New("model not found or inactive")
	ErrAllProvidersFailed     = errors.New("all provider candidates failed")
	ErrUpstreamTimeout        = errors.New("upstream timeout")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrBadRequest             = errors.New("bad request")
)
