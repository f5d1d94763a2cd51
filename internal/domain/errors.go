package domain

import "errors"

// Failure taxonomy shared by services and the HTTP layer.
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("already exists")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrProviderConflict    = errors.New("provider: resource already exists")
	ErrProviderError       = errors.New("provider error")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrMissingCredential   = errors.New("no linked GitHub access token")
	ErrDeployTriggerFailed = errors.New("deployment trigger failed")
)
