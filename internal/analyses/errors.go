package analyses

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidKey   = errors.New("invalid key")
	ErrPlanRequired = errors.New("plan is required")

	// ErrInFlight is returned by Repo.StartSession when the lifecycle already has a live session.
	ErrInFlight = errors.New("lifecycle already in flight")
	// ErrNoActiveSession is returned by Repo.UpdateLifecycle when the session no longer owns the lifecycle.
	ErrNoActiveSession = errors.New("session no longer owns lifecycle")
)

const (
	ErrorCodeValidation = "validation_error"
	ErrorCodeNotFound   = "not_found"
	ErrorCodeUpstream   = "upstream_error"
	ErrorCodeStorage    = "storage_error"
	ErrorCodeInternal   = "internal_error"
)
