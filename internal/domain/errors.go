package domain

import "errors"

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrNoEligibleWorker   = errors.New("no eligible worker")
	ErrInsufficientKudos  = errors.New("insufficient kudos")
	ErrUnknownUser        = errors.New("unknown user")
	ErrAnonymousForbidden = errors.New("anonymous forbidden")
	ErrSelfTransfer       = errors.New("self transfer")
	ErrStaleDispatch      = errors.New("stale dispatch")
	ErrInternal           = errors.New("internal error")
)
