package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrLockHeld            = errors.New("lock already held")
	ErrNoEligibleVaults    = errors.New("no eligible vaults")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrCustodyRejected     = errors.New("custody rejected transaction")
	ErrCustodyUnavailable  = errors.New("custody service unavailable")
	ErrAlreadyExecuting    = errors.New("opportunity already executing")
)
