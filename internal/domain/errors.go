package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrValidation      = errors.New("validation failed")
	ErrStateConflict   = errors.New("invalid state for transition")
	ErrCapacity        = errors.New("session is full")
	ErrVersionConflict = errors.New("state version conflict")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrLockHeld        = errors.New("lock already held")
)
