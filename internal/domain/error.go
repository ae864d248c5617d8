package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidStatus      = errors.New("invalid job status")
	ErrJobTerminal        = errors.New("job already in a terminal state")
	ErrActiveJobExists    = errors.New("workspace already has an active research job")
	ErrRecoveryInFlight   = errors.New("a recovery for this job is already in flight")
	ErrEngineUnavailable  = errors.New("workflow engine dispatch failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid executor context passed to repository")
)
