package domain

import "errors"

// Sentinel errors used across layers.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidMedia    = errors.New("invalid media encoding")
)
