package ai

import "errors"

var (
	// ErrDimensionMismatch indicates the service returned a vector whose
	// dimensionality differs from the configured expectation. This is a
	// fatal configuration error and must not be retried.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
