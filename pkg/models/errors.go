package models

import "github.com/pkg/errors"

// Error taxonomy shared by every stage of the sampling pipeline. Callers
// match on these with errors.Is; the wrapped message carries the detail.
var (
	// ErrValidation is returned when an argument is rejected before any
	// computation starts: sparsity outside [0,100], an empty or negative
	// dwell-time set, an unknown scan policy or an out-of-bounds coordinate.
	ErrValidation = errors.New("validation failed")

	// ErrDegenerateInput is returned when an image has no exploitable
	// structure, i.e. every selected pixel has zero saliency.
	ErrDegenerateInput = errors.New("degenerate input")
)
