package models

import (
	"math"

	"github.com/pkg/errors"
)

// ValidateSparsity checks that a sparsity percentage lies in [0,100].
func ValidateSparsity(percent float64) error {
	if math.IsNaN(percent) || percent < 0 || percent > 100 {
		return errors.Wrapf(ErrValidation, "illegal sparsity percentage %v", percent)
	}
	return nil
}

// ValidateDwellTimes checks that a dwell-time set is non-empty and holds
// only finite, non-negative values.
func ValidateDwellTimes(dwellTimes []float64) error {
	if len(dwellTimes) == 0 {
		return errors.Wrap(ErrValidation, "empty dwell-time set")
	}
	for i, dt := range dwellTimes {
		if math.IsNaN(dt) || math.IsInf(dt, 0) || dt < 0 {
			return errors.Wrapf(ErrValidation, "illegal dwell-time %v at index %d", dt, i)
		}
	}
	return nil
}

// SampleSize returns the number of pixels selected from a height x width
// image at the given sparsity, floor(height*width*percent/100).
func SampleSize(height, width int, percent float64) int {
	return int(float64(height*width) * percent / 100)
}
