// Package dwell maps selected pixels' interest values onto the discrete
// set of dwell times a scanning instrument supports.
package dwell

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"sparsescan/pkg/models"
)

// Assigner quantizes interests to a fixed dwell-time set.
type Assigner struct {
	dwellTimes []float64
	minDT      float64
	maxDT      float64
}

// NewAssigner validates the dwell-time set and builds an assigner for it.
// The set may be given in any order and may contain duplicates.
func NewAssigner(dwellTimes []float64) (*Assigner, error) {
	if err := models.ValidateDwellTimes(dwellTimes); err != nil {
		return nil, err
	}
	dts := append([]float64(nil), dwellTimes...)
	return &Assigner{
		dwellTimes: dts,
		minDT:      floats.Min(dts),
		maxDT:      floats.Max(dts),
	}, nil
}

// DwellTimes returns a copy of the dwell-time set.
func (a *Assigner) DwellTimes() []float64 {
	return append([]float64(nil), a.dwellTimes...)
}

// Assign returns, for each interest, the index of its dwell time.
//
// Interests are min-max normalized over the given values (not the whole
// image), rescaled linearly onto [min, max] of the dwell-time set and
// snapped to the nearest member. When every interest is equal the
// normalization is undefined and all pixels get the largest dwell time.
func (a *Assigner) Assign(interests []float64) []int {
	out := make([]int, len(interests))
	if len(interests) == 0 {
		return out
	}

	lo, hi := floats.Min(interests), floats.Max(interests)
	span := hi - lo
	for i, v := range interests {
		norm := 1.0
		if span > 0 {
			norm = (v - lo) / span
		}
		out[i] = a.Nearest(a.minDT + norm*(a.maxDT-a.minDT))
	}
	return out
}

// Nearest returns the index of the dwell time closest to v. Equidistant
// candidates resolve to the smaller value, equal values to the lower index.
func (a *Assigner) Nearest(v float64) int {
	best := 0
	bestDist := math.Abs(a.dwellTimes[0] - v)
	for i := 1; i < len(a.dwellTimes); i++ {
		dt := a.dwellTimes[i]
		d := math.Abs(dt - v)
		if d < bestDist || (d == bestDist && dt < a.dwellTimes[best]) {
			best, bestDist = i, d
		}
	}
	return best
}

// Assign is a convenience wrapper building a one-off Assigner.
func Assign(interests, dwellTimes []float64) ([]int, error) {
	a, err := NewAssigner(dwellTimes)
	if err != nil {
		return nil, err
	}
	return a.Assign(interests), nil
}
