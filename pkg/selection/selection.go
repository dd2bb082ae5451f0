// Package selection picks the most salient pixels of a saliency image
// under a hard sample-count budget.
package selection

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"sparsescan/pkg/models"
)

// Select returns the coordinates of the floor(h*w*percent/100) most
// salient pixels, in row-major order.
//
// The threshold is the k-th largest saliency value. Every pixel strictly
// above it is taken and the remaining slots are filled with pixels equal
// to the threshold, first come first served in row-major order, so the
// result always has exactly k entries.
func Select(saliency mat.Matrix, percent float64) ([]models.Coord, error) {
	if err := models.ValidateSparsity(percent); err != nil {
		return nil, err
	}

	rows, cols := saliency.Dims()
	k := models.SampleSize(rows, cols, percent)
	if k == 0 {
		return []models.Coord{}, nil
	}

	values := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			values = append(values, saliency.At(i, j))
		}
	}

	threshold := kthLargest(append([]float64(nil), values...), k)

	above := 0
	for _, v := range values {
		if v > threshold {
			above++
		}
	}
	ties := k - above

	coords := make([]models.Coord, 0, k)
	for idx, v := range values {
		switch {
		case v > threshold:
		case v == threshold && ties > 0:
			ties--
		default:
			continue
		}
		coords = append(coords, models.Coord{Row: idx / cols, Col: idx % cols})
	}
	return coords, nil
}

// Interests returns the saliency value at each coordinate. A coordinate
// outside the image is a validation error.
func Interests(saliency mat.Matrix, coords []models.Coord) ([]float64, error) {
	rows, cols := saliency.Dims()
	out := make([]float64, len(coords))
	for i, c := range coords {
		if c.Row < 0 || c.Row >= rows || c.Col < 0 || c.Col >= cols {
			return nil, errors.Wrapf(models.ErrValidation, "index (%d,%d) out of range for %dx%d image", c.Row, c.Col, rows, cols)
		}
		out[i] = saliency.At(c.Row, c.Col)
	}
	return out, nil
}

// kthLargest returns the k-th largest element (1-based) of data using an
// iterative three-way quickselect. data is reordered in place.
func kthLargest(data []float64, k int) float64 {
	target := len(data) - k
	lo, hi := 0, len(data)-1
	for lo < hi {
		pivot := medianOfThree(data[lo], data[lo+(hi-lo)/2], data[hi])

		// data[lo:lt] < pivot, data[lt:i] == pivot, data[gt+1:hi+1] > pivot
		lt, i, gt := lo, lo, hi
		for i <= gt {
			switch {
			case data[i] < pivot:
				data[lt], data[i] = data[i], data[lt]
				lt++
				i++
			case data[i] > pivot:
				data[i], data[gt] = data[gt], data[i]
				gt--
			default:
				i++
			}
		}

		switch {
		case target < lt:
			hi = lt - 1
		case target > gt:
			lo = gt + 1
		default:
			return pivot
		}
	}
	return data[target]
}

func medianOfThree(a, b, c float64) float64 {
	if a > b {
		a, b = b, a
	}
	if b > c {
		b = c
	}
	if a > b {
		return a
	}
	return b
}
