// Package saliency scores every pixel of an intensity image by local edge
// strength. The score is a gradient magnitude normalized by the image-wide
// maximum, so values lie in [0,1], or are all zero for a flat image.
package saliency

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"sparsescan/pkg/models"
)

// Operator selects how directional derivatives are estimated.
type Operator int

const (
	// Gradient uses central finite differences in the interior and
	// one-sided differences on the borders.
	Gradient Operator = iota
	// Sobel convolves with the fixed 3x3 Sobel kernels, replicating
	// border pixels.
	Sobel
)

func (o Operator) String() string {
	switch o {
	case Gradient:
		return "gradient"
	case Sobel:
		return "sobel"
	default:
		return "unknown"
	}
}

// ParseOperator maps a configuration token to an Operator.
func ParseOperator(s string) (Operator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "gradient":
		return Gradient, nil
	case "sobel":
		return Sobel, nil
	default:
		return 0, errors.Wrapf(models.ErrValidation, "unknown edge operator %q", s)
	}
}

// Map computes saliency images with a fixed operator.
type Map struct {
	operator Operator
}

// NewMap creates a saliency map for the given operator.
func NewMap(op Operator) (*Map, error) {
	if op != Gradient && op != Sobel {
		return nil, errors.Wrapf(models.ErrValidation, "unknown edge operator %d", int(op))
	}
	return &Map{operator: op}, nil
}

// Operator reports the operator the map applies.
func (m *Map) Operator() Operator { return m.operator }

// Compute returns the normalized gradient magnitude of img. The input is
// not modified. If the largest magnitude is zero the zero image is
// returned as is.
func (m *Map) Compute(img mat.Matrix) *mat.Dense {
	var gx, gy *mat.Dense
	switch m.operator {
	case Sobel:
		gx, gy = sobel(img)
	default:
		gx, gy = finiteDifferences(img)
	}

	rows, cols := img.Dims()
	mag := mat.NewDense(rows, cols, nil)
	mag.Apply(func(i, j int, _ float64) float64 {
		return math.Hypot(gx.At(i, j), gy.At(i, j))
	}, mag)

	maxMag := mat.Max(mag)
	if maxMag > 0 {
		mag.Scale(1/maxMag, mag)
	}
	return mag
}

// finiteDifferences estimates d/dx (along columns) and d/dy (along rows).
// An axis of length one has zero derivative.
func finiteDifferences(img mat.Matrix) (gx, gy *mat.Dense) {
	rows, cols := img.Dims()
	gx = mat.NewDense(rows, cols, nil)
	gy = mat.NewDense(rows, cols, nil)

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			gx.Set(i, j, axisDiff(cols, j, func(k int) float64 { return img.At(i, k) }))
			gy.Set(i, j, axisDiff(rows, i, func(k int) float64 { return img.At(k, j) }))
		}
	}
	return gx, gy
}

func axisDiff(n, k int, at func(int) float64) float64 {
	switch {
	case n < 2:
		return 0
	case k == 0:
		return at(1) - at(0)
	case k == n-1:
		return at(n-1) - at(n-2)
	default:
		return (at(k+1) - at(k-1)) / 2
	}
}

var (
	sobelX = [3][3]float64{{-1, 0, 1}, {-2, 0, 2}, {-1, 0, 1}}
	sobelY = [3][3]float64{{-1, -2, -1}, {0, 0, 0}, {1, 2, 1}}
)

// sobel applies the 3x3 Sobel kernels with replicated borders.
func sobel(img mat.Matrix) (gx, gy *mat.Dense) {
	rows, cols := img.Dims()
	gx = mat.NewDense(rows, cols, nil)
	gy = mat.NewDense(rows, cols, nil)

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			var sx, sy float64
			for di := -1; di <= 1; di++ {
				for dj := -1; dj <= 1; dj++ {
					v := img.At(clamp(i+di, rows), clamp(j+dj, cols))
					sx += sobelX[di+1][dj+1] * v
					sy += sobelY[di+1][dj+1] * v
				}
			}
			gx.Set(i, j, sx)
			gy.Set(i, j, sy)
		}
	}
	return gx, gy
}

func clamp(k, n int) int {
	if k < 0 {
		return 0
	}
	if k >= n {
		return n - 1
	}
	return k
}
