package saliency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"sparsescan/pkg/models"
)

// createTestImage builds a rows x cols image from a pattern function.
func createTestImage(rows, cols int, pattern func(i, j int) float64) *mat.Dense {
	img := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			img.Set(i, j, pattern(i, j))
		}
	}
	return img
}

func verticalStep(i, j int) float64 {
	if j >= 3 {
		return 1
	}
	return 0
}

func TestParseOperator(t *testing.T) {
	op, err := ParseOperator("Sobel")
	require.NoError(t, err)
	assert.Equal(t, Sobel, op)

	op, err = ParseOperator("")
	require.NoError(t, err)
	assert.Equal(t, Gradient, op)

	_, err = ParseOperator("canny")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestNewMapRejectsUnknownOperator(t *testing.T) {
	_, err := NewMap(Operator(7))
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestComputeFlatImageIsZero(t *testing.T) {
	img := createTestImage(5, 7, func(i, j int) float64 { return 42 })

	for _, op := range []Operator{Gradient, Sobel} {
		m, err := NewMap(op)
		require.NoError(t, err)

		sal := m.Compute(img)
		r, c := sal.Dims()
		assert.Equal(t, 5, r)
		assert.Equal(t, 7, c)
		assert.Equal(t, 0.0, mat.Max(sal), "operator %v", op)
		assert.Equal(t, 0.0, mat.Min(sal), "operator %v", op)
	}
}

// A vertical step between columns 2 and 3 gives full saliency on exactly
// those two columns for both operators.
func TestComputeVerticalStep(t *testing.T) {
	img := createTestImage(6, 6, verticalStep)

	for _, op := range []Operator{Gradient, Sobel} {
		m, err := NewMap(op)
		require.NoError(t, err)
		sal := m.Compute(img)

		for i := 0; i < 6; i++ {
			for j := 0; j < 6; j++ {
				want := 0.0
				if j == 2 || j == 3 {
					want = 1.0
				}
				assert.InDelta(t, want, sal.At(i, j), 1e-12, "operator %v at (%d,%d)", op, i, j)
			}
		}
	}
}

func TestComputeIsNormalized(t *testing.T) {
	img := createTestImage(8, 9, func(i, j int) float64 { return float64(i*i) + 3*float64(j) })
	m, err := NewMap(Gradient)
	require.NoError(t, err)
	sal := m.Compute(img)

	assert.InDelta(t, 1.0, mat.Max(sal), 1e-12)
	assert.GreaterOrEqual(t, mat.Min(sal), 0.0)
}

func TestComputeDoesNotModifyInput(t *testing.T) {
	img := createTestImage(4, 4, func(i, j int) float64 { return float64(i + j) })
	orig := mat.DenseCopyOf(img)

	m, err := NewMap(Gradient)
	require.NoError(t, err)
	m.Compute(img)
	assert.True(t, mat.Equal(orig, img))
}

func TestComputeSinglePixel(t *testing.T) {
	img := mat.NewDense(1, 1, []float64{3})
	for _, op := range []Operator{Gradient, Sobel} {
		m, err := NewMap(op)
		require.NoError(t, err)
		assert.Equal(t, 0.0, m.Compute(img).At(0, 0))
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	img := createTestImage(10, 10, func(i, j int) float64 { return float64((i*7 + j*13) % 5) })
	m, err := NewMap(Sobel)
	require.NoError(t, err)
	assert.True(t, mat.Equal(m.Compute(img), m.Compute(img)))
}
