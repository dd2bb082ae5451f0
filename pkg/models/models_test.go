package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestSampleSize(t *testing.T) {
	assert.Equal(t, 4, SampleSize(4, 4, 25))
	assert.Equal(t, 0, SampleSize(4, 4, 0))
	assert.Equal(t, 16, SampleSize(4, 4, 100))
	assert.Equal(t, 1, SampleSize(3, 3, 15))
}

func TestValidateSparsity(t *testing.T) {
	assert.NoError(t, ValidateSparsity(0))
	assert.NoError(t, ValidateSparsity(100))
	assert.ErrorIs(t, ValidateSparsity(-1), ErrValidation)
	assert.ErrorIs(t, ValidateSparsity(101), ErrValidation)
	assert.ErrorIs(t, ValidateSparsity(math.NaN()), ErrValidation)
}

func TestValidateDwellTimes(t *testing.T) {
	assert.NoError(t, ValidateDwellTimes([]float64{0, 10}))
	assert.ErrorIs(t, ValidateDwellTimes(nil), ErrValidation)
	assert.ErrorIs(t, ValidateDwellTimes([]float64{10, -5}), ErrValidation)
	assert.ErrorIs(t, ValidateDwellTimes([]float64{math.Inf(1)}), ErrValidation)
}

func TestImageValidate(t *testing.T) {
	a := mat.NewDense(3, 4, nil)
	b := mat.NewDense(3, 4, nil)
	c := mat.NewDense(4, 3, nil)

	img, err := NewSEMImage(a, 10)
	require.NoError(t, err)
	h, w := img.Dims()
	assert.Equal(t, 3, h)
	assert.Equal(t, 4, w)

	_, err = NewSIMSImage([]*mat.Dense{a, b}, 10)
	assert.NoError(t, err)

	_, err = NewSIMSImage([]*mat.Dense{a, c}, 10)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewSIMSImage(nil, 10)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewSEMImage(nil, 10)
	assert.ErrorIs(t, err, ErrValidation)

	bad := mat.NewDense(1, 2, []float64{1, math.NaN()})
	_, err = NewSEMImage(bad, 10)
	assert.ErrorIs(t, err, ErrValidation)

	err = Image{Modality: Modality(9), Channels: []*mat.Dense{a}}.Validate()
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewFeatureSetInvariants(t *testing.T) {
	dts := []float64{10, 50}
	rec := func(row, col, ch int, interest float64, idx int) Record {
		return Record{Coord: Coord{Row: row, Col: col}, Channel: ch, Interest: interest, DwellIndex: idx, DwellTime: dts[idx]}
	}

	fs, err := NewFeatureSet([]Record{rec(0, 0, 0, 0.5, 0), rec(1, 1, 0, 1, 1)}, 2, 2, 50, dts)
	require.NoError(t, err)
	assert.Equal(t, 2, fs.Len())
	assert.Equal(t, []float64{0.5, 1}, fs.Interests())

	_, err = NewFeatureSet([]Record{rec(2, 0, 0, 0.5, 0)}, 2, 2, 25, dts)
	assert.ErrorIs(t, err, ErrValidation, "out of bounds")

	_, err = NewFeatureSet([]Record{rec(0, 0, 0, 0.5, 0), rec(0, 0, 0, 0.7, 1)}, 2, 2, 50, dts)
	assert.ErrorIs(t, err, ErrValidation, "duplicate")

	_, err = NewFeatureSet([]Record{rec(0, 0, 0, 0.5, 0), rec(0, 0, 1, 0.7, 1)}, 2, 2, 50, dts)
	assert.NoError(t, err, "same pixel in two channels")

	_, err = NewFeatureSet([]Record{rec(0, 0, 0, 0, 0), rec(0, 1, 0, 0, 1)}, 2, 2, 50, dts)
	assert.ErrorIs(t, err, ErrDegenerateInput)

	wrong := rec(0, 0, 0, 0.5, 0)
	wrong.DwellTime = 20
	_, err = NewFeatureSet([]Record{wrong}, 2, 2, 25, dts)
	assert.ErrorIs(t, err, ErrValidation, "dwell time outside set")

	_, err = NewFeatureSet(nil, 2, 2, 120, dts)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestFeatureSetIsImmutable(t *testing.T) {
	dts := []float64{10}
	records := []Record{{Coord: Coord{Row: 0, Col: 1}, Interest: 1, DwellTime: 10}}
	fs, err := NewFeatureSet(records, 1, 2, 50, dts)
	require.NoError(t, err)

	records[0].Interest = 0.1
	dts[0] = 99
	got := fs.Records()
	got[0].Interest = 5

	assert.Equal(t, 1.0, fs.Record(0).Interest)
	assert.Equal(t, []float64{10}, fs.DwellTimes())
}

func TestMask(t *testing.T) {
	dts := []float64{10}
	records := []Record{
		{Coord: Coord{Row: 0, Col: 1}, Interest: 0.4, DwellTime: 10},
		{Coord: Coord{Row: 0, Col: 1}, Channel: 1, Interest: 0.9, DwellTime: 10},
		{Coord: Coord{Row: 1, Col: 0}, Interest: 0.2, DwellTime: 10},
	}
	fs, err := NewFeatureSet(records, 2, 2, 50, dts)
	require.NoError(t, err)

	want := mat.NewDense(2, 2, []float64{0, 0.9, 0.2, 0})
	assert.True(t, mat.Equal(want, fs.Mask()))
}
