package models

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Coord is a pixel position, Row along y and Col along x.
type Coord struct {
	Row int
	Col int
}

// Record describes one selected pixel.
type Record struct {
	Coord

	// Channel is the mass channel the pixel was selected in; always 0 for SEM
	Channel int

	// Interest is the normalized saliency at the pixel
	Interest float64

	// DwellIndex points into the feature set's dwell-time list
	DwellIndex int

	// DwellTime is the dwell time at DwellIndex, kept for convenience
	DwellTime float64
}

// FeatureSet is the immutable result of a sampling run: one record per
// selected pixel plus the source image size. Records are never exposed by
// reference; accessors return copies.
type FeatureSet struct {
	records         []Record
	height          int
	width           int
	sparsityPercent float64
	dwellTimes      []float64
}

// NewFeatureSet validates records against the image size and dwell-time
// set and takes ownership of copies of both slices.
//
// A non-empty set must contain at least one record with positive interest,
// otherwise ErrDegenerateInput is returned.
func NewFeatureSet(records []Record, height, width int, sparsityPercent float64, dwellTimes []float64) (*FeatureSet, error) {
	if height <= 0 || width <= 0 {
		return nil, errors.Wrapf(ErrValidation, "invalid image size %dx%d", height, width)
	}
	if err := ValidateSparsity(sparsityPercent); err != nil {
		return nil, err
	}
	if err := ValidateDwellTimes(dwellTimes); err != nil {
		return nil, err
	}

	type key struct{ channel, row, col int }
	seen := make(map[key]struct{}, len(records))
	positive := false
	for i, r := range records {
		if r.Row < 0 || r.Row >= height || r.Col < 0 || r.Col >= width {
			return nil, errors.Wrapf(ErrValidation, "record %d at (%d,%d) outside %dx%d image", i, r.Row, r.Col, height, width)
		}
		k := key{r.Channel, r.Row, r.Col}
		if _, dup := seen[k]; dup {
			return nil, errors.Wrapf(ErrValidation, "pixel (%d,%d) selected twice in channel %d", r.Row, r.Col, r.Channel)
		}
		seen[k] = struct{}{}

		if math.IsNaN(r.Interest) || r.Interest < 0 {
			return nil, errors.Wrapf(ErrValidation, "record %d has illegal interest %v", i, r.Interest)
		}
		if r.Interest > 0 {
			positive = true
		}
		if r.DwellIndex < 0 || r.DwellIndex >= len(dwellTimes) {
			return nil, errors.Wrapf(ErrValidation, "record %d has dwell index %d outside [0,%d)", i, r.DwellIndex, len(dwellTimes))
		}
		if r.DwellTime != dwellTimes[r.DwellIndex] {
			return nil, errors.Wrapf(ErrValidation, "record %d dwell time %v does not match set value %v", i, r.DwellTime, dwellTimes[r.DwellIndex])
		}
	}
	if len(records) > 0 && !positive {
		return nil, errors.Wrap(ErrDegenerateInput, "useless image, no edges present")
	}

	return &FeatureSet{
		records:         append([]Record(nil), records...),
		height:          height,
		width:           width,
		sparsityPercent: sparsityPercent,
		dwellTimes:      append([]float64(nil), dwellTimes...),
	}, nil
}

// Len returns the number of records.
func (fs *FeatureSet) Len() int { return len(fs.records) }

// Dims returns the source image height and width.
func (fs *FeatureSet) Dims() (height, width int) { return fs.height, fs.width }

// SparsityPercent returns the sparsity the set was built with.
func (fs *FeatureSet) SparsityPercent() float64 { return fs.sparsityPercent }

// Records returns a copy of the records in selection order.
func (fs *FeatureSet) Records() []Record {
	return append([]Record(nil), fs.records...)
}

// Record returns the i-th record.
func (fs *FeatureSet) Record(i int) Record { return fs.records[i] }

// DwellTimes returns a copy of the dwell-time set records index into.
func (fs *FeatureSet) DwellTimes() []float64 {
	return append([]float64(nil), fs.dwellTimes...)
}

// Interests returns the interest values in record order.
func (fs *FeatureSet) Interests() []float64 {
	out := make([]float64, len(fs.records))
	for i, r := range fs.records {
		out[i] = r.Interest
	}
	return out
}

// Mask returns a height x width matrix holding each selected pixel's
// interest and zero elsewhere. A pixel selected in several channels keeps
// its largest interest.
func (fs *FeatureSet) Mask() *mat.Dense {
	m := mat.NewDense(fs.height, fs.width, nil)
	for _, r := range fs.records {
		if r.Interest > m.At(r.Row, r.Col) {
			m.Set(r.Row, r.Col, r.Interest)
		}
	}
	return m
}
