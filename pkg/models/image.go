package models

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Modality tags the kind of microscope image. It is a closed set: every
// switch over it handles SEM and SIMS and nothing else.
type Modality int

const (
	// SEM is a single-channel electron-beam image.
	SEM Modality = iota
	// SIMS is a multi-channel mass-spectrometry image, one channel per mass.
	SIMS
)

func (m Modality) String() string {
	switch m {
	case SEM:
		return "SEM"
	case SIMS:
		return "SIMS"
	default:
		return "unknown"
	}
}

// Image is a densely scanned reference image. Channels are indexed
// row-major: row i is the y axis, column j is the x axis.
type Image struct {
	// Modality selects single- or multi-channel handling
	Modality Modality

	// Channels holds the intensity planes. SEM images have exactly one.
	Channels []*mat.Dense

	// DwellTime is the dwell time the reference image was acquired with
	DwellTime float64

	// Name identifies the source, usually the file name
	Name string
}

// NewSEMImage wraps a single intensity plane.
func NewSEMImage(data *mat.Dense, dwellTime float64) (Image, error) {
	img := Image{Modality: SEM, Channels: []*mat.Dense{data}, DwellTime: dwellTime}
	if err := img.Validate(); err != nil {
		return Image{}, err
	}
	return img, nil
}

// NewSIMSImage wraps one intensity plane per mass channel.
func NewSIMSImage(channels []*mat.Dense, dwellTime float64) (Image, error) {
	img := Image{Modality: SIMS, Channels: channels, DwellTime: dwellTime}
	if err := img.Validate(); err != nil {
		return Image{}, err
	}
	return img, nil
}

// Dims returns the height and width shared by every channel.
func (img Image) Dims() (height, width int) {
	if len(img.Channels) == 0 || img.Channels[0] == nil || img.Channels[0].IsEmpty() {
		return 0, 0
	}
	return img.Channels[0].Dims()
}

// Validate checks channel cardinality against the modality, that all
// channels share one non-empty shape and that every intensity is finite.
func (img Image) Validate() error {
	switch img.Modality {
	case SEM:
		if len(img.Channels) != 1 {
			return errors.Wrapf(ErrValidation, "SEM image needs exactly one channel, got %d", len(img.Channels))
		}
	case SIMS:
		if len(img.Channels) == 0 {
			return errors.Wrap(ErrValidation, "SIMS image has no channels")
		}
	default:
		return errors.Wrapf(ErrValidation, "unknown modality %d", int(img.Modality))
	}

	var rows, cols int
	for c, ch := range img.Channels {
		if ch == nil || ch.IsEmpty() {
			return errors.Wrapf(ErrValidation, "channel %d is empty", c)
		}
		r, k := ch.Dims()
		if c == 0 {
			rows, cols = r, k
		} else if r != rows || k != cols {
			return errors.Wrapf(ErrValidation, "channel %d is %dx%d, expected %dx%d", c, r, k, rows, cols)
		}
		for i := 0; i < r; i++ {
			for j := 0; j < k; j++ {
				v := ch.At(i, j)
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return errors.Wrapf(ErrValidation, "channel %d has non-finite value at (%d,%d)", c, i, j)
				}
			}
		}
	}
	return nil
}
