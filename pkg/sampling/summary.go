package sampling

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"sparsescan/pkg/models"
)

// Summary describes a feature set for reporting.
type Summary struct {
	Records int

	// DwellCounts[i] is the number of records assigned DwellTimes[i]
	DwellTimes  []float64
	DwellCounts []int

	MinInterest  float64
	MaxInterest  float64
	MeanInterest float64
	StdInterest  float64

	// TotalDwell is the summed dwell time of all records, the acquisition
	// time the plan will take excluding beam travel
	TotalDwell float64
}

// Summarize computes record counts per dwell time and interest statistics.
// An empty feature set has nothing to summarize and is rejected.
func Summarize(fs *models.FeatureSet) (Summary, error) {
	if fs == nil || fs.Len() == 0 {
		return Summary{}, errors.Wrap(models.ErrValidation, "empty dwell-times feature vector")
	}

	dts := fs.DwellTimes()
	sum := Summary{
		Records:     fs.Len(),
		DwellTimes:  dts,
		DwellCounts: make([]int, len(dts)),
	}
	for _, r := range fs.Records() {
		sum.DwellCounts[r.DwellIndex]++
		sum.TotalDwell += r.DwellTime
	}

	interests := fs.Interests()
	sum.MinInterest = floats.Min(interests)
	sum.MaxInterest = floats.Max(interests)
	sum.MeanInterest, sum.StdInterest = stat.PopMeanStdDev(interests, nil)
	return sum, nil
}

// DwellHistogram bins the assigned dwell times into bins equal-width
// bins spanning their range; the last bin is closed on the right. It
// returns the counts and the bins+1 bin edges.
func DwellHistogram(fs *models.FeatureSet, bins int) (counts, edges []float64, err error) {
	if fs == nil || fs.Len() == 0 {
		return nil, nil, errors.Wrap(models.ErrValidation, "empty dwell-times feature vector")
	}
	if bins < 1 {
		return nil, nil, errors.Wrapf(models.ErrValidation, "bin count %d must be positive", bins)
	}

	values := make([]float64, fs.Len())
	for i, r := range fs.Records() {
		values[i] = r.DwellTime
	}
	lo, hi := floats.Min(values), floats.Max(values)
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}

	edges = make([]float64, bins+1)
	floats.Span(edges, lo, hi)

	// stat.Histogram bins are half-open; widen the last edge so the
	// maximum lands in the final bin.
	dividers := append([]float64(nil), edges...)
	dividers[bins] = math.Nextafter(hi, math.Inf(1))

	sort.Float64s(values)
	counts = stat.Histogram(nil, dividers, values, nil)
	return counts, edges, nil
}
