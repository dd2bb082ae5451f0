// Package scanpath orders the records of a feature set into the sequence
// a scanning instrument visits them in.
package scanpath

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"sparsescan/pkg/models"
)

// Policy is the scan ordering policy. The set is closed.
type Policy int

const (
	// Ascending visits pixels from least to most salient.
	Ascending Policy = iota
	// Descending is the exact reverse of Ascending.
	Descending
	// GroupedRaster runs one raster pass per dwell time, shortest first.
	GroupedRaster
)

func (p Policy) String() string {
	switch p {
	case Ascending:
		return "ascending"
	case Descending:
		return "descending"
	case GroupedRaster:
		return "ascending plus raster"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the defined policies.
func (p Policy) Valid() bool {
	return p >= Ascending && p <= GroupedRaster
}

// ParsePolicy maps a policy token to a Policy. Besides the canonical
// names it accepts "grouped-raster" and "raster" for GroupedRaster.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ascending":
		return Ascending, nil
	case "descending":
		return Descending, nil
	case "ascending plus raster", "grouped-raster", "raster":
		return GroupedRaster, nil
	default:
		return 0, errors.Wrapf(models.ErrValidation, "invalid scan type %q", s)
	}
}

// Group is one raster pass of a GroupedRaster plan.
type Group struct {
	DwellIndex int
	DwellTime  float64
	Path       []models.Coord
}

// Plan is a scan plan. Path is set for Ascending and Descending, Groups
// for GroupedRaster in ascending dwell-time order.
type Plan struct {
	Policy Policy
	Path   []models.Coord
	Groups []Group
}

// Len returns the total number of points in the plan.
func (p Plan) Len() int {
	if p.Policy != GroupedRaster {
		return len(p.Path)
	}
	n := 0
	for _, g := range p.Groups {
		n += len(g.Path)
	}
	return n
}

// Coords returns every point of the plan in visiting order; for grouped
// plans the passes are concatenated.
func (p Plan) Coords() []models.Coord {
	if p.Policy != GroupedRaster {
		return append([]models.Coord(nil), p.Path...)
	}
	out := make([]models.Coord, 0, p.Len())
	for _, g := range p.Groups {
		out = append(out, g.Path...)
	}
	return out
}

// Head returns a copy of the plan keeping at most n points per path, the
// shape overlay renderers consume.
func (p Plan) Head(n int) Plan {
	if n < 0 {
		n = 0
	}
	out := Plan{Policy: p.Policy}
	if p.Policy != GroupedRaster {
		out.Path = append([]models.Coord(nil), p.Path[:min(n, len(p.Path))]...)
		return out
	}
	out.Groups = make([]Group, len(p.Groups))
	for i, g := range p.Groups {
		g.Path = append([]models.Coord(nil), g.Path[:min(n, len(g.Path))]...)
		out.Groups[i] = g
	}
	return out
}

// Generate orders fs according to policy. It has no side effects.
func Generate(fs *models.FeatureSet, policy Policy) (Plan, error) {
	if fs == nil {
		return Plan{}, errors.Wrap(models.ErrValidation, "nil feature set")
	}
	if !policy.Valid() {
		return Plan{}, errors.Wrapf(models.ErrValidation, "invalid scan type %d", int(policy))
	}
	records := fs.Records()

	switch policy {
	case Ascending:
		return Plan{Policy: policy, Path: byInterest(records)}, nil
	case Descending:
		path := byInterest(records)
		for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
			path[i], path[j] = path[j], path[i]
		}
		return Plan{Policy: policy, Path: path}, nil
	default:
		return Plan{Policy: policy, Groups: groupedRaster(records, fs.DwellTimes())}, nil
	}
}

// byInterest returns coordinates sorted by ascending interest; equal
// interests keep record order.
func byInterest(records []models.Record) []models.Coord {
	sort.SliceStable(records, func(a, b int) bool {
		return records[a].Interest < records[b].Interest
	})
	path := make([]models.Coord, len(records))
	for i, r := range records {
		path[i] = r.Coord
	}
	return path
}

// groupedRaster partitions records by dwell index and orders each group
// row-major. Groups are keyed by index, never by float equality.
func groupedRaster(records []models.Record, dwellTimes []float64) []Group {
	byIndex := make(map[int][]models.Coord)
	for _, r := range records {
		byIndex[r.DwellIndex] = append(byIndex[r.DwellIndex], r.Coord)
	}

	groups := make([]Group, 0, len(byIndex))
	for idx, path := range byIndex {
		sort.SliceStable(path, func(a, b int) bool {
			if path[a].Row != path[b].Row {
				return path[a].Row < path[b].Row
			}
			return path[a].Col < path[b].Col
		})
		groups = append(groups, Group{DwellIndex: idx, DwellTime: dwellTimes[idx], Path: path})
	}
	sort.Slice(groups, func(a, b int) bool {
		if groups[a].DwellTime != groups[b].DwellTime {
			return groups[a].DwellTime < groups[b].DwellTime
		}
		return groups[a].DwellIndex < groups[b].DwellIndex
	})
	return groups
}
