// Package sampling runs the sparse sampling pipeline: saliency scoring,
// budgeted pixel selection and dwell-time assignment, producing one
// immutable FeatureSet per reference image.
//
// SEM images go through the pipeline once. SIMS images are scored and
// selected per mass channel, the selections are concatenated, and dwell
// times are assigned once over all accumulated interests.
package sampling

import (
	"context"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"sparsescan/pkg/dwell"
	"sparsescan/pkg/logger"
	"sparsescan/pkg/metrics"
	"sparsescan/pkg/models"
	"sparsescan/pkg/saliency"
	"sparsescan/pkg/scanpath"
	"sparsescan/pkg/selection"
)

// Params holds the sampling parameters.
type Params struct {
	// SparsityPercent is the share of pixels selected, inclusive 0..100
	SparsityPercent float64

	// DwellTimes is the set of dwell times the instrument supports
	DwellTimes []float64

	// Operator is the edge operator used for saliency
	Operator saliency.Operator

	// NumWorkers bounds how many SIMS channels are processed at once.
	// Zero or less means one per CPU.
	NumWorkers int
}

// Sampler turns reference images into feature sets. It holds no mutable
// state and is safe for concurrent use.
type Sampler struct {
	params   Params
	saliency *saliency.Map
	assigner *dwell.Assigner
	log      logger.Logger
	metrics  *metrics.Manager
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithLogger sets the logger; the default discards output.
func WithLogger(l logger.Logger) Option {
	return func(s *Sampler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records run metrics on m.
func WithMetrics(m *metrics.Manager) Option {
	return func(s *Sampler) {
		s.metrics = m
	}
}

// NewSampler validates params and creates a sampler. All argument errors
// surface here, before any image is touched.
func NewSampler(params Params, opts ...Option) (*Sampler, error) {
	if err := models.ValidateSparsity(params.SparsityPercent); err != nil {
		return nil, err
	}
	assigner, err := dwell.NewAssigner(params.DwellTimes)
	if err != nil {
		return nil, err
	}
	sal, err := saliency.NewMap(params.Operator)
	if err != nil {
		return nil, err
	}
	if params.NumWorkers <= 0 {
		params.NumWorkers = runtime.NumCPU()
	}
	params.DwellTimes = assigner.DwellTimes()

	s := &Sampler{
		params:   params,
		saliency: sal,
		assigner: assigner,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Params returns a copy of the sampler's parameters.
func (s *Sampler) Params() Params {
	p := s.params
	p.DwellTimes = append([]float64(nil), s.params.DwellTimes...)
	return p
}

// channelSelection is the selection made in one channel.
type channelSelection struct {
	coords    []models.Coord
	interests []float64
}

// Extract runs the pipeline on img. It either returns a complete feature
// set or an error; nothing partial escapes.
func (s *Sampler) Extract(ctx context.Context, img models.Image) (*models.FeatureSet, error) {
	start := time.Now()
	fs, err := s.extract(ctx, img)
	s.metrics.RecordRun(img.Modality.String(), outcome(err), time.Since(start))
	if err != nil {
		s.log.Error(ctx, "sampling failed", logger.String("image", img.Name), logger.Error(err))
		return nil, err
	}

	height, width := fs.Dims()
	assigned := make([]float64, fs.Len())
	for i, r := range fs.Records() {
		assigned[i] = r.DwellTime
	}
	s.metrics.RecordSelection(s.params.SparsityPercent, height*width, assigned)

	s.log.Info(ctx, "sparse features extracted",
		logger.String("image", img.Name),
		logger.String("modality", img.Modality.String()),
		logger.Int("channels", len(img.Channels)),
		logger.String("operator", s.saliency.Operator().String()),
		logger.Float64("sparsity_percent", s.params.SparsityPercent),
		logger.Int("records", fs.Len()),
		logger.Any("elapsed", time.Since(start)),
	)
	return fs, nil
}

func (s *Sampler) extract(ctx context.Context, img models.Image) (*models.FeatureSet, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}

	var (
		selections []channelSelection
		err        error
	)
	switch img.Modality {
	case models.SEM:
		var sel channelSelection
		sel, err = s.selectChannel(img.Channels[0])
		selections = []channelSelection{sel}
	case models.SIMS:
		selections, err = s.selectChannels(ctx, img)
	}
	if err != nil {
		return nil, err
	}

	height, width := img.Dims()
	return s.assemble(selections, height, width)
}

// selectChannel scores one channel and picks its most salient pixels.
func (s *Sampler) selectChannel(ch *mat.Dense) (channelSelection, error) {
	start := time.Now()
	defer func() { s.metrics.RecordChannel(time.Since(start)) }()

	sal := s.saliency.Compute(ch)
	coords, err := selection.Select(sal, s.params.SparsityPercent)
	if err != nil {
		return channelSelection{}, err
	}
	interests, err := selection.Interests(sal, coords)
	if err != nil {
		return channelSelection{}, err
	}
	return channelSelection{coords: coords, interests: interests}, nil
}

// selectChannels processes SIMS channels on a bounded worker pool. Each
// result is stored by channel index so the outcome does not depend on
// scheduling.
func (s *Sampler) selectChannels(ctx context.Context, img models.Image) ([]channelSelection, error) {
	results := make([]channelSelection, len(img.Channels))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.params.NumWorkers)
	for c, ch := range img.Channels {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sel, err := s.selectChannel(ch)
			if err != nil {
				return errors.Wrapf(err, "channel %d", c)
			}
			if len(sel.interests) > 0 && floats.Max(sel.interests) == 0 {
				s.log.Warn(gctx, "channel has no edges", logger.String("image", img.Name), logger.Int("channel", c))
			}
			s.log.Debug(gctx, "channel selected", logger.Int("channel", c), logger.Int("pixels", len(sel.coords)))
			results[c] = sel
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// assemble concatenates per-channel selections, assigns dwell times once
// over every accumulated interest and builds the feature set.
func (s *Sampler) assemble(selections []channelSelection, height, width int) (*models.FeatureSet, error) {
	var interests []float64
	for _, sel := range selections {
		interests = append(interests, sel.interests...)
	}
	if len(interests) > 0 && floats.Max(interests) == 0 {
		return nil, errors.Wrap(models.ErrDegenerateInput, "useless image, no edges present")
	}

	indices := s.assigner.Assign(interests)
	records := make([]models.Record, 0, len(interests))
	k := 0
	for c, sel := range selections {
		for i, coord := range sel.coords {
			idx := indices[k]
			records = append(records, models.Record{
				Coord:      coord,
				Channel:    c,
				Interest:   sel.interests[i],
				DwellIndex: idx,
				DwellTime:  s.params.DwellTimes[idx],
			})
			k++
		}
	}
	return models.NewFeatureSet(records, height, width, s.params.SparsityPercent, s.params.DwellTimes)
}

// GenerateScanPattern extracts features from a single-channel image and
// orders them by policy.
func (s *Sampler) GenerateScanPattern(ctx context.Context, img models.Image, policy scanpath.Policy) (scanpath.Plan, *models.FeatureSet, error) {
	if img.Modality != models.SEM {
		return scanpath.Plan{}, nil, errors.Wrapf(models.ErrValidation, "scan patterns need a SEM image, got %s", img.Modality)
	}
	if !policy.Valid() {
		return scanpath.Plan{}, nil, errors.Wrapf(models.ErrValidation, "invalid scan type %d", int(policy))
	}
	fs, err := s.Extract(ctx, img)
	if err != nil {
		return scanpath.Plan{}, nil, err
	}
	plan, err := scanpath.Generate(fs, policy)
	if err != nil {
		return scanpath.Plan{}, nil, err
	}
	return plan, fs, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, models.ErrValidation):
		return metrics.OutcomeInvalid
	case errors.Is(err, models.ErrDegenerateInput):
		return metrics.OutcomeDegenerate
	default:
		return metrics.OutcomeError
	}
}
