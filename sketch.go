package statsite

import (
	"github.com/axiomhq/hyperloglog"
	"github.com/beorn7/perks/quantile"
)

// QuantileSketch is the contract for the streaming quantile estimator used
// by timers. Any implementation with a bounded rank error is acceptable.
type QuantileSketch interface {
	// Add folds a new observation into the sketch.
	Add(v float64)
	// Query returns an estimate of the q-quantile (0 <= q <= 1).
	Query(q float64) float64
}

// CardinalityEstimator is the contract for the probabilistic set counter.
type CardinalityEstimator interface {
	// Add folds a member into the set.
	Add(member []byte)
	// Cardinality returns the estimated number of distinct members.
	Cardinality() uint64
}

// QuantileSketchFactory builds an empty sketch for a fresh timer.
type QuantileSketchFactory func() QuantileSketch

// CardinalityEstimatorFactory builds an empty estimator for a fresh set.
type CardinalityEstimatorFactory func() CardinalityEstimator

// ckmsSketch adapts the CKMS targeted-quantile stream from beorn7/perks.
type ckmsSketch struct {
	stream *quantile.Stream
}

// NewCKMSSketchFactory returns a factory producing CKMS sketches tracking
// the given quantiles with error bound eps.
func NewCKMSSketchFactory(eps float64, quantiles []float64) QuantileSketchFactory {
	targets := make(map[float64]float64, len(quantiles))
	for _, q := range quantiles {
		targets[q] = eps
	}
	return func() QuantileSketch {
		return &ckmsSketch{stream: quantile.NewTargeted(targets)}
	}
}

func (s *ckmsSketch) Add(v float64) {
	s.stream.Insert(v)
}

func (s *ckmsSketch) Query(q float64) float64 {
	if s.stream.Count() == 0 {
		return 0
	}
	return s.stream.Query(q)
}

// hllEstimator adapts the axiomhq HyperLogLog sketch.
type hllEstimator struct {
	sketch *hyperloglog.Sketch
}

// NewHLLEstimatorFactory returns a factory producing HyperLogLog estimators
// with the given precision (4..18).
func NewHLLEstimatorFactory(precision uint8) (CardinalityEstimatorFactory, error) {
	// Validate the precision up front so a bad config fails at load time,
	// not on first sample.
	if _, err := hyperloglog.NewSketch(precision, true); err != nil {
		return nil, err
	}
	return func() CardinalityEstimator {
		sketch, _ := hyperloglog.NewSketch(precision, true)
		return &hllEstimator{sketch: sketch}
	}, nil
}

func (e *hllEstimator) Add(member []byte) {
	e.sketch.Insert(member)
}

func (e *hllEstimator) Cardinality() uint64 {
	return e.sketch.Estimate()
}
