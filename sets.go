package statsite

// Set estimates the number of distinct string members seen for a metric.
type Set struct {
	Estimator CardinalityEstimator
}

// NewSet initialises a set backed by the given estimator.
func NewSet(estimator CardinalityEstimator) *Set {
	return &Set{Estimator: estimator}
}

// Add folds a member into the set.
func (s *Set) Add(member string) {
	s.Estimator.Add([]byte(member))
}

// Cardinality returns the estimated number of distinct members.
func (s *Set) Cardinality() uint64 {
	return s.Estimator.Cardinality()
}
