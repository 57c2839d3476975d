package statsite

import (
	"fmt"

	"github.com/spf13/viper"
)

// HistogramConfig describes a fixed-grid histogram for timers whose name
// matches the associated pattern. NumBins includes the floor bucket for
// samples below Min and the ceiling bucket for samples at or above Max.
type HistogramConfig struct {
	Min      float64
	Max      float64
	BinWidth float64
	NumBins  int
}

// Histogram counts timer samples into the fixed grid described by its config.
type Histogram struct {
	Config *HistogramConfig
	Counts []uint32
}

// NewHistogram initialises an empty histogram for the given config.
func NewHistogram(conf *HistogramConfig) *Histogram {
	return &Histogram{
		Config: conf,
		Counts: make([]uint32, conf.NumBins),
	}
}

// Add counts a sample into its bucket.
func (h *Histogram) Add(v float64) {
	conf := h.Config
	switch {
	case v < conf.Min:
		h.Counts[0]++
	case v >= conf.Max:
		h.Counts[conf.NumBins-1]++
	default:
		h.Counts[1+int((v-conf.Min)/conf.BinWidth)]++
	}
}

// HistogramResolver maps a metric name to its histogram config, or nil if
// the timer is not histogrammed. Resolution is configuration driven and
// constant for the process lifetime.
type HistogramResolver interface {
	Resolve(name string) *HistogramConfig
}

// HistogramResolverFunc type is an adapter to allow the use of ordinary
// functions as HistogramResolver.
type HistogramResolverFunc func(name string) *HistogramConfig

// Resolve calls f(name).
func (f HistogramResolverFunc) Resolve(name string) *HistogramConfig {
	return f(name)
}

type histogramRule struct {
	match StringMatch
	conf  *HistogramConfig
}

type histogramResolver struct {
	rules []histogramRule
}

// Resolve returns the config of the first matching rule.
func (r *histogramResolver) Resolve(name string) *HistogramConfig {
	for _, rule := range r.rules {
		if rule.match.Match(name) {
			return rule.conf
		}
	}
	return nil
}

// newHistogramConfig validates the grid parameters. A grid with fewer than
// one linear bin (three total including floor and ceiling) is rejected.
func newHistogramConfig(min, max, width float64) (*HistogramConfig, error) {
	if width <= 0 {
		return nil, fmt.Errorf("histogram bin width must be positive, got %v", width)
	}
	if max <= min {
		return nil, fmt.Errorf("histogram max (%v) must be greater than min (%v)", max, min)
	}
	numBins := int((max-min)/width) + 2
	if numBins < 3 {
		return nil, fmt.Errorf("histogram [%v, %v) by %v has no bins", min, max, width)
	}
	return &HistogramConfig{
		Min:      min,
		Max:      max,
		BinWidth: width,
		NumBins:  numBins,
	}, nil
}

// NewHistogramResolverFromViper builds the resolver from the "histograms"
// sub-configuration, a list of entries of the form:
//
//	histograms:
//	  - match: "api.*"
//	    min: 0
//	    max: 200
//	    width: 10
func NewHistogramResolverFromViper(v *viper.Viper) (HistogramResolver, error) {
	var entries []struct {
		Match string
		Min   float64
		Max   float64
		Width float64
	}
	if err := v.UnmarshalKey(ParamHistograms, &entries); err != nil {
		return nil, fmt.Errorf("failed to read %s: %v", ParamHistograms, err)
	}
	rules := make([]histogramRule, 0, len(entries))
	for _, e := range entries {
		if e.Match == "" {
			return nil, fmt.Errorf("histogram entry is missing a match pattern")
		}
		conf, err := newHistogramConfig(e.Min, e.Max, e.Width)
		if err != nil {
			return nil, fmt.Errorf("histogram %q: %v", e.Match, err)
		}
		rules = append(rules, histogramRule{
			match: NewStringMatch(e.Match),
			conf:  conf,
		})
	}
	return &histogramResolver{rules: rules}, nil
}
