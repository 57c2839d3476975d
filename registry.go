package statsite

import (
	"sync"
	"time"
)

// RegistryOptions carries the accumulator configuration shared by every
// registry created over the life of the process.
type RegistryOptions struct {
	NewSketch    QuantileSketchFactory
	NewEstimator CardinalityEstimatorFactory
	Histograms   HistogramResolver
}

// Entry is a typed accumulator slot in a Registry. Exactly one accumulator
// field is set, according to Type.
type Entry struct {
	Type    MetricType
	Counter *Counter
	Timer   *Timer
	Gauge   *Gauge
	Set     *Set
	KeyVal  *KeyVal
}

// Registry is the per-epoch metrics table: a mapping from metric name to a
// typed accumulator. It is mutated by ingress for the duration of one epoch,
// becomes immutable at rotation, is walked once by the serializer and then
// destroyed. The metric type of a name is fixed at first insertion; a sample
// re-using a name with a different type is dropped.
type Registry struct {
	opts    RegistryOptions
	created time.Time

	mu      sync.Mutex
	entries map[string]*Entry
}

// NewRegistry creates an empty registry. created is the start of the epoch
// and is shared by every accumulator in the table.
func NewRegistry(opts RegistryOptions, created time.Time) *Registry {
	return &Registry{
		opts:    opts,
		created: created,
		entries: make(map[string]*Entry),
	}
}

// Created returns the start of the registry's epoch.
func (r *Registry) Created() time.Time {
	return r.created
}

// AddSample folds a numeric sample into the named accumulator, creating it
// on first sight. GAUGEDELTA adds to the existing gauge (starting from 0 if
// absent) while GAUGE replaces it. Returns false if the name is already
// bound to a different metric type.
func (r *Registry) AddSample(mtype MetricType, name string, value float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Gauges and their deltas share one accumulator.
	entryType := mtype
	if entryType == GAUGEDELTA {
		entryType = GAUGE
	}

	e := r.entries[name]
	if e == nil {
		e = r.newEntry(entryType, name)
		r.entries[name] = e
	} else if e.Type != entryType {
		return false
	}

	switch mtype {
	case KEYVAL:
		e.KeyVal.Add(value)
	case COUNTER:
		e.Counter.Add(value)
	case TIMER:
		e.Timer.Add(value)
	case GAUGE:
		e.Gauge.Set(value)
	case GAUGEDELTA:
		e.Gauge.Delta(value)
	}
	return true
}

// SetUpdate folds a member into the named set accumulator.
func (r *Registry) SetUpdate(name, member string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entries[name]
	if e == nil {
		e = r.newEntry(SET, name)
		r.entries[name] = e
	} else if e.Type != SET {
		return false
	}
	e.Set.Add(member)
	return true
}

func (r *Registry) newEntry(mtype MetricType, name string) *Entry {
	e := &Entry{Type: mtype}
	switch mtype {
	case KEYVAL:
		e.KeyVal = &KeyVal{}
	case COUNTER:
		e.Counter = &Counter{}
	case TIMER:
		var conf *HistogramConfig
		if r.opts.Histograms != nil {
			conf = r.opts.Histograms.Resolve(name)
		}
		e.Timer = NewTimer(r.opts.NewSketch(), conf)
	case GAUGE:
		e.Gauge = &Gauge{}
	case SET:
		e.Set = NewSet(r.opts.NewEstimator())
	}
	return e
}

// Each visits every entry in unspecified order, stopping at the first error.
// It must only be used after the registry has been retired by a rotation.
func (r *Registry) Each(f func(name string, e *Entry) error) error {
	for name, e := range r.entries {
		if err := f(name, e); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of metrics in the table.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Destroy releases the table. The registry must not be used afterwards.
func (r *Registry) Destroy() {
	r.entries = nil
}
